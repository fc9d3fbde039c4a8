// Package lockout models per-subject failed-authentication tracking.
//
// A [State] is Open while its lock is absent or elapsed, and Locked while
// LockedUntil lies in the future. Elapsed locks are treated as Open on read
// without clearing FailedAttempts; only [State.Reset] clears the counter, so
// the first failure after a lock expires locks the subject again.
//
// # What this package must NOT do
//
//   - Perform I/O. Persistence lives in internal/limiters.
//   - Decide what the caller is told about a lock.
package lockout

import "time"

// Defaults applied by Policy.normalized.
const (
	DefaultThreshold = 5
	DefaultDuration  = 15 * time.Minute

	// MaxTrackedIPs bounds State.IPs.
	MaxTrackedIPs = 10
)

// Policy configures when a subject becomes locked and for how long.
type Policy struct {
	Threshold uint32
	Duration  time.Duration
}

// DefaultPolicy returns five failures and a fifteen minute lock.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, Duration: DefaultDuration}
}

func (p Policy) normalized() Policy {
	if p.Threshold == 0 {
		p.Threshold = DefaultThreshold
	}
	if p.Duration <= 0 {
		p.Duration = DefaultDuration
	}
	return p
}

// State is the lockout record for one subject.
type State struct {
	FailedAttempts uint32
	LockedUntil    *time.Time
	LastAttemptAt  time.Time
	IPs            []string
}

// Status is a read-only view of a State at an instant.
type Status struct {
	Locked         bool
	FailedAttempts uint32
	LockedUntil    *time.Time
	RemainingLock  time.Duration
	LastAttemptAt  time.Time
	IPs            []string
}

// IsLocked reports whether LockedUntil is set and after now.
func (s State) IsLocked(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// RecordFailure returns the state after one more failed attempt at now.
// Crossing the threshold sets LockedUntil to now plus the policy duration.
func (s State) RecordFailure(p Policy, now time.Time, ip string) State {
	p = p.normalized()

	next := State{
		FailedAttempts: s.FailedAttempts + 1,
		LockedUntil:    s.LockedUntil,
		LastAttemptAt:  now,
		IPs:            appendIP(s.IPs, ip),
	}
	if next.FailedAttempts >= p.Threshold {
		until := now.Add(p.Duration)
		next.LockedUntil = &until
	}
	return next
}

// Reset returns the Open state with a zero counter. Used on successful
// authentication and administrative unlock.
func (s State) Reset() State {
	return State{}
}

// Status describes s at now.
func (s State) Status(now time.Time) Status {
	st := Status{
		Locked:         s.IsLocked(now),
		FailedAttempts: s.FailedAttempts,
		LockedUntil:    s.LockedUntil,
		LastAttemptAt:  s.LastAttemptAt,
		IPs:            append([]string(nil), s.IPs...),
	}
	if st.Locked {
		st.RemainingLock = s.LockedUntil.Sub(now)
	}
	return st
}

func appendIP(ips []string, ip string) []string {
	out := append([]string(nil), ips...)
	if ip == "" {
		return out
	}
	for _, existing := range out {
		if existing == ip {
			return out
		}
	}
	out = append(out, ip)
	if len(out) > MaxTrackedIPs {
		out = out[len(out)-MaxTrackedIPs:]
	}
	return out
}
