package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/credguard/lockout"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// recordFailureScript increments the counter and applies the lock in one
// round trip so concurrent failures cannot skip the threshold.
//
// KEYS[1] state hash, KEYS[2] ip list
// ARGV[1] now (unix ms), ARGV[2] threshold, ARGV[3] lock expiry (unix ms),
// ARGV[4] ip or "", ARGV[5] max tracked ips
var recordFailureScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], 'n', 1)
redis.call('HSET', KEYS[1], 'last', ARGV[1])
if n >= tonumber(ARGV[2]) then
  redis.call('HSET', KEYS[1], 'until', ARGV[3])
end
if ARGV[4] ~= '' then
  redis.call('LREM', KEYS[2], 0, ARGV[4])
  redis.call('RPUSH', KEYS[2], ARGV[4])
  redis.call('LTRIM', KEYS[2], -tonumber(ARGV[5]), -1)
end
return n
`)

// LockoutStore persists lockout.State records in Redis.
type LockoutStore struct {
	redis  redis.UniversalClient
	policy lockout.Policy
	prefix string
}

// NewLockoutStore creates a Redis lockout store. An empty prefix selects "clo".
func NewLockoutStore(redisClient redis.UniversalClient, policy lockout.Policy, prefix string) *LockoutStore {
	if prefix == "" {
		prefix = "clo"
	}
	if policy.Threshold == 0 {
		policy.Threshold = lockout.DefaultThreshold
	}
	if policy.Duration <= 0 {
		policy.Duration = lockout.DefaultDuration
	}
	return &LockoutStore{redis: redisClient, policy: policy, prefix: prefix}
}

// Both keys share a hash tag so the script stays on one cluster slot.
func (l *LockoutStore) keys(subjectID string) (string, string) {
	base := l.prefix + ":{" + subjectID + "}"
	return base, base + ":ip"
}

// Load returns the stored state, or the zero State when none exists.
func (l *LockoutStore) Load(ctx context.Context, subjectID string) (lockout.State, error) {
	if subjectID == "" {
		return lockout.State{}, nil
	}
	stateKey, ipKey := l.keys(subjectID)

	pipe := l.redis.Pipeline()
	fields := pipe.HGetAll(ctx, stateKey)
	ips := pipe.LRange(ctx, ipKey, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return lockout.State{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	return decodeState(fields.Val(), ips.Val()), nil
}

// RecordFailure registers one failed attempt and returns the resulting state.
func (l *LockoutStore) RecordFailure(ctx context.Context, subjectID string, now time.Time, ip string) (lockout.State, error) {
	if subjectID == "" {
		return lockout.State{}, nil
	}
	stateKey, ipKey := l.keys(subjectID)

	err := recordFailureScript.Run(ctx, l.redis, []string{stateKey, ipKey},
		now.UnixMilli(),
		l.policy.Threshold,
		now.Add(l.policy.Duration).UnixMilli(),
		ip,
		lockout.MaxTrackedIPs,
	).Err()
	if err != nil {
		return lockout.State{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	return l.Load(ctx, subjectID)
}

// Reset clears the state for a subject (successful login or admin unlock).
func (l *LockoutStore) Reset(ctx context.Context, subjectID string) error {
	if subjectID == "" {
		return nil
	}
	stateKey, ipKey := l.keys(subjectID)
	if err := l.redis.Del(ctx, stateKey, ipKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

func decodeState(fields map[string]string, ips []string) lockout.State {
	var s lockout.State
	if n, err := strconv.ParseUint(fields["n"], 10, 32); err == nil {
		s.FailedAttempts = uint32(n)
	}
	if ms, err := strconv.ParseInt(fields["last"], 10, 64); err == nil {
		s.LastAttemptAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(fields["until"], 10, 64); err == nil {
		until := time.UnixMilli(ms).UTC()
		s.LockedUntil = &until
	}
	if len(ips) > 0 {
		s.IPs = ips
	}
	return s
}
