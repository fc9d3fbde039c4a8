package credguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/credguard/confirmation"
	internalaudit "github.com/MrEthical07/credguard/internal/audit"
	"github.com/MrEthical07/credguard/internal/stores"
	"github.com/MrEthical07/credguard/jwt"
	"github.com/MrEthical07/credguard/lockout"
	"github.com/MrEthical07/credguard/password"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// lockoutStore persists lockout.State per subject. Implemented by the Redis
// store in internal/limiters and by lockout.MemoryStore.
type lockoutStore interface {
	Load(ctx context.Context, subjectID string) (lockout.State, error)
	RecordFailure(ctx context.Context, subjectID string, now time.Time, ip string) (lockout.State, error)
	Reset(ctx context.Context, subjectID string) error
}

// Engine defines a public type used by credguard APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config        Config
	hashers       *password.Pool
	policy        password.Policy
	lockouts      lockoutStore
	lockoutPolicy lockout.Policy
	jwtManager    *jwt.Manager
	denylist      *stores.JTIDenylist
	confirmations confirmation.Store
	identities    IdentityStore
	subscriptions SubscriptionLookup
	notifier      Notifier
	validate      *validator.Validate
	audit         *internalaudit.Dispatcher
	metrics       *Metrics
	logger        zerolog.Logger
	now           func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Close describes the close operation and its observable behavior.
//
// Close stops the audit dispatcher. Events emitted afterwards are dropped.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) hash(ctx context.Context, plaintext string) (string, error) {
	ctx, cancel := e.hashContext(ctx)
	defer cancel()

	start := time.Now()
	h, err := e.hashers.Hash(ctx, plaintext)
	e.metrics.Observe(MetricHashLatency, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHashingUnavailable, err)
	}
	return h, nil
}

func (e *Engine) verify(ctx context.Context, plaintext, encodedHash string) (bool, error) {
	ctx, cancel := e.hashContext(ctx)
	defer cancel()

	ok, err := e.hashers.Verify(ctx, plaintext, encodedHash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrHashingUnavailable, err)
	}
	return ok, nil
}

// equalizeTiming runs one verification against a fixed hash so that a
// missing identity costs the same as a wrong password.
func (e *Engine) equalizeTiming(ctx context.Context, plaintext string) {
	e.dummyOnce.Do(func() {
		h, err := e.hashers.Hash(context.Background(), "credguard-absent-identity")
		if err != nil {
			e.logger.Warn().Err(err).Msg("timing hash generation failed")
			return
		}
		e.dummyHash = h
	})
	if e.dummyHash == "" {
		return
	}
	_, _ = e.verify(ctx, plaintext, e.dummyHash)
}

// hashContext bounds the time spent waiting for a hashing slot.
func (e *Engine) hashContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.Password.HashQueueTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.Password.HashQueueTimeout)
}

// getIdentity maps a missing record to (nil, nil) and any other failure to
// ErrCredentialUnavailable.
func (e *Engine) getIdentity(ctx context.Context, subjectID string) (*Identity, error) {
	id, err := e.identities.GetIdentity(ctx, subjectID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		e.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("identity lookup failed")
		return nil, ErrCredentialUnavailable
	}
	return &id, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrPersonNotFound)
}
