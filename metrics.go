package credguard

import (
	internalmetrics "github.com/MrEthical07/credguard/internal/metrics"
)

// MetricID identifies a specific counter or histogram in the in-process
// metrics system.
type MetricID = internalmetrics.MetricID

const (
	// MetricAuthSuccess is an exported constant or variable used by the authentication engine.
	MetricAuthSuccess = internalmetrics.MetricAuthSuccess
	// MetricAuthFailure is an exported constant or variable used by the authentication engine.
	MetricAuthFailure = internalmetrics.MetricAuthFailure
	// MetricAuthLocked is an exported constant or variable used by the authentication engine.
	MetricAuthLocked = internalmetrics.MetricAuthLocked
	// MetricLockoutTriggered is an exported constant or variable used by the authentication engine.
	MetricLockoutTriggered = internalmetrics.MetricLockoutTriggered
	// MetricAdminUnlock is an exported constant or variable used by the authentication engine.
	MetricAdminUnlock = internalmetrics.MetricAdminUnlock
	// MetricPasswordChangeSuccess is an exported constant or variable used by the authentication engine.
	MetricPasswordChangeSuccess = internalmetrics.MetricPasswordChangeSuccess
	// MetricPasswordChangeInvalidCurrent is an exported constant or variable used by the authentication engine.
	MetricPasswordChangeInvalidCurrent = internalmetrics.MetricPasswordChangeInvalidCurrent
	// MetricPasswordPolicyRejected is an exported constant or variable used by the authentication engine.
	MetricPasswordPolicyRejected = internalmetrics.MetricPasswordPolicyRejected
	// MetricPasswordReuseRejected is an exported constant or variable used by the authentication engine.
	MetricPasswordReuseRejected = internalmetrics.MetricPasswordReuseRejected
	// MetricPasswordForcedChange is an exported constant or variable used by the authentication engine.
	MetricPasswordForcedChange = internalmetrics.MetricPasswordForcedChange
	// MetricTemporaryPasswordIssued is an exported constant or variable used by the authentication engine.
	MetricTemporaryPasswordIssued = internalmetrics.MetricTemporaryPasswordIssued
	// MetricPasswordRehashed is an exported constant or variable used by the authentication engine.
	MetricPasswordRehashed = internalmetrics.MetricPasswordRehashed
	// MetricTokenIssued is an exported constant or variable used by the authentication engine.
	MetricTokenIssued = internalmetrics.MetricTokenIssued
	// MetricTokenVerifyFailure is an exported constant or variable used by the authentication engine.
	MetricTokenVerifyFailure = internalmetrics.MetricTokenVerifyFailure
	// MetricTokenRevoked is an exported constant or variable used by the authentication engine.
	MetricTokenRevoked = internalmetrics.MetricTokenRevoked
	// MetricRefreshSuccess is an exported constant or variable used by the authentication engine.
	MetricRefreshSuccess = internalmetrics.MetricRefreshSuccess
	// MetricRefreshFailure is an exported constant or variable used by the authentication engine.
	MetricRefreshFailure = internalmetrics.MetricRefreshFailure
	// MetricEmailChangeInitiate is an exported constant or variable used by the authentication engine.
	MetricEmailChangeInitiate = internalmetrics.MetricEmailChangeInitiate
	// MetricEmailChangeSuccess is an exported constant or variable used by the authentication engine.
	MetricEmailChangeSuccess = internalmetrics.MetricEmailChangeSuccess
	// MetricEmailChangeFailure is an exported constant or variable used by the authentication engine.
	MetricEmailChangeFailure = internalmetrics.MetricEmailChangeFailure
	// MetricDeletionInitiate is an exported constant or variable used by the authentication engine.
	MetricDeletionInitiate = internalmetrics.MetricDeletionInitiate
	// MetricDeletionSuccess is an exported constant or variable used by the authentication engine.
	MetricDeletionSuccess = internalmetrics.MetricDeletionSuccess
	// MetricDeletionFailure is an exported constant or variable used by the authentication engine.
	MetricDeletionFailure = internalmetrics.MetricDeletionFailure
	// MetricDeletionBlocked is an exported constant or variable used by the authentication engine.
	MetricDeletionBlocked = internalmetrics.MetricDeletionBlocked
	// MetricConfirmationSwept is an exported constant or variable used by the authentication engine.
	MetricConfirmationSwept = internalmetrics.MetricConfirmationSwept
	// MetricHashLatency is an exported constant or variable used by the authentication engine.
	MetricHashLatency = internalmetrics.MetricHashLatency
)

// Metrics holds atomic counters and the optional hashing latency histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a new [Metrics] instance configured by the given
// [MetricsConfig]. When Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
