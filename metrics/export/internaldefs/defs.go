package internaldefs

import (
	"github.com/MrEthical07/credguard"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   credguard.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   credguard.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for events the audit dispatcher dropped.
const AuditDroppedName = "credguard_audit_dropped_total"

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: credguard.MetricAuthSuccess, Name: "credguard_auth_success_total", Help: "Successful password authentications."},
	{ID: credguard.MetricAuthFailure, Name: "credguard_auth_failure_total", Help: "Failed password authentications."},
	{ID: credguard.MetricAuthLocked, Name: "credguard_auth_locked_total", Help: "Authentications refused because the subject was locked."},
	{ID: credguard.MetricLockoutTriggered, Name: "credguard_lockout_triggered_total", Help: "Failures that locked a subject."},
	{ID: credguard.MetricAdminUnlock, Name: "credguard_admin_unlock_total", Help: "Operator unlocks."},
	{ID: credguard.MetricPasswordChangeSuccess, Name: "credguard_password_change_success_total", Help: "Successful password changes."},
	{ID: credguard.MetricPasswordChangeInvalidCurrent, Name: "credguard_password_change_invalid_current_total", Help: "Password changes rejected for a wrong current password."},
	{ID: credguard.MetricPasswordPolicyRejected, Name: "credguard_password_policy_rejected_total", Help: "Passwords rejected by the policy."},
	{ID: credguard.MetricPasswordReuseRejected, Name: "credguard_password_reuse_rejected_total", Help: "Passwords rejected as reused."},
	{ID: credguard.MetricPasswordForcedChange, Name: "credguard_password_forced_change_total", Help: "Forced password change flags set by operators."},
	{ID: credguard.MetricTemporaryPasswordIssued, Name: "credguard_temporary_password_issued_total", Help: "Temporary passwords issued."},
	{ID: credguard.MetricPasswordRehashed, Name: "credguard_password_rehashed_total", Help: "Hashes upgraded after login."},
	{ID: credguard.MetricTokenIssued, Name: "credguard_token_issued_total", Help: "Session tokens issued."},
	{ID: credguard.MetricTokenVerifyFailure, Name: "credguard_token_verify_failure_total", Help: "Session tokens that failed verification."},
	{ID: credguard.MetricTokenRevoked, Name: "credguard_token_revoked_total", Help: "Session tokens added to the denylist."},
	{ID: credguard.MetricRefreshSuccess, Name: "credguard_refresh_success_total", Help: "Successful refresh operations."},
	{ID: credguard.MetricRefreshFailure, Name: "credguard_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: credguard.MetricEmailChangeInitiate, Name: "credguard_email_change_initiate_total", Help: "Email changes initiated."},
	{ID: credguard.MetricEmailChangeSuccess, Name: "credguard_email_change_success_total", Help: "Email changes confirmed."},
	{ID: credguard.MetricEmailChangeFailure, Name: "credguard_email_change_failure_total", Help: "Email change confirmations that failed."},
	{ID: credguard.MetricDeletionInitiate, Name: "credguard_deletion_initiate_total", Help: "Deletions initiated."},
	{ID: credguard.MetricDeletionSuccess, Name: "credguard_deletion_success_total", Help: "Deletions confirmed."},
	{ID: credguard.MetricDeletionFailure, Name: "credguard_deletion_failure_total", Help: "Deletion confirmations that failed."},
	{ID: credguard.MetricDeletionBlocked, Name: "credguard_deletion_blocked_total", Help: "Deletions blocked by active subscriptions."},
	{ID: credguard.MetricConfirmationSwept, Name: "credguard_confirmation_swept_total", Help: "Expired confirmation tokens removed by the sweeper."},
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: credguard.MetricHashLatency, Name: "credguard_hash_latency_seconds", Help: "Password hash and verify latency."},
}

// HistogramBounds are the upper bounds of the engine's hashing buckets.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundSuffix names each bound in instrument names.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling gaps.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
