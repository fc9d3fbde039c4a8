package credguard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/credguard/lockout"
	"github.com/MrEthical07/credguard/password"
)

// Authenticate describes the authenticate operation and its observable behavior.
//
// Authenticate may return an error when input validation, dependency calls, or security checks fail.
// Authenticate records failed attempts in the lockout store, clears them on success and may
// rewrite a stale password hash. It is safe for concurrent use.
func (e *Engine) Authenticate(ctx context.Context, subjectID, plaintext string) (*AuthResult, error) {
	if e == nil || e.hashers == nil || e.identities == nil {
		return nil, ErrEngineNotReady
	}
	if subjectID == "" || plaintext == "" {
		e.metricInc(MetricAuthFailure)
		e.emitAudit(ctx, auditEventAuthFailure, false, subjectID, ErrInvalidCredentials, reasonMeta("invalid_input"))
		return nil, ErrInvalidCredentials
	}

	now := e.now()
	state, err := e.lockouts.Load(ctx, subjectID)
	if err != nil {
		e.logger.Error().Err(err).Str("subject_id", subjectID).Msg("lockout load failed")
		return nil, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if state.IsLocked(now) {
		e.metricInc(MetricAuthLocked)
		e.emitAudit(ctx, auditEventAuthLocked, false, subjectID, ErrAccountLocked, func() map[string]string {
			return map[string]string{
				"locked_until": state.LockedUntil.UTC().Format(time.RFC3339),
			}
		})
		return nil, e.lockedError(ctx)
	}

	identity, err := e.getIdentity(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		e.equalizeTiming(ctx, plaintext)
		e.metricInc(MetricAuthFailure)
		e.emitAudit(ctx, auditEventAuthFailure, false, subjectID, ErrInvalidCredentials, reasonMeta("person_not_found"))
		return nil, ErrInvalidCredentials
	}

	ok, err := e.verify(ctx, plaintext, identity.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.recordAuthFailure(ctx, subjectID, state, now)
	}

	if !identity.Active {
		e.metricInc(MetricAuthFailure)
		e.emitAudit(ctx, auditEventAuthFailure, false, subjectID, ErrAccountDisabled, reasonMeta("account_disabled"))
		return nil, ErrAccountDisabled
	}

	if state.FailedAttempts > 0 || state.LockedUntil != nil {
		// Reset is best-effort and must not block a successful login.
		if err := e.lockouts.Reset(ctx, subjectID); err != nil {
			e.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("lockout reset failed after successful authentication")
		}
	}

	result := &AuthResult{
		SubjectID:             identity.SubjectID,
		Email:                 identity.Email,
		IsAdmin:               identity.IsAdmin,
		RequirePasswordChange: identity.RequirePasswordChange,
	}
	if e.config.Password.UpgradeOnLogin && e.hashers.NeedsRehash(identity.PasswordHash) {
		result.Rehashed = e.rehash(ctx, identity, plaintext)
	}
	plaintext = ""

	e.metricInc(MetricAuthSuccess)
	e.emitAudit(ctx, auditEventAuthSuccess, true, subjectID, nil, nil)

	return result, nil
}

func (e *Engine) recordAuthFailure(ctx context.Context, subjectID string, before lockout.State, now time.Time) error {
	after, err := e.lockouts.RecordFailure(ctx, subjectID, now, clientIPFromContext(ctx))
	if err != nil {
		e.logger.Error().Err(err).Str("subject_id", subjectID).Msg("lockout record failed")
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	e.metricInc(MetricAuthFailure)
	e.emitAudit(ctx, auditEventAuthFailure, false, subjectID, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{
			"reason":          "password_mismatch",
			"failed_attempts": strconv.FormatUint(uint64(after.FailedAttempts), 10),
		}
	})

	if after.IsLocked(now) && !before.IsLocked(now) {
		e.metricInc(MetricLockoutTriggered)
		e.logger.Warn().Str("subject_id", subjectID).Uint32("failed_attempts", after.FailedAttempts).Msg("account locked")
		e.emitAudit(ctx, auditEventLockoutTriggered, false, subjectID, ErrAccountLocked, func() map[string]string {
			return map[string]string{
				"failed_attempts": strconv.FormatUint(uint64(after.FailedAttempts), 10),
				"locked_until":    after.LockedUntil.UTC().Format(time.RFC3339),
				"ip_addresses":    strings.Join(after.IPs, ","),
			}
		})
		return e.lockedError(ctx)
	}
	return ErrInvalidCredentials
}

// lockedError hides the lock from anonymous callers.
func (e *Engine) lockedError(ctx context.Context) error {
	if _, ok := operatorFromContext(ctx); ok {
		return ErrAccountLocked
	}
	return ErrInvalidCredentials
}

func (e *Engine) rehash(ctx context.Context, identity *Identity, plaintext string) bool {
	upgraded, err := e.hash(ctx, plaintext)
	if err != nil {
		e.logger.Warn().Err(err).Str("subject_id", identity.SubjectID).Msg("password rehash generation failed")
		return false
	}

	history := append([]string(nil), identity.PasswordHistory...)
	if len(history) > 0 && history[0] == identity.PasswordHash {
		history[0] = upgraded
	}
	err = e.identities.UpdateCredential(ctx, identity.SubjectID, CredentialUpdate{
		PasswordHash:          upgraded,
		PasswordHistory:       history,
		RequirePasswordChange: identity.RequirePasswordChange,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("subject_id", identity.SubjectID).Msg("password rehash update failed")
		return false
	}

	e.metricInc(MetricPasswordRehashed)
	e.emitAudit(ctx, auditEventPasswordRehashed, true, identity.SubjectID, nil, nil)
	return true
}

// AdminUnlock clears the lockout record for subjectID.
func (e *Engine) AdminUnlock(ctx context.Context, subjectID, operatorID string) error {
	if e == nil || e.lockouts == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" || operatorID == "" {
		return ErrInvalidRequest
	}
	ctx = WithOperator(ctx, operatorID)

	before, err := e.lockouts.Load(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if err := e.lockouts.Reset(ctx, subjectID); err != nil {
		e.emitAudit(ctx, auditEventAdminUnlock, false, subjectID, ErrLockoutUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	e.metricInc(MetricAdminUnlock)
	e.emitAudit(ctx, auditEventAdminUnlock, true, subjectID, nil, func() map[string]string {
		return map[string]string{
			"was_locked":      strconv.FormatBool(before.IsLocked(e.now())),
			"failed_attempts": strconv.FormatUint(uint64(before.FailedAttempts), 10),
		}
	})
	return nil
}

// LockoutStatus returns the lockout view for subjectID. The caller must
// carry an operator context (see WithOperator).
func (e *Engine) LockoutStatus(ctx context.Context, subjectID string) (LockoutStatus, error) {
	if e == nil || e.lockouts == nil {
		return LockoutStatus{}, ErrEngineNotReady
	}
	if _, ok := operatorFromContext(ctx); !ok || subjectID == "" {
		return LockoutStatus{}, ErrInvalidRequest
	}
	state, err := e.lockouts.Load(ctx, subjectID)
	if err != nil {
		return LockoutStatus{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return state.Status(e.now()), nil
}

// UpdatePassword describes the updatepassword operation and its observable behavior.
//
// UpdatePassword may return an error when input validation, dependency calls, or security checks fail.
// UpdatePassword writes the new hash and history through the IdentityStore.
func (e *Engine) UpdatePassword(ctx context.Context, subjectID, currentPassword, newPassword string) (*PasswordChangeResult, error) {
	if e == nil || e.hashers == nil || e.identities == nil {
		return nil, ErrEngineNotReady
	}
	if subjectID == "" {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, subjectID, ErrInvalidRequest, reasonMeta("invalid_input"))
		return nil, ErrInvalidRequest
	}

	identity, err := e.getIdentity(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, subjectID, ErrInvalidCredentials, reasonMeta("person_not_found"))
		return nil, ErrInvalidCredentials
	}

	ok, err := e.verify(ctx, currentPassword, identity.PasswordHash)
	if err != nil {
		return nil, err
	}
	if currentPassword == "" || !ok {
		e.metricInc(MetricPasswordChangeInvalidCurrent)
		e.emitAudit(ctx, auditEventPasswordChangeInvalidCurrent, false, subjectID, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if err := e.checkPolicy(ctx, identity, newPassword); err != nil {
		return nil, err
	}
	if err := e.checkReuse(ctx, identity, newPassword); err != nil {
		return nil, err
	}

	newHash, err := e.hash(ctx, newPassword)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, subjectID, err, reasonMeta("hash_failed"))
		return nil, err
	}

	update := CredentialUpdate{
		PasswordHash:          newHash,
		PasswordHistory:       e.rotateHistory(identity, newHash),
		RequirePasswordChange: false,
	}
	if err := e.identities.UpdateCredential(ctx, subjectID, update); err != nil {
		e.logger.Error().Err(err).Str("subject_id", subjectID).Msg("credential update failed")
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, subjectID, ErrCredentialUnavailable, reasonMeta("update_failed"))
		return nil, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	// Lockout reset is best-effort and must not block a successful change.
	if err := e.lockouts.Reset(ctx, subjectID); err != nil {
		e.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("lockout reset failed after password change")
	}

	currentPassword = ""
	newPassword = ""
	changedAt := e.now()
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, subjectID, nil, nil)

	return &PasswordChangeResult{
		SubjectID:     subjectID,
		ChangedAt:     changedAt,
		RequireReauth: true,
	}, nil
}

// ValidatePasswordChangeRequest checks the current password without
// changing anything. It returns ErrInvalidCredentials on mismatch.
func (e *Engine) ValidatePasswordChangeRequest(ctx context.Context, subjectID, currentPassword string) error {
	if e == nil || e.hashers == nil || e.identities == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" || currentPassword == "" {
		return ErrInvalidCredentials
	}
	identity, err := e.getIdentity(ctx, subjectID)
	if err != nil {
		return err
	}
	if identity == nil {
		return ErrInvalidCredentials
	}
	ok, err := e.verify(ctx, currentPassword, identity.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricPasswordChangeInvalidCurrent)
		e.emitAudit(ctx, auditEventPasswordChangeInvalidCurrent, false, subjectID, ErrInvalidCredentials, reasonMeta("validation_only"))
		return ErrInvalidCredentials
	}
	return nil
}

// CheckPasswordHistory reports whether candidate differs from the current
// password and every retained prior password.
func (e *Engine) CheckPasswordHistory(ctx context.Context, subjectID, candidate string) (PasswordHistoryCheck, error) {
	if e == nil || e.hashers == nil || e.identities == nil {
		return PasswordHistoryCheck{}, ErrEngineNotReady
	}
	identity, err := e.getIdentity(ctx, subjectID)
	if err != nil {
		return PasswordHistoryCheck{}, err
	}
	if identity == nil {
		return PasswordHistoryCheck{}, ErrPersonNotFound
	}
	allowed, reason, err := e.hashers.CanUse(ctx, candidate, reuseCandidates(identity))
	if err != nil {
		return PasswordHistoryCheck{}, fmt.Errorf("%w: %v", ErrHashingUnavailable, err)
	}
	return PasswordHistoryCheck{Allowed: allowed, Reason: reason}, nil
}

// ForcePasswordChange flags subjectID so the next login must set a new
// password.
func (e *Engine) ForcePasswordChange(ctx context.Context, subjectID, operatorID string) error {
	if e == nil || e.identities == nil {
		return ErrEngineNotReady
	}
	if subjectID == "" || operatorID == "" {
		return ErrInvalidRequest
	}
	ctx = WithOperator(ctx, operatorID)

	identity, err := e.getIdentity(ctx, subjectID)
	if err != nil {
		return err
	}
	if identity == nil {
		e.emitAudit(ctx, auditEventPasswordForceChange, false, subjectID, ErrPersonNotFound, nil)
		return ErrPersonNotFound
	}

	err = e.identities.UpdateCredential(ctx, subjectID, CredentialUpdate{
		PasswordHash:          identity.PasswordHash,
		PasswordHistory:       identity.PasswordHistory,
		RequirePasswordChange: true,
	})
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordForceChange, false, subjectID, ErrCredentialUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	e.metricInc(MetricPasswordForcedChange)
	e.emitAudit(ctx, auditEventPasswordForceChange, true, subjectID, nil, nil)
	return nil
}

// GenerateTemporaryPassword replaces the password of subjectID with a
// random one that satisfies the policy, requires a change on next login,
// and clears any lockout. The plaintext is returned once and never logged.
func (e *Engine) GenerateTemporaryPassword(ctx context.Context, subjectID, operatorID string, length int) (*TemporaryPassword, error) {
	if e == nil || e.hashers == nil || e.identities == nil {
		return nil, ErrEngineNotReady
	}
	if subjectID == "" || operatorID == "" {
		return nil, ErrInvalidRequest
	}
	ctx = WithOperator(ctx, operatorID)

	identity, err := e.getIdentity(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		e.emitAudit(ctx, auditEventTemporaryPasswordIssued, false, subjectID, ErrPersonNotFound, nil)
		return nil, ErrPersonNotFound
	}

	if length <= 0 {
		length = e.config.Password.GeneratedLength
	}
	temp, err := password.GenerateBounded(length, e.config.Password.MinLength, e.policy.Limit())
	if err != nil {
		return nil, err
	}
	newHash, err := e.hash(ctx, temp)
	if err != nil {
		return nil, err
	}

	err = e.identities.UpdateCredential(ctx, subjectID, CredentialUpdate{
		PasswordHash:          newHash,
		PasswordHistory:       e.rotateHistory(identity, newHash),
		RequirePasswordChange: true,
	})
	if err != nil {
		e.emitAudit(ctx, auditEventTemporaryPasswordIssued, false, subjectID, ErrCredentialUnavailable, nil)
		return nil, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	if err := e.lockouts.Reset(ctx, subjectID); err != nil {
		e.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("lockout reset failed after temporary password")
	}

	issuedAt := e.now()
	e.metricInc(MetricTemporaryPasswordIssued)
	e.emitAudit(ctx, auditEventTemporaryPasswordIssued, true, subjectID, nil, func() map[string]string {
		return map[string]string{"length": strconv.Itoa(len(temp))}
	})

	return &TemporaryPassword{
		SubjectID: subjectID,
		Password:  temp,
		IssuedAt:  issuedAt,
	}, nil
}

func (e *Engine) checkPolicy(ctx context.Context, identity *Identity, candidate string) error {
	policy := e.policy
	policy.UserInputs = []string{identity.Email, identity.FirstName, identity.LastName}
	ok, violations := policy.Validate(candidate)
	if ok {
		return nil
	}

	err := &PolicyViolationError{Violations: violations}
	e.metricInc(MetricPasswordPolicyRejected)
	e.emitAudit(ctx, auditEventPasswordChangePolicy, false, identity.SubjectID, err, func() map[string]string {
		codes := make([]string, 0, len(violations))
		for _, v := range violations {
			codes = append(codes, v.Code)
		}
		return map[string]string{"violations": strings.Join(codes, ",")}
	})
	return err
}

func (e *Engine) checkReuse(ctx context.Context, identity *Identity, candidate string) error {
	allowed, _, err := e.hashers.CanUse(ctx, candidate, reuseCandidates(identity))
	if err != nil {
		if errors.Is(err, password.ErrPoolTimeout) {
			return fmt.Errorf("%w: %v", ErrHashingUnavailable, err)
		}
		return err
	}
	if !allowed {
		e.metricInc(MetricPasswordReuseRejected)
		e.emitAudit(ctx, auditEventPasswordChangeReuse, false, identity.SubjectID, ErrPasswordReused, nil)
		return ErrPasswordReused
	}
	return nil
}

// rotateHistory records newHash as the newest entry. Identities created
// outside the engine may not carry their current hash in history yet; it is
// added first so it cannot be reused on the next change.
func (e *Engine) rotateHistory(identity *Identity, newHash string) []string {
	size := e.config.Password.HistorySize
	history := identity.PasswordHistory
	if identity.PasswordHash != "" && (len(history) == 0 || history[0] != identity.PasswordHash) {
		history = password.Push(history, identity.PasswordHash, size)
	}
	return password.Push(history, newHash, size)
}

// reuseCandidates is the current hash followed by history, without
// duplicates. After a rotation the current hash is also history[0].
func reuseCandidates(identity *Identity) []string {
	out := make([]string, 0, len(identity.PasswordHistory)+1)
	seen := make(map[string]struct{}, len(identity.PasswordHistory)+1)
	for _, h := range append([]string{identity.PasswordHash}, identity.PasswordHistory...) {
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

func reasonMeta(reason string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": reason}
	}
}
