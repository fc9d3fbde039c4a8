package credguard

import (
	"context"
	"errors"

	internalaudit "github.com/MrEthical07/credguard/internal/audit"
	"github.com/MrEthical07/credguard/password"
)

const (
	auditEventAuthSuccess                  = "auth_success"
	auditEventAuthFailure                  = "auth_failure"
	auditEventAuthLocked                   = "auth_locked"
	auditEventLockoutTriggered             = "lockout_triggered"
	auditEventAdminUnlock                  = "admin_unlock"
	auditEventPasswordRehashed             = "password_rehashed"
	auditEventPasswordChangeSuccess        = "password_change_success"
	auditEventPasswordChangeInvalidCurrent = "password_change_invalid_current"
	auditEventPasswordChangePolicy         = "password_change_policy_rejected"
	auditEventPasswordChangeReuse          = "password_change_reuse_attempt"
	auditEventPasswordChangeFailure        = "password_change_failure"
	auditEventPasswordForceChange          = "password_force_change"
	auditEventTemporaryPasswordIssued      = "temporary_password_issued"
	auditEventLoginSuccess                 = "login_success"
	auditEventLoginFailure                 = "login_failure"
	auditEventRefreshSuccess               = "refresh_success"
	auditEventRefreshInvalid               = "refresh_invalid"
	auditEventTokenRevoked                 = "token_revoked"
	auditEventEmailChangeInitiate          = "email_change_initiate"
	auditEventEmailChangeConfirm           = "email_change_confirm"
	auditEventEmailChangeCancel            = "email_change_cancel"
	auditEventDeletionInitiate             = "deletion_initiate"
	auditEventDeletionConfirm              = "deletion_confirm"
	auditEventDeletionCancel               = "deletion_cancel"
	auditEventConfirmationSweep            = "confirmation_sweep"
)

// AuditErrorCode defines a public type used by credguard APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReused     AuditErrorCode = "password_reused"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrRequesterMismatch  AuditErrorCode = "requester_mismatch"
	auditErrIntegrity          AuditErrorCode = "referential_integrity"
	auditErrPersonNotFound     AuditErrorCode = "person_not_found"
	auditErrInvalidRequest     AuditErrorCode = "invalid_request"
	auditErrEmailUnchanged     AuditErrorCode = "email_unchanged"
	auditErrEmailInUse         AuditErrorCode = "email_in_use"
	auditErrEmailInvalid       AuditErrorCode = "email_invalid"
	auditErrNotificationFailed AuditErrorCode = "notification_failed"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subjectID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	actor, _ := operatorFromContext(ctx)
	event := AuditEvent{
		EventType: eventType,
		SubjectID: subjectID,
		ActorID:   actor,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		RequestID: requestIDFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReused):
		return auditErrPasswordReused
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrRequesterMismatch):
		return auditErrRequesterMismatch
	case errors.Is(err, ErrReferentialIntegrity):
		return auditErrIntegrity
	case errors.Is(err, ErrPersonNotFound):
		return auditErrPersonNotFound
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrEmailUnchanged):
		return auditErrEmailUnchanged
	case errors.Is(err, ErrEmailInUse):
		return auditErrEmailInUse
	case errors.Is(err, ErrEmailInvalid):
		return auditErrEmailInvalid
	case errors.Is(err, ErrNotificationFailed):
		return auditErrNotificationFailed
	case errors.Is(err, ErrConfirmationUnavailable),
		errors.Is(err, ErrLockoutUnavailable),
		errors.Is(err, ErrCredentialUnavailable),
		errors.Is(err, ErrHashingUnavailable),
		errors.Is(err, password.ErrPoolTimeout):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *internalaudit.Dispatcher {
	return internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}
