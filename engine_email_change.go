package credguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credguard/confirmation"
	"github.com/MrEthical07/credguard/internal/flows"
)

// InitiateEmailChange describes the initiateemailchange operation and its observable behavior.
//
// InitiateEmailChange may return an error when input validation, dependency calls, or security checks fail.
// InitiateEmailChange stores a pending confirmation token, superseding any earlier one.
func (e *Engine) InitiateEmailChange(ctx context.Context, subjectID, newEmail string) (*EmailChangeInitiation, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunInitiateEmailChange(ctx, subjectID, newEmail, e.emailChangeFlowDeps())
	if err != nil {
		return nil, err
	}
	return &EmailChangeInitiation{
		Token:     res.Token,
		NewEmail:  res.NewEmail,
		ExpiresAt: res.ExpiresAt,
	}, nil
}

// ConfirmEmailChange describes the confirmemailchange operation and its observable behavior.
//
// ConfirmEmailChange may return an error when input validation, dependency calls, or security checks fail.
// ConfirmEmailChange consumes the token and updates the stored email.
func (e *Engine) ConfirmEmailChange(ctx context.Context, token string) (*EmailChangeResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunConfirmEmailChange(ctx, token, e.emailChangeFlowDeps())
	if err != nil {
		return nil, err
	}
	return &EmailChangeResult{
		SubjectID: res.SubjectID,
		OldEmail:  res.OldEmail,
		NewEmail:  res.NewEmail,
	}, nil
}

// CancelEmailChange drops the pending email change for subjectID, if any.
func (e *Engine) CancelEmailChange(ctx context.Context, subjectID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	return flows.RunCancelEmailChange(ctx, subjectID, e.emailChangeFlowDeps())
}

func (e *Engine) emailChangeFlowDeps() flows.EmailChangeDeps {
	deps := flows.EmailChangeDeps{
		TokenTTL: e.config.EmailChange.TokenTTL,
		BaseURL:  e.config.EmailChange.BaseURL,
		Now:      e.now,
		ValidateEmail: func(email string) error {
			return e.validate.Var(email, "required,email,max=254")
		},
		IsEmailInUse: func(err error) bool {
			return errors.Is(err, ErrEmailInUse)
		},
		IsNotFound: isNotFound,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: flows.EmailChangeMetrics{
			EmailChangeInitiate: int(MetricEmailChangeInitiate),
			EmailChangeSuccess:  int(MetricEmailChangeSuccess),
			EmailChangeFailure:  int(MetricEmailChangeFailure),
		},
		Events: flows.EmailChangeEvents{
			Initiate: auditEventEmailChangeInitiate,
			Confirm:  auditEventEmailChangeConfirm,
			Cancel:   auditEventEmailChangeCancel,
		},
		Errors: flows.EmailChangeErrors{
			EngineNotReady:     ErrEngineNotReady,
			PersonNotFound:     ErrPersonNotFound,
			EmailInvalid:       ErrEmailInvalid,
			EmailUnchanged:     ErrEmailUnchanged,
			EmailInUse:         ErrEmailInUse,
			TokenInvalid:       ErrTokenInvalid,
			NotificationFailed: ErrNotificationFailed,
			Unavailable:        ErrConfirmationUnavailable,
		},
	}

	if e.identities != nil {
		deps.GetIdentity = func(ctx context.Context, subjectID string) (*flows.EmailChangeIdentity, error) {
			id, err := e.getIdentity(ctx, subjectID)
			if err != nil || id == nil {
				return nil, err
			}
			return &flows.EmailChangeIdentity{
				SubjectID: id.SubjectID,
				Email:     id.Email,
				FirstName: id.FirstName,
			}, nil
		}
		deps.LookupByEmail = func(ctx context.Context, email string) (string, bool, error) {
			id, err := e.identities.GetIdentityByEmail(ctx, email)
			if err != nil {
				if isNotFound(err) {
					return "", false, nil
				}
				return "", false, err
			}
			return id.SubjectID, true, nil
		}
		deps.UpdateEmail = e.identities.UpdateEmail
	}
	if e.confirmations != nil {
		deps.CreateToken = e.confirmationCreator(confirmation.PurposeEmailChange)
		deps.ConsumeToken = e.confirmationConsumer(confirmation.PurposeEmailChange)
		deps.CancelToken = e.confirmationCanceller(confirmation.PurposeEmailChange)
	}
	if e.notifier != nil {
		deps.Notify = e.notifier.Send
	}

	return deps
}

func (e *Engine) confirmationCreator(purpose confirmation.Purpose) func(context.Context, string, map[string]string, time.Duration) (string, error) {
	return func(ctx context.Context, subjectID string, payload map[string]string, ttl time.Duration) (string, error) {
		tok, err := e.confirmations.Create(ctx, purpose, subjectID, payload, ttl)
		if err != nil {
			e.logger.Error().Err(err).Str("purpose", purpose.String()).Msg("confirmation token create failed")
			return "", fmt.Errorf("%w: %v", ErrConfirmationUnavailable, err)
		}
		return tok, nil
	}
}

func (e *Engine) confirmationConsumer(purpose confirmation.Purpose) func(context.Context, string) (confirmation.Result, error) {
	return func(ctx context.Context, token string) (confirmation.Result, error) {
		res, err := e.confirmations.Consume(ctx, token, purpose)
		if err != nil {
			e.logger.Error().Err(err).Str("purpose", purpose.String()).Msg("confirmation token consume failed")
			return confirmation.Result{}, fmt.Errorf("%w: %v", ErrConfirmationUnavailable, err)
		}
		return res, nil
	}
}

func (e *Engine) confirmationCanceller(purpose confirmation.Purpose) func(context.Context, string) (bool, error) {
	return func(ctx context.Context, subjectID string) (bool, error) {
		ok, err := e.confirmations.Cancel(ctx, purpose, subjectID)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrConfirmationUnavailable, err)
		}
		return ok, nil
	}
}
