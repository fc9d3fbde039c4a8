package credguard

import (
	"context"
	"errors"

	"github.com/MrEthical07/credguard/confirmation"
	"github.com/MrEthical07/credguard/internal/flows"
)

// InitiateDeletion describes the initiatedeletion operation and its observable behavior.
//
// InitiateDeletion may return an error when input validation, dependency calls, or security checks fail.
// A person holding a subscription in a blocking status is refused with an
// [*IntegrityViolationError] and no token is issued.
func (e *Engine) InitiateDeletion(ctx context.Context, subjectID, requesterID, reason string) (*DeletionInitiation, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunInitiateDeletion(ctx, subjectID, requesterID, reason, e.deletionFlowDeps())
	if err != nil {
		return nil, err
	}
	return &DeletionInitiation{Token: res.Token, ExpiresAt: res.ExpiresAt}, nil
}

// ConfirmDeletion describes the confirmdeletion operation and its observable behavior.
//
// ConfirmDeletion may return an error when input validation, dependency calls, or security checks fail.
// The token is spent on the first attempt regardless of the outcome that
// follows; requesterID must match the initiator.
func (e *Engine) ConfirmDeletion(ctx context.Context, token, requesterID string) (*DeletionResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunConfirmDeletion(ctx, token, requesterID, e.deletionFlowDeps())
	if err != nil {
		return nil, err
	}
	return &DeletionResult{
		SubjectID:   res.SubjectID,
		RequesterID: res.RequesterID,
		Reason:      res.Reason,
		DeletedAt:   res.DeletedAt,
	}, nil
}

// CancelDeletion drops the pending deletion for subjectID, if any.
func (e *Engine) CancelDeletion(ctx context.Context, subjectID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	return flows.RunCancelDeletion(ctx, subjectID, e.deletionFlowDeps())
}

// PendingDeletionCount returns the number of unexpired deletion tokens.
func (e *Engine) PendingDeletionCount(ctx context.Context) (int, error) {
	if e == nil || e.confirmations == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.confirmations.Pending(ctx, confirmation.PurposeDeletionConfirm)
	if err != nil {
		return 0, ErrConfirmationUnavailable
	}
	return n, nil
}

func (e *Engine) deletionFlowDeps() flows.DeletionDeps {
	deps := flows.DeletionDeps{
		TokenTTL:             e.config.Deletion.TokenTTL,
		BaseURL:              e.config.Deletion.BaseURL,
		BlockingStatuses:     append([]string(nil), e.config.Deletion.BlockingStatuses...),
		Now:                  e.now,
		ClientIPFromContext:  clientIPFromContext,
		UserAgentFromContext: userAgentFromContext,
		ListSubscriptions: func(ctx context.Context, subjectID string) ([]flows.DeletionBlocker, error) {
			if e.subscriptions == nil {
				return nil, nil
			}
			subs, err := e.subscriptions.ListSubscriptions(ctx, subjectID)
			if err != nil {
				e.logger.Warn().Err(err).Str("subject_id", subjectID).Msg("subscription lookup failed")
				return nil, err
			}
			out := make([]flows.DeletionBlocker, 0, len(subs))
			for _, s := range subs {
				out = append(out, flows.DeletionBlocker{
					SubscriptionID: s.ID,
					ProjectID:      s.ProjectID,
					ProjectName:    s.ProjectName,
					Status:         s.Status,
					CreatedAt:      s.CreatedAt,
				})
			}
			return out, nil
		},
		IsNotFound: isNotFound,
		IsIntegrityViolation: func(err error) bool {
			return errors.Is(err, ErrReferentialIntegrity)
		},
		IntegrityError: func(blockers []flows.DeletionBlocker) error {
			records := make([]BlockingRecord, 0, len(blockers))
			for _, b := range blockers {
				records = append(records, BlockingRecord(b))
			}
			return &IntegrityViolationError{Records: records}
		},
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: flows.DeletionMetrics{
			DeletionInitiate: int(MetricDeletionInitiate),
			DeletionSuccess:  int(MetricDeletionSuccess),
			DeletionFailure:  int(MetricDeletionFailure),
			DeletionBlocked:  int(MetricDeletionBlocked),
		},
		Events: flows.DeletionEvents{
			Initiate: auditEventDeletionInitiate,
			Confirm:  auditEventDeletionConfirm,
			Cancel:   auditEventDeletionCancel,
		},
		Errors: flows.DeletionErrors{
			EngineNotReady:    ErrEngineNotReady,
			InvalidRequest:    ErrInvalidRequest,
			PersonNotFound:    ErrPersonNotFound,
			TokenInvalid:      ErrTokenInvalid,
			RequesterMismatch: ErrRequesterMismatch,
			Unavailable:       ErrConfirmationUnavailable,
		},
	}

	if e.identities != nil {
		deps.GetIdentity = func(ctx context.Context, subjectID string) (*flows.DeletionIdentity, error) {
			id, err := e.getIdentity(ctx, subjectID)
			if err != nil || id == nil {
				return nil, err
			}
			return &flows.DeletionIdentity{
				SubjectID: id.SubjectID,
				Email:     id.Email,
				FirstName: id.FirstName,
			}, nil
		}
		deps.DeleteIdentity = e.identities.DeleteIdentity
	}
	if e.confirmations != nil {
		deps.CreateToken = e.confirmationCreator(confirmation.PurposeDeletionConfirm)
		deps.ConsumeToken = e.confirmationConsumer(confirmation.PurposeDeletionConfirm)
		deps.CancelToken = e.confirmationCanceller(confirmation.PurposeDeletionConfirm)
	}
	if e.notifier != nil {
		deps.Notify = e.notifier.Send
	}

	return deps
}
