package flows

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/credguard/confirmation"
)

const (
	TemplateDeletionConfirmation = "deletion_confirmation"

	payloadRequesterID = "requester_id"
	payloadReason      = "reason"
	payloadIP          = "ip"
	payloadUserAgent   = "user_agent"
)

type DeletionIdentity struct {
	SubjectID string
	Email     string
	FirstName string
}

// DeletionBlocker is one subscription found during the integrity check.
type DeletionBlocker struct {
	SubscriptionID string
	ProjectID      string
	ProjectName    string
	Status         string
	CreatedAt      time.Time
}

type DeletionInitiation struct {
	Token     string
	ExpiresAt time.Time
}

type DeletionResult struct {
	SubjectID   string
	RequesterID string
	Reason      string
	DeletedAt   time.Time
}

type DeletionMetrics struct {
	DeletionInitiate int
	DeletionSuccess  int
	DeletionFailure  int
	DeletionBlocked  int
}

type DeletionEvents struct {
	Initiate string
	Confirm  string
	Cancel   string
}

type DeletionErrors struct {
	EngineNotReady    error
	InvalidRequest    error
	PersonNotFound    error
	TokenInvalid      error
	RequesterMismatch error
	Unavailable       error
}

type DeletionDeps struct {
	TokenTTL         time.Duration
	BaseURL          string
	BlockingStatuses []string
	Now              func() time.Time

	ClientIPFromContext  func(context.Context) string
	UserAgentFromContext func(context.Context) string

	GetIdentity       func(context.Context, string) (*DeletionIdentity, error)
	ListSubscriptions func(context.Context, string) ([]DeletionBlocker, error)
	DeleteIdentity    func(context.Context, string) error
	IntegrityError    func([]DeletionBlocker) error

	// IsNotFound and IsIntegrityViolation classify DeleteIdentity errors.
	// A store that refuses to delete a person with blocking dependents
	// reports it through IsIntegrityViolation.
	IsNotFound           func(error) bool
	IsIntegrityViolation func(error) bool

	CreateToken  func(context.Context, string, map[string]string, time.Duration) (string, error)
	ConsumeToken func(context.Context, string) (confirmation.Result, error)
	CancelToken  func(context.Context, string) (bool, error)

	Notify func(context.Context, string, string, map[string]string) error

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, func() map[string]string)

	Metrics DeletionMetrics
	Events  DeletionEvents
	Errors  DeletionErrors
}

func RunInitiateDeletion(ctx context.Context, subjectID, requesterID, reason string, deps DeletionDeps) (*DeletionInitiation, error) {
	normalizeDeletionDeps(&deps)

	if deps.GetIdentity == nil || deps.ListSubscriptions == nil || deps.CreateToken == nil {
		return nil, deps.Errors.EngineNotReady
	}

	deps.MetricInc(deps.Metrics.DeletionInitiate)

	if strings.TrimSpace(subjectID) == "" || strings.TrimSpace(requesterID) == "" {
		deps.EmitAudit(ctx, deps.Events.Initiate, false, subjectID, deps.Errors.InvalidRequest, reasonMeta("missing_subject_or_requester"))
		return nil, deps.Errors.InvalidRequest
	}

	identity, err := deps.GetIdentity(ctx, subjectID)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Initiate, false, subjectID, deps.Errors.Unavailable, reasonMeta("identity_lookup_failed"))
		return nil, deps.Errors.Unavailable
	}
	if identity == nil {
		deps.EmitAudit(ctx, deps.Events.Initiate+"_person_not_found", false, subjectID, deps.Errors.PersonNotFound, nil)
		return nil, deps.Errors.PersonNotFound
	}

	blockers, err := blockingSubscriptions(ctx, subjectID, deps)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Initiate, false, subjectID, deps.Errors.Unavailable, reasonMeta("subscription_lookup_failed"))
		return nil, deps.Errors.Unavailable
	}
	if len(blockers) > 0 {
		deps.MetricInc(deps.Metrics.DeletionBlocked)
		integrityErr := deps.IntegrityError(blockers)
		deps.EmitAudit(ctx, deps.Events.Initiate+"_integrity_violation", false, subjectID, integrityErr, blockerMeta(blockers))
		return nil, integrityErr
	}

	now := deps.Now()
	ip := deps.ClientIPFromContext(ctx)
	ua := deps.UserAgentFromContext(ctx)
	token, err := deps.CreateToken(ctx, subjectID, map[string]string{
		payloadRequesterID: requesterID,
		payloadReason:      reason,
		payloadIP:          ip,
		payloadUserAgent:   ua,
	}, deps.TokenTTL)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Initiate, false, subjectID, deps.Errors.Unavailable, reasonMeta("token_store_failed"))
		return nil, deps.Errors.Unavailable
	}
	expiresAt := now.Add(deps.TokenTTL)

	// The confirmation mail is a convenience; the caller already holds
	// the token, so a failed send does not abort the initiation.
	notified := "skipped"
	if deps.BaseURL != "" && identity.Email != "" {
		err := deps.Notify(ctx, identity.Email, TemplateDeletionConfirmation, map[string]string{
			"first_name":        identity.FirstName,
			"confirmation_link": ConfirmationLink(deps.BaseURL, token),
			"expires_at":        expiresAt.UTC().Format(time.RFC3339),
			"reason":            reason,
		})
		if err != nil {
			notified = "failed"
		} else {
			notified = "sent"
		}
	}

	deps.EmitAudit(ctx, deps.Events.Initiate, true, subjectID, nil, func() map[string]string {
		return map[string]string{
			"requester_id": requesterID,
			"reason":       reason,
			"expires_at":   expiresAt.UTC().Format(time.RFC3339),
			"notification": notified,
		}
	})

	return &DeletionInitiation{Token: token, ExpiresAt: expiresAt}, nil
}

func RunConfirmDeletion(ctx context.Context, token, requesterID string, deps DeletionDeps) (*DeletionResult, error) {
	normalizeDeletionDeps(&deps)

	if deps.ConsumeToken == nil || deps.GetIdentity == nil || deps.ListSubscriptions == nil || deps.DeleteIdentity == nil {
		return nil, deps.Errors.EngineNotReady
	}

	event := deps.Events.Confirm

	res, err := deps.ConsumeToken(ctx, token)
	if err != nil {
		deps.MetricInc(deps.Metrics.DeletionFailure)
		deps.EmitAudit(ctx, event+"_failure", false, "", deps.Errors.Unavailable, reasonMeta("token_store_failed"))
		return nil, deps.Errors.Unavailable
	}
	if !res.OK() {
		deps.MetricInc(deps.Metrics.DeletionFailure)
		deps.EmitAudit(ctx, event+"_"+res.Status.String(), false, res.SubjectID, deps.Errors.TokenInvalid, func() map[string]string {
			return map[string]string{"requester_id": requesterID}
		})
		return nil, deps.Errors.TokenInvalid
	}

	subjectID := res.SubjectID
	expected := res.Payload[payloadRequesterID]
	if expected == "" || expected != requesterID {
		deps.MetricInc(deps.Metrics.DeletionFailure)
		deps.EmitAudit(ctx, event+"_requester_mismatch", false, subjectID, deps.Errors.RequesterMismatch, func() map[string]string {
			return map[string]string{
				"expected_requester": expected,
				"actual_requester":   requesterID,
			}
		})
		return nil, deps.Errors.RequesterMismatch
	}

	identity, err := deps.GetIdentity(ctx, subjectID)
	if err != nil {
		deps.MetricInc(deps.Metrics.DeletionFailure)
		deps.EmitAudit(ctx, event+"_failure", false, subjectID, deps.Errors.Unavailable, reasonMeta("identity_lookup_failed"))
		return nil, deps.Errors.Unavailable
	}
	if identity == nil {
		deps.MetricInc(deps.Metrics.DeletionFailure)
		deps.EmitAudit(ctx, event+"_person_not_found", false, subjectID, deps.Errors.PersonNotFound, nil)
		return nil, deps.Errors.PersonNotFound
	}

	blockers, err := blockingSubscriptions(ctx, subjectID, deps)
	if err != nil {
		deps.MetricInc(deps.Metrics.DeletionFailure)
		deps.EmitAudit(ctx, event+"_failure", false, subjectID, deps.Errors.Unavailable, reasonMeta("subscription_lookup_failed"))
		return nil, deps.Errors.Unavailable
	}
	if len(blockers) > 0 {
		deps.MetricInc(deps.Metrics.DeletionBlocked)
		integrityErr := deps.IntegrityError(blockers)
		deps.EmitAudit(ctx, event+"_integrity_violation", false, subjectID, integrityErr, blockerMeta(blockers))
		return nil, integrityErr
	}

	if err := deps.DeleteIdentity(ctx, subjectID); err != nil {
		switch {
		case deps.IsIntegrityViolation(err):
			// A blocking subscription landed after the re-check.
			blockers, _ := blockingSubscriptions(ctx, subjectID, deps)
			deps.MetricInc(deps.Metrics.DeletionBlocked)
			integrityErr := deps.IntegrityError(blockers)
			deps.EmitAudit(ctx, event+"_integrity_violation", false, subjectID, integrityErr, blockerMeta(blockers))
			return nil, integrityErr
		case deps.IsNotFound(err):
			deps.MetricInc(deps.Metrics.DeletionFailure)
			deps.EmitAudit(ctx, event+"_person_not_found", false, subjectID, deps.Errors.PersonNotFound, nil)
			return nil, deps.Errors.PersonNotFound
		}
		deps.MetricInc(deps.Metrics.DeletionFailure)
		deps.EmitAudit(ctx, event+"_failure", false, subjectID, deps.Errors.Unavailable, reasonMeta("delete_failed"))
		return nil, deps.Errors.Unavailable
	}

	deletedAt := deps.Now()
	deps.MetricInc(deps.Metrics.DeletionSuccess)
	deps.EmitAudit(ctx, event+"_success", true, subjectID, nil, func() map[string]string {
		return map[string]string{
			"requester_id":   requesterID,
			"reason":         res.Payload[payloadReason],
			"initiated_ip":   res.Payload[payloadIP],
			"initiated_ua":   res.Payload[payloadUserAgent],
			"deleted_at":     deletedAt.UTC().Format(time.RFC3339),
			"deleted_person": identity.SubjectID,
		}
	})

	return &DeletionResult{
		SubjectID:   subjectID,
		RequesterID: requesterID,
		Reason:      res.Payload[payloadReason],
		DeletedAt:   deletedAt,
	}, nil
}

func RunCancelDeletion(ctx context.Context, subjectID string, deps DeletionDeps) (bool, error) {
	normalizeDeletionDeps(&deps)

	if deps.CancelToken == nil {
		return false, deps.Errors.EngineNotReady
	}

	cancelled, err := deps.CancelToken(ctx, subjectID)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Cancel, false, subjectID, deps.Errors.Unavailable, nil)
		return false, deps.Errors.Unavailable
	}
	deps.EmitAudit(ctx, deps.Events.Cancel, true, subjectID, nil, func() map[string]string {
		if cancelled {
			return map[string]string{"pending": "cleared"}
		}
		return map[string]string{"pending": "none"}
	})
	return cancelled, nil
}

func blockingSubscriptions(ctx context.Context, subjectID string, deps DeletionDeps) ([]DeletionBlocker, error) {
	subs, err := deps.ListSubscriptions(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	var out []DeletionBlocker
	for _, s := range subs {
		for _, status := range deps.BlockingStatuses {
			if strings.EqualFold(s.Status, status) {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func blockerMeta(blockers []DeletionBlocker) func() map[string]string {
	return func() map[string]string {
		ids := make([]string, 0, len(blockers))
		for _, b := range blockers {
			ids = append(ids, b.SubscriptionID)
		}
		return map[string]string{
			"blocking_count":         strconv.Itoa(len(blockers)),
			"blocking_subscriptions": strings.Join(ids, ","),
		}
	}
}

func normalizeDeletionDeps(deps *DeletionDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TokenTTL <= 0 {
		deps.TokenTTL = 15 * time.Minute
	}
	if len(deps.BlockingStatuses) == 0 {
		deps.BlockingStatuses = []string{"active", "pending"}
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.UserAgentFromContext == nil {
		deps.UserAgentFromContext = func(context.Context) string { return "" }
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(err error) bool { return errors.Is(err, deps.Errors.PersonNotFound) }
	}
	if deps.IsIntegrityViolation == nil {
		deps.IsIntegrityViolation = func(error) bool { return false }
	}
	if deps.IntegrityError == nil {
		deps.IntegrityError = func([]DeletionBlocker) error { return deps.Errors.InvalidRequest }
	}
	if deps.Notify == nil {
		deps.Notify = func(context.Context, string, string, map[string]string) error { return nil }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
}
