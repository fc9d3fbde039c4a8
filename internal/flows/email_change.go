package flows

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/credguard/confirmation"
)

const (
	TemplateEmailChangeNotification = "email_change_notification"
	TemplateEmailVerification       = "email_verification"

	payloadNewEmail = "new_email"
	payloadOldEmail = "old_email"
)

type EmailChangeIdentity struct {
	SubjectID string
	Email     string
	FirstName string
}

type EmailChangeInitiation struct {
	Token     string
	NewEmail  string
	ExpiresAt time.Time
}

type EmailChangeResult struct {
	SubjectID string
	OldEmail  string
	NewEmail  string
}

type EmailChangeMetrics struct {
	EmailChangeInitiate int
	EmailChangeSuccess  int
	EmailChangeFailure  int
}

type EmailChangeEvents struct {
	Initiate string
	Confirm  string
	Cancel   string
}

type EmailChangeErrors struct {
	EngineNotReady     error
	PersonNotFound     error
	EmailInvalid       error
	EmailUnchanged     error
	EmailInUse         error
	TokenInvalid       error
	NotificationFailed error
	Unavailable        error
}

type EmailChangeDeps struct {
	TokenTTL time.Duration
	BaseURL  string
	Now      func() time.Time

	ValidateEmail func(string) error

	GetIdentity   func(context.Context, string) (*EmailChangeIdentity, error)
	LookupByEmail func(context.Context, string) (string, bool, error)
	UpdateEmail   func(context.Context, string, string) error
	IsEmailInUse  func(error) bool
	IsNotFound    func(error) bool

	CreateToken  func(context.Context, string, map[string]string, time.Duration) (string, error)
	ConsumeToken func(context.Context, string) (confirmation.Result, error)
	CancelToken  func(context.Context, string) (bool, error)

	Notify func(context.Context, string, string, map[string]string) error

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, func() map[string]string)

	Metrics EmailChangeMetrics
	Events  EmailChangeEvents
	Errors  EmailChangeErrors
}

func RunInitiateEmailChange(ctx context.Context, subjectID, newEmail string, deps EmailChangeDeps) (*EmailChangeInitiation, error) {
	normalizeEmailChangeDeps(&deps)

	if deps.GetIdentity == nil || deps.LookupByEmail == nil || deps.CreateToken == nil || deps.CancelToken == nil {
		return nil, deps.Errors.EngineNotReady
	}

	deps.MetricInc(deps.Metrics.EmailChangeInitiate)

	email := normalizeEmail(newEmail)
	if email == "" || deps.ValidateEmail(email) != nil {
		deps.EmitAudit(ctx, deps.Events.Initiate, false, subjectID, deps.Errors.EmailInvalid, reasonMeta("invalid_email"))
		return nil, deps.Errors.EmailInvalid
	}

	identity, err := deps.GetIdentity(ctx, subjectID)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Initiate, false, subjectID, deps.Errors.Unavailable, reasonMeta("identity_lookup_failed"))
		return nil, deps.Errors.Unavailable
	}
	if identity == nil {
		deps.EmitAudit(ctx, deps.Events.Initiate, false, subjectID, deps.Errors.PersonNotFound, reasonMeta("person_not_found"))
		return nil, deps.Errors.PersonNotFound
	}

	if normalizeEmail(identity.Email) == email {
		deps.EmitAudit(ctx, deps.Events.Initiate, false, subjectID, deps.Errors.EmailUnchanged, reasonMeta("email_unchanged"))
		return nil, deps.Errors.EmailUnchanged
	}

	if err := checkEmailAvailable(ctx, subjectID, email, deps); err != nil {
		deps.EmitAudit(ctx, deps.Events.Initiate, false, subjectID, err, reasonMeta("email_in_use"))
		return nil, err
	}

	now := deps.Now()
	token, err := deps.CreateToken(ctx, subjectID, map[string]string{
		payloadNewEmail: email,
		payloadOldEmail: identity.Email,
	}, deps.TokenTTL)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.Initiate, false, subjectID, deps.Errors.Unavailable, reasonMeta("token_store_failed"))
		return nil, deps.Errors.Unavailable
	}

	changeTime := now.UTC().Format(time.RFC3339)
	notifications := []struct {
		to       string
		template string
		vars     map[string]string
	}{
		{
			to:       identity.Email,
			template: TemplateEmailChangeNotification,
			vars: map[string]string{
				"first_name":  identity.FirstName,
				"new_email":   email,
				"change_time": changeTime,
			},
		},
		{
			to:       email,
			template: TemplateEmailVerification,
			vars: map[string]string{
				"first_name":        identity.FirstName,
				"current_email":     identity.Email,
				"verification_link": ConfirmationLink(deps.BaseURL, token),
				"change_time":       changeTime,
			},
		},
	}
	for _, n := range notifications {
		if n.to == "" {
			continue
		}
		if err := deps.Notify(ctx, n.to, n.template, n.vars); err != nil {
			// The user can never receive this token; drop it so no
			// orphan stays redeemable.
			_, _ = deps.CancelToken(ctx, subjectID)
			deps.MetricInc(deps.Metrics.EmailChangeFailure)
			deps.EmitAudit(ctx, deps.Events.Initiate, false, subjectID, deps.Errors.NotificationFailed, func() map[string]string {
				return map[string]string{
					"reason":   "notification_failed",
					"template": n.template,
				}
			})
			return nil, deps.Errors.NotificationFailed
		}
	}

	deps.EmitAudit(ctx, deps.Events.Initiate, true, subjectID, nil, func() map[string]string {
		return map[string]string{
			"new_email":  email,
			"expires_at": now.Add(deps.TokenTTL).UTC().Format(time.RFC3339),
		}
	})

	return &EmailChangeInitiation{
		Token:     token,
		NewEmail:  email,
		ExpiresAt: now.Add(deps.TokenTTL),
	}, nil
}

func RunConfirmEmailChange(ctx context.Context, token string, deps EmailChangeDeps) (*EmailChangeResult, error) {
	normalizeEmailChangeDeps(&deps)

	if deps.ConsumeToken == nil || deps.GetIdentity == nil || deps.LookupByEmail == nil || deps.UpdateEmail == nil {
		return nil, deps.Errors.EngineNotReady
	}

	res, err := deps.ConsumeToken(ctx, token)
	if err != nil {
		deps.MetricInc(deps.Metrics.EmailChangeFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm+"_failure", false, "", deps.Errors.Unavailable, reasonMeta("token_store_failed"))
		return nil, deps.Errors.Unavailable
	}
	if !res.OK() {
		deps.MetricInc(deps.Metrics.EmailChangeFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm+"_"+res.Status.String(), false, "", deps.Errors.TokenInvalid, nil)
		return nil, deps.Errors.TokenInvalid
	}

	subjectID := res.SubjectID
	email := res.Payload[payloadNewEmail]

	identity, err := deps.GetIdentity(ctx, subjectID)
	if err != nil {
		deps.MetricInc(deps.Metrics.EmailChangeFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm+"_failure", false, subjectID, deps.Errors.Unavailable, reasonMeta("identity_lookup_failed"))
		return nil, deps.Errors.Unavailable
	}
	if identity == nil {
		deps.MetricInc(deps.Metrics.EmailChangeFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm+"_person_not_found", false, subjectID, deps.Errors.PersonNotFound, nil)
		return nil, deps.Errors.PersonNotFound
	}

	if err := checkEmailAvailable(ctx, subjectID, email, deps); err != nil {
		deps.MetricInc(deps.Metrics.EmailChangeFailure)
		deps.EmitAudit(ctx, deps.Events.Confirm+"_email_in_use", false, subjectID, err, nil)
		return nil, err
	}

	if err := deps.UpdateEmail(ctx, subjectID, email); err != nil {
		deps.MetricInc(deps.Metrics.EmailChangeFailure)
		if deps.IsEmailInUse(err) {
			deps.EmitAudit(ctx, deps.Events.Confirm+"_email_in_use", false, subjectID, deps.Errors.EmailInUse, reasonMeta("unique_violation"))
			return nil, deps.Errors.EmailInUse
		}
		if deps.IsNotFound(err) {
			deps.EmitAudit(ctx, deps.Events.Confirm+"_person_not_found", false, subjectID, deps.Errors.PersonNotFound, nil)
			return nil, deps.Errors.PersonNotFound
		}
		deps.EmitAudit(ctx, deps.Events.Confirm+"_failure", false, subjectID, deps.Errors.Unavailable, reasonMeta("update_failed"))
		return nil, deps.Errors.Unavailable
	}

	deps.MetricInc(deps.Metrics.EmailChangeSuccess)
	deps.EmitAudit(ctx, deps.Events.Confirm+"_success", true, subjectID, nil, func() map[string]string {
		return map[string]string{
			"old_email": identity.Email,
			"new_email": email,
		}
	})

	return &EmailChangeResult{
		SubjectID: subjectID,
		OldEmail:  identity.Email,
		NewEmail:  email,
	}, nil
}

func RunCancelEmailChange(ctx context.Context, subjectID string, deps EmailChangeDeps) (bool, error) {
	normalizeEmailChangeDeps(&deps)

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

func checkEmailAvailable(ctx context.Context, subjectID, email string, deps EmailChangeDeps) error {
	owner, found, err := deps.LookupByEmail(ctx, email)
	if err != nil {
		return deps.Errors.Unavailable
	}
	if found && owner != subjectID {
		return deps.Errors.EmailInUse
	}
	return nil
}

// ConfirmationLink renders {base}?token={token}, preserving any query the
// base URL already carries. An empty base yields only the query string.
func ConfirmationLink(baseURL, token string) string {
	u, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		return "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func reasonMeta(reason string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": reason}
	}
}

func normalizeEmailChangeDeps(deps *EmailChangeDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TokenTTL <= 0 {
		deps.TokenTTL = 24 * time.Hour
	}
	if deps.ValidateEmail == nil {
		deps.ValidateEmail = func(s string) error {
			if !strings.Contains(s, "@") {
				return errors.New("invalid email")
			}
			return nil
		}
	}
	if deps.IsEmailInUse == nil {
		deps.IsEmailInUse = func(err error) bool { return errors.Is(err, deps.Errors.EmailInUse) }
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(err error) bool { return errors.Is(err, deps.Errors.PersonNotFound) }
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
