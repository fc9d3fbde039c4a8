package credguard

import (
	"context"
	"time"

	"github.com/MrEthical07/credguard/lockout"
)

// Identity is the single credential-bearing record the Engine reads. All
// collaborators return this shape.
type Identity struct {
	SubjectID             string
	Email                 string
	FirstName             string
	LastName              string
	IsAdmin               bool
	Active                bool
	PasswordHash          string
	PasswordHistory       []string // newest first
	RequirePasswordChange bool
}

// CredentialUpdate is written by [IdentityStore.UpdateCredential]. It
// replaces all three credential fields at once.
type CredentialUpdate struct {
	PasswordHash          string
	PasswordHistory       []string
	RequirePasswordChange bool
}

// IdentityStore is the primary interface that callers implement to
// integrate credguard with their person database.
//
// Lookups return an error wrapping [ErrPersonNotFound] when no record
// exists. UpdateEmail returns an error wrapping [ErrEmailInUse] when the
// address is already owned by another identity. DeleteIdentity may refuse a
// person that gained a blocking subscription with an error wrapping
// [ErrReferentialIntegrity]; it must never remove such records silently.
type IdentityStore interface {
	GetIdentity(ctx context.Context, subjectID string) (Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (Identity, error)
	UpdateCredential(ctx context.Context, subjectID string, update CredentialUpdate) error
	UpdateEmail(ctx context.Context, subjectID, email string) error
	DeleteIdentity(ctx context.Context, subjectID string) error
}

// Subscription is one record returned by [SubscriptionLookup].
type Subscription struct {
	ID          string
	ProjectID   string
	ProjectName string
	Status      string
	CreatedAt   time.Time
}

// SubscriptionLookup lists the subscriptions a person holds. The Engine
// filters them by [DeletionConfig.BlockingStatuses].
type SubscriptionLookup interface {
	ListSubscriptions(ctx context.Context, subjectID string) ([]Subscription, error)
}

// Notifier delivers templated messages out of band.
type Notifier interface {
	Send(ctx context.Context, to, template string, vars map[string]string) error
}

// AuthResult is returned by [Engine.Authenticate].
type AuthResult struct {
	SubjectID             string
	Email                 string
	IsAdmin               bool
	RequirePasswordChange bool
	Rehashed              bool
}

// LoginResult is returned by [Engine.Login] and [Engine.Refresh].
type LoginResult struct {
	SubjectID             string
	AccessToken           string
	RefreshToken          string
	AccessExpiresAt       time.Time
	RefreshExpiresAt      time.Time
	RequirePasswordChange bool
}

// PasswordChangeResult is returned by [Engine.UpdatePassword]. Callers
// should ask the user to sign in again when RequireReauth is set.
type PasswordChangeResult struct {
	SubjectID     string
	ChangedAt     time.Time
	RequireReauth bool
}

// TemporaryPassword is returned by [Engine.GenerateTemporaryPassword]. The
// identity must change it on next login.
type TemporaryPassword struct {
	SubjectID string
	Password  string
	IssuedAt  time.Time
}

// PasswordHistoryCheck is returned by [Engine.CheckPasswordHistory].
type PasswordHistoryCheck struct {
	Allowed bool
	Reason  string
}

// LockoutStatus is the operator view of a subject's lockout record.
type LockoutStatus = lockout.Status

// EmailChangeInitiation is returned by [Engine.InitiateEmailChange].
type EmailChangeInitiation struct {
	Token     string
	NewEmail  string
	ExpiresAt time.Time
}

// EmailChangeResult is returned by [Engine.ConfirmEmailChange].
type EmailChangeResult struct {
	SubjectID string
	OldEmail  string
	NewEmail  string
}

// DeletionInitiation is returned by [Engine.InitiateDeletion].
type DeletionInitiation struct {
	Token     string
	ExpiresAt time.Time
}

// DeletionResult is returned by [Engine.ConfirmDeletion].
type DeletionResult struct {
	SubjectID   string
	RequesterID string
	Reason      string
	DeletedAt   time.Time
}
