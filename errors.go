package credguard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/credguard/password"
)

var (
	// ErrInvalidCredentials is an exported constant or variable used by the authentication engine.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is an exported constant or variable used by the authentication engine.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is an exported constant or variable used by the authentication engine.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrPasswordPolicy is an exported constant or variable used by the authentication engine.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReused is an exported constant or variable used by the authentication engine.
	ErrPasswordReused = errors.New("password was used recently")
	// ErrTokenInvalid is an exported constant or variable used by the authentication engine.
	ErrTokenInvalid = errors.New("invalid or expired token")
	// ErrTokenRevoked is an exported constant or variable used by the authentication engine.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrRequesterMismatch is an exported constant or variable used by the authentication engine.
	ErrRequesterMismatch = errors.New("requester does not match deletion initiator")
	// ErrReferentialIntegrity is an exported constant or variable used by the authentication engine.
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	// ErrPersonNotFound is an exported constant or variable used by the authentication engine.
	ErrPersonNotFound = errors.New("person not found")
	// ErrInvalidRequest is an exported constant or variable used by the authentication engine.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEmailUnchanged is an exported constant or variable used by the authentication engine.
	ErrEmailUnchanged = errors.New("new email must differ from current email")
	// ErrEmailInUse is an exported constant or variable used by the authentication engine.
	ErrEmailInUse = errors.New("email already in use")
	// ErrEmailInvalid is an exported constant or variable used by the authentication engine.
	ErrEmailInvalid = errors.New("invalid email address")
	// ErrNotificationFailed is an exported constant or variable used by the authentication engine.
	ErrNotificationFailed = errors.New("notification delivery failed")
	// ErrConfirmationUnavailable is an exported constant or variable used by the authentication engine.
	ErrConfirmationUnavailable = errors.New("confirmation backend unavailable")
	// ErrLockoutUnavailable is an exported constant or variable used by the authentication engine.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
	// ErrCredentialUnavailable is an exported constant or variable used by the authentication engine.
	ErrCredentialUnavailable = errors.New("credential backend unavailable")
	// ErrHashingUnavailable is an exported constant or variable used by the authentication engine.
	ErrHashingUnavailable = errors.New("password hashing unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the authentication engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// PolicyViolationError carries every rule a rejected password failed.
// It matches ErrPasswordPolicy under errors.Is.
type PolicyViolationError struct {
	Violations []password.Violation
}

func (e *PolicyViolationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return ErrPasswordPolicy.Error()
	}
	return ErrPasswordPolicy.Error() + ": " + password.Err(e.Violations).Error()
}

// Is reports whether target is ErrPasswordPolicy.
func (e *PolicyViolationError) Is(target error) bool {
	return target == ErrPasswordPolicy
}

// BlockingRecord is a subscription that prevents deleting a person.
type BlockingRecord struct {
	SubscriptionID string
	ProjectID      string
	ProjectName    string
	Status         string
	CreatedAt      time.Time
}

// IntegrityViolationError lists the subscriptions blocking a deletion.
// Unlike token failures, this detail is meant for the caller.
type IntegrityViolationError struct {
	Records []BlockingRecord
}

func (e *IntegrityViolationError) Error() string {
	n := 0
	if e != nil {
		n = len(e.Records)
	}
	return fmt.Sprintf("cannot delete person with %d active subscription(s)", n)
}

// Is reports whether target is ErrReferentialIntegrity.
func (e *IntegrityViolationError) Is(target error) bool {
	return target == ErrReferentialIntegrity
}

// ProjectNames returns the distinct project names of the blocking records
// in first-seen order.
func (e *IntegrityViolationError) ProjectNames() []string {
	if e == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(e.Records))
	var out []string
	for _, r := range e.Records {
		name := strings.TrimSpace(r.ProjectName)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
