package confirmation

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"
)

// Purpose names the workflow a token was issued for.
type Purpose uint8

const (
	// PurposeEmailChange gates an email address change.
	PurposeEmailChange Purpose = 1
	// PurposeDeletionConfirm gates the second step of account deletion.
	PurposeDeletionConfirm Purpose = 2
)

// Purposes lists every known purpose. Sweep walks this list.
var Purposes = []Purpose{PurposeEmailChange, PurposeDeletionConfirm}

func (p Purpose) String() string {
	switch p {
	case PurposeEmailChange:
		return "email_change"
	case PurposeDeletionConfirm:
		return "deletion_confirm"
	default:
		return "unknown"
	}
}

func (p Purpose) valid() bool {
	return p == PurposeEmailChange || p == PurposeDeletionConfirm
}

// Status is the outcome of Consume.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusExpired
	StatusAlreadyUsed
	StatusPurposeMismatch
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusExpired:
		return "expired"
	case StatusAlreadyUsed:
		return "already_used"
	case StatusPurposeMismatch:
		return "purpose_mismatch"
	default:
		return "unknown"
	}
}

// Result carries the record data only when Status is StatusOK.
type Result struct {
	Status    Status
	SubjectID string
	Payload   map[string]string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// OK reports whether the token was redeemed by this call.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Store is a registry of single-use, expiring confirmation tokens.
//
// Consume must be atomic: of any number of concurrent Consume calls for one
// token, exactly one observes StatusOK. A token at or past its expiry is
// never redeemable. A purpose mismatch leaves the token untouched.
// Creating a token for a (purpose, subject) pair that already has a pending
// token invalidates the earlier one.
type Store interface {
	Create(ctx context.Context, purpose Purpose, subjectID string, payload map[string]string, ttl time.Duration) (string, error)
	Consume(ctx context.Context, token string, purpose Purpose) (Result, error)
	Cancel(ctx context.Context, purpose Purpose, subjectID string) (bool, error)
	Pending(ctx context.Context, purpose Purpose) (int, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

var (
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("confirmation store unavailable")
	// ErrInvalidPurpose is returned for an unknown Purpose value.
	ErrInvalidPurpose = errors.New("invalid confirmation purpose")
	// ErrInvalidSubject is returned for an empty subject id.
	ErrInvalidSubject = errors.New("invalid confirmation subject")
)

const tokenBytes = 32

// DefaultUsedRetention keeps spent and expired records around long enough
// for repeat attempts to be reported as already used or expired rather
// than unknown.
const DefaultUsedRetention = 24 * time.Hour

// newToken returns a URL-safe token and the hex SHA-256 used as its storage
// key. Raw tokens are never stored.
func newToken() (string, string, error) {
	var raw [tokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw[:])
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// wellFormed rejects obviously foreign input before any backend lookup.
func wellFormed(token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == tokenBytes
}

func copyPayload(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func validateCreate(purpose Purpose, subjectID string) error {
	if !purpose.valid() {
		return ErrInvalidPurpose
	}
	if subjectID == "" {
		return ErrInvalidSubject
	}
	return nil
}
