package credguard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/credguard/password"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthenticateSuccess(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.Authenticate(context.Background(), "u1", testPassword)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if res.SubjectID != "u1" || res.Email != "alice@example.com" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricAuthSuccess]; got != 1 {
		t.Fatalf("expected MetricAuthSuccess=1, got %d", got)
	}
}

func TestAuthenticateUnknownSubjectIsInvalidCredentials(t *testing.T) {
	h := newHarness(t)

	if _, err := h.engine.Authenticate(context.Background(), "ghost", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if h.engine.dummyHash == "" {
		t.Fatal("expected unknown subject to be checked against the placeholder hash")
	}
	if _, err := h.engine.Authenticate(context.Background(), "", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty subject, got %v", err)
	}
}

func TestAuthenticateDisabledAccountAfterCorrectPassword(t *testing.T) {
	h := newHarness(t)
	id, _ := h.store.get("u1")
	id.Active = false
	h.store.put(id)

	if _, err := h.engine.Authenticate(context.Background(), "u1", "Wrong#pass1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected wrong password to stay ErrInvalidCredentials, got %v", err)
	}
	if _, err := h.engine.Authenticate(context.Background(), "u1", testPassword); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestLockout_ThresholdTriggersLock(t *testing.T) {
	h := newHarness(t)
	ctx := WithClientIP(context.Background(), "198.51.100.7")

	for i := 0; i < 3; i++ {
		if _, err := h.engine.Authenticate(ctx, "u1", "Wrong#pass1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	status, err := h.engine.LockoutStatus(operatorCtx(), "u1")
	if err != nil {
		t.Fatalf("LockoutStatus failed: %v", err)
	}
	if !status.Locked || status.FailedAttempts != 3 {
		t.Fatalf("expected locked after 3 failures, got %+v", status)
	}
	if len(status.IPs) != 1 || status.IPs[0] != "198.51.100.7" {
		t.Fatalf("expected tracked ip, got %v", status.IPs)
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricLockoutTriggered]; got != 1 {
		t.Fatalf("expected MetricLockoutTriggered=1, got %d", got)
	}
}

func TestLockout_LockedSubjectCannotAuthenticate(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		_, _ = h.engine.Authenticate(context.Background(), "u1", "Wrong#pass1")
	}

	if _, err := h.engine.Authenticate(context.Background(), "u1", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected anonymous caller to see ErrInvalidCredentials, got %v", err)
	}
	if _, err := h.engine.Authenticate(operatorCtx(), "u1", testPassword); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected operator caller to see ErrAccountLocked, got %v", err)
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricAuthLocked]; got != 2 {
		t.Fatalf("expected MetricAuthLocked=2, got %d", got)
	}
}

func TestLockout_ExpiresAfterDuration(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		_, _ = h.engine.Authenticate(context.Background(), "u1", "Wrong#pass1")
	}

	h.clock.Advance(11 * time.Minute)

	if _, err := h.engine.Authenticate(context.Background(), "u1", testPassword); err != nil {
		t.Fatalf("expected authentication after lock expiry, got %v", err)
	}
	status, _ := h.engine.LockoutStatus(operatorCtx(), "u1")
	if status.Locked || status.FailedAttempts != 0 {
		t.Fatalf("expected lockout reset after success, got %+v", status)
	}
}

func TestLockout_CounterResetsOnSuccessfulLogin(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		_, _ = h.engine.Authenticate(context.Background(), "u1", "Wrong#pass1")
	}
	if _, err := h.engine.Authenticate(context.Background(), "u1", testPassword); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		_, _ = h.engine.Authenticate(context.Background(), "u1", "Wrong#pass1")
	}

	status, _ := h.engine.LockoutStatus(operatorCtx(), "u1")
	if status.Locked {
		t.Fatalf("expected counter reset by successful login, got %+v", status)
	}
}

func TestLockout_AdminUnlockRestoresAccess(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		_, _ = h.engine.Authenticate(context.Background(), "u1", "Wrong#pass1")
	}

	if err := h.engine.AdminUnlock(context.Background(), "u1", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without operator, got %v", err)
	}
	if err := h.engine.AdminUnlock(context.Background(), "u1", "admin-1"); err != nil {
		t.Fatalf("AdminUnlock failed: %v", err)
	}
	if _, err := h.engine.Authenticate(context.Background(), "u1", testPassword); err != nil {
		t.Fatalf("expected access after unlock, got %v", err)
	}
}

func TestLockout_OtherSubjectsNotAffected(t *testing.T) {
	h := newHarness(t)
	h.store.put(Identity{SubjectID: "u2", Email: "bob@example.com", Active: true, PasswordHash: mustHash(t, testPassword)})

	for i := 0; i < 3; i++ {
		_, _ = h.engine.Authenticate(context.Background(), "u1", "Wrong#pass1")
	}
	if _, err := h.engine.Authenticate(context.Background(), "u2", testPassword); err != nil {
		t.Fatalf("expected u2 unaffected, got %v", err)
	}
}

func TestLockoutStatusRequiresOperator(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.LockoutStatus(context.Background(), "u1"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestAuthenticateRehashesOnCostUpgrade(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Password.BcryptCost = bcrypt.MinCost + 1
	})
	before, _ := h.store.get("u1")

	res, err := h.engine.Authenticate(context.Background(), "u1", testPassword)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if !res.Rehashed {
		t.Fatal("expected hash upgrade")
	}
	after, _ := h.store.get("u1")
	if after.PasswordHash == before.PasswordHash {
		t.Fatal("expected stored hash to change")
	}
	if cost, _ := bcrypt.Cost([]byte(after.PasswordHash)); cost != bcrypt.MinCost+1 {
		t.Fatalf("expected upgraded cost, got %d", cost)
	}

	res, err = h.engine.Authenticate(context.Background(), "u1", testPassword)
	if err != nil || res.Rehashed {
		t.Fatalf("expected second login without rehash, got res=%+v err=%v", res, err)
	}
}

func TestUpdatePasswordInvalidCurrent(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.UpdatePassword(context.Background(), "u1", "Wrong#pass1", "Fresh#Passw0rd")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricPasswordChangeInvalidCurrent]; got != 1 {
		t.Fatalf("expected invalid-current metric, got %d", got)
	}
}

func TestUpdatePasswordPolicyViolation(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.UpdatePassword(context.Background(), "u1", testPassword, "short")
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	var pv *PolicyViolationError
	if !errors.As(err, &pv) || len(pv.Violations) == 0 {
		t.Fatalf("expected violations, got %v", err)
	}
	codes := map[string]bool{}
	for _, v := range pv.Violations {
		codes[v.Code] = true
	}
	if !codes[password.CodeMinLength] || !codes[password.CodeUppercase] {
		t.Fatalf("expected min_length and uppercase violations, got %+v", pv.Violations)
	}
}

func TestUpdatePasswordRejectsOverlongForBcrypt(t *testing.T) {
	h := newHarness(t)

	candidate := "Aa1!" + strings.Repeat("x", 76)
	_, err := h.engine.UpdatePassword(context.Background(), "u1", testPassword, candidate)
	var pv *PolicyViolationError
	if !errors.As(err, &pv) {
		t.Fatalf("expected PolicyViolationError, got %v", err)
	}
	if errors.Is(err, ErrHashingUnavailable) || strings.Contains(err.Error(), "bcrypt") {
		t.Fatalf("expected no hashing detail in error, got %v", err)
	}
	found := false
	for _, v := range pv.Violations {
		if v.Code == password.CodeMaxLength {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected max_length violation, got %+v", pv.Violations)
	}

	if _, err := h.engine.UpdatePassword(context.Background(), "u1", testPassword, "Aa1!"+strings.Repeat("x", 68)); err != nil {
		t.Fatalf("expected 72-byte password accepted, got %v", err)
	}
}

func TestUpdatePasswordArgon2AllowsLongerPasswords(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Password.Algorithm = password.AlgorithmArgon2id
	})

	long := "Aa1!" + strings.Repeat("y", 96)
	if _, err := h.engine.UpdatePassword(context.Background(), "u1", testPassword, long); err != nil {
		t.Fatalf("expected 100-character password accepted under argon2id, got %v", err)
	}
	if _, err := h.engine.Authenticate(context.Background(), "u1", long); err != nil {
		t.Fatalf("expected long password to authenticate, got %v", err)
	}

	_, err := h.engine.UpdatePassword(context.Background(), "u1", long, "Aa1!"+strings.Repeat("z", 125))
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected 129-character password rejected, got %v", err)
	}
}

func TestGenerateTemporaryPasswordClampsLength(t *testing.T) {
	h := newHarness(t)

	temp, err := h.engine.GenerateTemporaryPassword(context.Background(), "u1", "admin-1", 100)
	if err != nil {
		t.Fatalf("GenerateTemporaryPassword failed: %v", err)
	}
	if len(temp.Password) != password.BcryptMaxBytes {
		t.Fatalf("expected length clamped to %d, got %d", password.BcryptMaxBytes, len(temp.Password))
	}
	if _, err := h.engine.Authenticate(context.Background(), "u1", temp.Password); err != nil {
		t.Fatalf("expected clamped temporary password to authenticate, got %v", err)
	}
}

func TestUpdatePasswordRotatesAndRejectsReuse(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.UpdatePassword(context.Background(), "u1", testPassword, "Fresh#Passw0rd")
	if err != nil {
		t.Fatalf("UpdatePassword failed: %v", err)
	}
	if !res.RequireReauth {
		t.Fatal("expected RequireReauth")
	}

	if _, err := h.engine.Authenticate(context.Background(), "u1", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := h.engine.Authenticate(context.Background(), "u1", "Fresh#Passw0rd"); err != nil {
		t.Fatalf("expected new password accepted, got %v", err)
	}

	id, _ := h.store.get("u1")
	if len(id.PasswordHistory) != 2 || id.PasswordHistory[0] != id.PasswordHash {
		t.Fatalf("expected history [new, old], got %d entries", len(id.PasswordHistory))
	}

	_, err = h.engine.UpdatePassword(context.Background(), "u1", "Fresh#Passw0rd", testPassword)
	if !errors.Is(err, ErrPasswordReused) {
		t.Fatalf("expected ErrPasswordReused for previous password, got %v", err)
	}
	_, err = h.engine.UpdatePassword(context.Background(), "u1", "Fresh#Passw0rd", "Fresh#Passw0rd")
	if !errors.Is(err, ErrPasswordReused) {
		t.Fatalf("expected ErrPasswordReused for current password, got %v", err)
	}
}

func TestUpdatePasswordHistoryIsBounded(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Password.HistorySize = 2
	})

	current := testPassword
	for _, next := range []string{"Second#Pass1", "Third#Pass22", "Fourth#Pass3"} {
		if _, err := h.engine.UpdatePassword(context.Background(), "u1", current, next); err != nil {
			t.Fatalf("change to %q failed: %v", next, err)
		}
		current = next
	}

	id, _ := h.store.get("u1")
	if len(id.PasswordHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(id.PasswordHistory))
	}
	// Aged out of history, so usable again.
	if _, err := h.engine.UpdatePassword(context.Background(), "u1", current, testPassword); err != nil {
		t.Fatalf("expected aged-out password to be allowed, got %v", err)
	}
}

func TestUpdatePasswordStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.mu.Lock()
	h.store.failWrites = true
	h.store.mu.Unlock()

	_, err := h.engine.UpdatePassword(context.Background(), "u1", testPassword, "Fresh#Passw0rd")
	if !errors.Is(err, ErrCredentialUnavailable) {
		t.Fatalf("expected ErrCredentialUnavailable, got %v", err)
	}
}

func TestValidatePasswordChangeRequest(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.ValidatePasswordChangeRequest(context.Background(), "u1", testPassword); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
	if err := h.engine.ValidatePasswordChangeRequest(context.Background(), "u1", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCheckPasswordHistory(t *testing.T) {
	h := newHarness(t)

	check, err := h.engine.CheckPasswordHistory(context.Background(), "u1", testPassword)
	if err != nil {
		t.Fatalf("CheckPasswordHistory failed: %v", err)
	}
	if check.Allowed || check.Reason != password.ReasonReused {
		t.Fatalf("expected current password disallowed, got %+v", check)
	}

	check, err = h.engine.CheckPasswordHistory(context.Background(), "u1", "Brand#New123")
	if err != nil || !check.Allowed {
		t.Fatalf("expected new password allowed, got %+v err=%v", check, err)
	}

	if _, err := h.engine.CheckPasswordHistory(context.Background(), "ghost", "x"); !errors.Is(err, ErrPersonNotFound) {
		t.Fatalf("expected ErrPersonNotFound, got %v", err)
	}
}

func TestForcePasswordChange(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.ForcePasswordChange(context.Background(), "u1", "admin-1"); err != nil {
		t.Fatalf("ForcePasswordChange failed: %v", err)
	}
	res, err := h.engine.Authenticate(context.Background(), "u1", testPassword)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if !res.RequirePasswordChange {
		t.Fatal("expected RequirePasswordChange")
	}

	if _, err := h.engine.UpdatePassword(context.Background(), "u1", testPassword, "Fresh#Passw0rd"); err != nil {
		t.Fatalf("UpdatePassword failed: %v", err)
	}
	id, _ := h.store.get("u1")
	if id.RequirePasswordChange {
		t.Fatal("expected flag cleared by password change")
	}
}

func TestGenerateTemporaryPassword(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		_, _ = h.engine.Authenticate(context.Background(), "u1", "Wrong#pass1")
	}

	if _, err := h.engine.GenerateTemporaryPassword(context.Background(), "u1", "", 0); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without operator, got %v", err)
	}

	temp, err := h.engine.GenerateTemporaryPassword(context.Background(), "u1", "admin-1", 0)
	if err != nil {
		t.Fatalf("GenerateTemporaryPassword failed: %v", err)
	}
	if len(temp.Password) != password.DefaultGeneratedLength {
		t.Fatalf("expected length %d, got %d", password.DefaultGeneratedLength, len(temp.Password))
	}
	if ok, vs := password.DefaultPolicy().Validate(temp.Password); !ok {
		t.Fatalf("temporary password fails policy: %+v", vs)
	}

	res, err := h.engine.Authenticate(context.Background(), "u1", temp.Password)
	if err != nil {
		t.Fatalf("expected temporary password to work and lock to be cleared, got %v", err)
	}
	if !res.RequirePasswordChange {
		t.Fatal("expected RequirePasswordChange after temporary password")
	}
	if _, err := h.engine.Authenticate(context.Background(), "u1", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected previous password rejected, got %v", err)
	}
}
