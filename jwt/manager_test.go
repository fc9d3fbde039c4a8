package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, mutate func(*Config)) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Now()}
	cfg := Config{SigningKey: testKey, Now: clock.Now}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, clock
}

func TestIssueAndVerifyAccess(t *testing.T) {
	m, _ := newTestManager(t, nil)

	tok, err := m.IssueAccess("u1", map[string]any{"email": "a@example.com", "is_admin": true}, 0)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	claims, err := m.Verify(tok, TypeAccess)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "u1" || claims.Type != TypeAccess || claims.ID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Custom["email"] != "a@example.com" || claims.Custom["is_admin"] != true {
		t.Fatalf("custom claims lost: %+v", claims.Custom)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt); got != DefaultAccessTTL {
		t.Fatalf("expected default access ttl, got %v", got)
	}
}

func TestTypeConfusionRejected(t *testing.T) {
	m, _ := newTestManager(t, nil)

	access, _ := m.IssueAccess("u1", nil, 0)
	refresh, _ := m.IssueRefresh("u1", 0)

	if _, err := m.Verify(refresh, TypeAccess); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected refresh token rejected as access, got %v", err)
	}
	if _, err := m.Verify(access, TypeRefresh); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected access token rejected as refresh, got %v", err)
	}
	if _, err := m.Verify(refresh, TypeRefresh); err != nil {
		t.Fatalf("expected refresh token accepted: %v", err)
	}
}

func TestExpiry(t *testing.T) {
	m, clock := newTestManager(t, nil)

	tok, _ := m.IssueAccess("u1", nil, time.Minute)
	if m.IsExpired(tok) {
		t.Fatal("fresh token reported expired")
	}

	clock.now = clock.now.Add(2 * time.Minute)
	if _, err := m.Verify(tok, TypeAccess); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected expired token invalid, got %v", err)
	}
	if !m.IsExpired(tok) {
		t.Fatal("expected IsExpired true")
	}
	if _, ok := m.Subject(tok); ok {
		t.Fatal("expected no subject for expired token")
	}
}

func TestTamperedAndMalformed(t *testing.T) {
	m, _ := newTestManager(t, nil)
	tok, _ := m.IssueAccess("u1", nil, 0)

	parts := strings.Split(tok, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	for _, bad := range []string{"", "abc", "a.b.c", tampered} {
		if _, err := m.Verify(bad, TypeAccess); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected %q invalid, got %v", bad, err)
		}
		if !m.IsExpired(bad) {
			t.Fatalf("expected %q reported expired", bad)
		}
	}

	other, _ := newTestManager(t, func(c *Config) { c.SigningKey = []byte("another-key-another-key-another-k") })
	if _, err := other.Verify(tok, TypeAccess); !errors.Is(err, ErrInvalid) {
		t.Fatal("expected token signed with another key rejected")
	}
}

func TestRejectsNoneAndOtherAlgorithms(t *testing.T) {
	m, clock := newTestManager(t, nil)

	claims := gjwt.MapClaims{"sub": "u1", "type": "access", "iat": clock.now.Unix(), "exp": clock.now.Add(time.Minute).Unix()}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims)
	s, err := tok.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(s, TypeAccess); !errors.Is(err, ErrInvalid) {
		t.Fatal("expected HS512 token rejected")
	}

	none := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims)
	s, _ = none.SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if _, err := m.Verify(s, TypeAccess); !errors.Is(err, ErrInvalid) {
		t.Fatal("expected alg=none token rejected")
	}
}

func TestReservedClaimsCannotBeOverridden(t *testing.T) {
	m, _ := newTestManager(t, nil)
	if _, err := m.IssueAccess("u1", map[string]any{"type": "refresh"}, 0); err == nil {
		t.Fatal("expected reserved claim to be rejected")
	}
	if _, err := m.IssueAccess("", nil, 0); err == nil {
		t.Fatal("expected empty subject to be rejected")
	}
}

func TestKeyRotation(t *testing.T) {
	oldKey := []byte("old-key-old-key-old-key-old-key!")
	old, clock := newTestManager(t, func(c *Config) {
		c.SigningKey = oldKey
		c.KeyID = "k1"
	})
	tok, _ := old.IssueAccess("u1", nil, 0)

	rotated, _ := newTestManager(t, func(c *Config) {
		c.KeyID = "k2"
		c.VerifyKeys = map[string][]byte{"k1": oldKey, "k2": testKey}
		c.Now = clock.Now
	})
	if _, err := rotated.Verify(tok, TypeAccess); err != nil {
		t.Fatalf("expected old token to verify after rotation: %v", err)
	}

	retired, _ := newTestManager(t, func(c *Config) {
		c.KeyID = "k2"
		c.VerifyKeys = map[string][]byte{"k2": testKey}
	})
	if _, err := retired.Verify(tok, TypeAccess); !errors.Is(err, ErrInvalid) {
		t.Fatal("expected token with retired kid rejected")
	}
}

func TestIssuerAudience(t *testing.T) {
	m, clock := newTestManager(t, func(c *Config) {
		c.Issuer = "credguard"
		c.Audience = "api"
	})
	tok, _ := m.IssueAccess("u1", nil, 0)
	if _, err := m.Verify(tok, TypeAccess); err != nil {
		t.Fatalf("verify: %v", err)
	}

	other, _ := newTestManager(t, func(c *Config) {
		c.Issuer = "credguard"
		c.Audience = "admin"
		c.Now = clock.Now
	})
	if _, err := other.Verify(tok, TypeAccess); !errors.Is(err, ErrInvalid) {
		t.Fatal("expected audience mismatch rejected")
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []Config{
		{SigningKey: []byte("short")},
		{SigningKey: testKey, Leeway: time.Hour},
		{SigningKey: testKey, AccessTTL: -time.Second},
		{SigningKey: testKey, KeyID: "k9", VerifyKeys: map[string][]byte{"k1": testKey}},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
