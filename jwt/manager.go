package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	// TypeAccess is an exported constant or variable used by the authentication engine.
	TypeAccess TokenType = "access"
	// TypeRefresh is an exported constant or variable used by the authentication engine.
	TypeRefresh TokenType = "refresh"
)

const (
	// DefaultAccessTTL is applied when Config.AccessTTL is zero.
	DefaultAccessTTL = 60 * time.Minute
	// DefaultRefreshTTL is applied when Config.RefreshTTL is zero.
	DefaultRefreshTTL = 7 * 24 * time.Hour

	minKeyBytes = 32
)

// ErrInvalid is returned for every verification failure: malformed input,
// bad signature, expiry, unknown key, or a token of the wrong type.
var ErrInvalid = errors.New("invalid session token")

var reservedClaims = map[string]struct{}{
	"sub": {}, "type": {}, "iat": {}, "exp": {}, "nbf": {}, "jti": {}, "iss": {}, "aud": {},
}

// Config defines a public type used by credguard APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	SigningKey   []byte
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration

	// KeyID is written to the kid header. VerifyKeys, when set, is the
	// complete kid -> key set accepted during verification, which allows
	// rotating SigningKey without invalidating outstanding tokens.
	KeyID      string
	VerifyKeys map[string][]byte

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Manager signs and verifies HS256 session tokens. It keeps no state
// beyond its configuration.
//
// Manager instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Manager struct {
	config Config
}

// Claims is the verified content of a session token.
type Claims struct {
	Subject   string
	Type      TokenType
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Custom    map[string]any
}

// NewManager describes the newmanager operation and its observable behavior.
//
// NewManager may return an error when input validation, dependency calls, or security checks fail.
// NewManager does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if len(cfg.SigningKey) < minKeyBytes {
		return nil, fmt.Errorf("hs256 signing key must be at least %d bytes", minKeyBytes)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if len(key) < minKeyBytes {
			return nil, fmt.Errorf("verify key for kid %q is shorter than %d bytes", kid, minKeyBytes)
		}
	}
	if len(cfg.VerifyKeys) > 0 {
		if cfg.KeyID == "" {
			return nil, errors.New("VerifyKeys requires KeyID")
		}
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{config: cfg}, nil
}

// AccessTTL returns the configured default access-token lifetime.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// RefreshTTL returns the configured default refresh-token lifetime.
func (j *Manager) RefreshTTL() time.Duration { return j.config.RefreshTTL }

// IssueAccess describes the issueaccess operation and its observable behavior.
//
// Custom claims are copied into the token; reserved registered names are
// rejected rather than overwritten. A non-positive ttl selects AccessTTL.
func (j *Manager) IssueAccess(subject string, custom map[string]any, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = j.config.AccessTTL
	}
	return j.issue(subject, TypeAccess, custom, ttl)
}

// IssueRefresh describes the issuerefresh operation and its observable behavior.
//
// Refresh tokens carry no custom claims. A non-positive ttl selects RefreshTTL.
func (j *Manager) IssueRefresh(subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = j.config.RefreshTTL
	}
	return j.issue(subject, TypeRefresh, nil, ttl)
}

func (j *Manager) issue(subject string, typ TokenType, custom map[string]any, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("empty subject")
	}

	now := j.config.Now()
	claims := jwt.MapClaims{}
	for k, v := range custom {
		if _, reserved := reservedClaims[k]; reserved {
			return "", fmt.Errorf("claim %q is reserved", k)
		}
		claims[k] = v
	}
	claims["sub"] = subject
	claims["type"] = string(typ)
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()
	claims["jti"] = uuid.NewString()
	if j.config.Issuer != "" {
		claims["iss"] = j.config.Issuer
	}
	if j.config.Audience != "" {
		claims["aud"] = j.config.Audience
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	return token.SignedString(j.config.SigningKey)
}

// Verify describes the verify operation and its observable behavior.
//
// Verify returns ErrInvalid, never partial claims, when the token is
// malformed, badly signed, expired, or not of the expected type.
func (j *Manager) Verify(tokenStr string, expected TokenType) (*Claims, error) {
	claims, err := j.parse(tokenStr, true)
	if err != nil {
		return nil, ErrInvalid
	}
	if claims.Type != expected {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Subject returns the subject of a valid, unexpired token of either type.
func (j *Manager) Subject(tokenStr string) (string, bool) {
	claims, err := j.parse(tokenStr, true)
	if err != nil {
		return "", false
	}
	return claims.Subject, true
}

// IsExpired reports whether a correctly signed token is past its expiry.
// Tokens that fail verification for any other reason are also reported as
// expired, so callers never treat them as usable.
func (j *Manager) IsExpired(tokenStr string) bool {
	claims, err := j.parse(tokenStr, false)
	if err != nil {
		return true
	}
	return !claims.ExpiresAt.After(j.config.Now())
}

func (j *Manager) parse(tokenStr string, checkExpiry bool) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.config.Now),
		jwt.WithIssuedAt(),
	}
	if checkExpiry {
		options = append(options, jwt.WithExpirationRequired())
	} else {
		options = append(options, jwt.WithoutClaimsValidation())
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	mc := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenStr, mc, j.keyFunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return j.toClaims(mc)
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return j.config.SigningKey, nil
}

func (j *Manager) toClaims(mc jwt.MapClaims) (*Claims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("missing sub")
	}
	typ, _ := mc["type"].(string)
	if typ != string(TypeAccess) && typ != string(TypeRefresh) {
		return nil, errors.New("missing or unknown type")
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, errors.New("missing exp")
	}
	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, errors.New("missing iat")
	}
	if j.config.MaxFutureIAT > 0 && iat.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return nil, errors.New("token iat too far in the future")
	}
	jti, _ := mc["jti"].(string)

	custom := make(map[string]any)
	for k, v := range mc {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		custom[k] = v
	}

	return &Claims{
		Subject:   sub,
		Type:      TokenType(typ),
		ID:        jti,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
		Custom:    custom,
	}, nil
}
