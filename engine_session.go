package credguard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/credguard/jwt"
)

// Custom claim names set on access tokens by Login and Refresh.
const (
	ClaimEmail                 = "email"
	ClaimIsAdmin               = "is_admin"
	ClaimRequirePasswordChange = "require_password_change"
)

// SessionClaims is the verified content of a session token.
type SessionClaims = jwt.Claims

// IssueAccessToken signs an access token for subjectID. A zero ttl uses
// JWTConfig.AccessTTL. Custom claims may not override reserved names.
func (e *Engine) IssueAccessToken(subjectID string, custom map[string]any, ttl time.Duration) (string, error) {
	if e == nil || e.jwtManager == nil {
		return "", ErrEngineNotReady
	}
	if strings.TrimSpace(subjectID) == "" {
		return "", ErrInvalidRequest
	}
	tok, err := e.jwtManager.IssueAccess(subjectID, custom, ttl)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricTokenIssued)
	return tok, nil
}

// IssueRefreshToken signs a refresh token for subjectID. A zero ttl uses
// JWTConfig.RefreshTTL.
func (e *Engine) IssueRefreshToken(subjectID string, ttl time.Duration) (string, error) {
	if e == nil || e.jwtManager == nil {
		return "", ErrEngineNotReady
	}
	if strings.TrimSpace(subjectID) == "" {
		return "", ErrInvalidRequest
	}
	tok, err := e.jwtManager.IssueRefresh(subjectID, ttl)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricTokenIssued)
	return tok, nil
}

// VerifyAccessToken describes the verifyaccesstoken operation and its observable behavior.
//
// VerifyAccessToken may return an error when input validation, dependency calls, or security checks fail.
// VerifyAccessToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) VerifyAccessToken(ctx context.Context, token string) (*SessionClaims, error) {
	return e.verifyToken(ctx, token, jwt.TypeAccess)
}

// VerifyRefreshToken describes the verifyrefreshtoken operation and its observable behavior.
//
// VerifyRefreshToken may return an error when input validation, dependency calls, or security checks fail.
// VerifyRefreshToken does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) VerifyRefreshToken(ctx context.Context, token string) (*SessionClaims, error) {
	return e.verifyToken(ctx, token, jwt.TypeRefresh)
}

func (e *Engine) verifyToken(ctx context.Context, token string, typ jwt.TokenType) (*SessionClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.Verify(token, typ)
	if err != nil {
		e.metricInc(MetricTokenVerifyFailure)
		return nil, ErrTokenInvalid
	}
	if e.denylist != nil {
		revoked, err := e.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			e.logger.Error().Err(err).Msg("denylist lookup failed")
			e.metricInc(MetricTokenVerifyFailure)
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
		if revoked {
			e.metricInc(MetricTokenVerifyFailure)
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// TokenSubject extracts the subject from a well-signed, unexpired token.
// It returns false for anything that does not verify, including expired
// tokens.
func (e *Engine) TokenSubject(token string) (string, bool) {
	if e == nil || e.jwtManager == nil {
		return "", false
	}
	return e.jwtManager.Subject(token)
}

// IsTokenExpired reports whether token is expired or unusable.
func (e *Engine) IsTokenExpired(token string) bool {
	if e == nil || e.jwtManager == nil {
		return true
	}
	return e.jwtManager.IsExpired(token)
}

// RevokeToken denylists a verified token for its remaining lifetime.
// It requires DenylistConfig.Enabled.
func (e *Engine) RevokeToken(ctx context.Context, token string) error {
	if e == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}
	if e.denylist == nil {
		return fmt.Errorf("%w: token denylist disabled", ErrInvalidRequest)
	}

	claims, err := e.jwtManager.Verify(token, jwt.TypeAccess)
	if err != nil {
		claims, err = e.jwtManager.Verify(token, jwt.TypeRefresh)
	}
	if err != nil {
		return ErrTokenInvalid
	}

	remaining := claims.ExpiresAt.Sub(e.now())
	added, err := e.denylist.Revoke(ctx, claims.ID, remaining)
	if err != nil {
		e.emitAudit(ctx, auditEventTokenRevoked, false, claims.Subject, err, nil)
		return err
	}
	if added {
		e.metricInc(MetricTokenRevoked)
	}
	e.emitAudit(ctx, auditEventTokenRevoked, true, claims.Subject, nil, func() map[string]string {
		return map[string]string{"token_type": string(claims.Type)}
	})
	return nil
}

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login goes through Authenticate and so updates lockout state for the identity.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	if e == nil || e.identities == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || plaintext == "" {
		e.emitAudit(ctx, auditEventLoginFailure, false, "", ErrInvalidCredentials, reasonMeta("invalid_input"))
		return nil, ErrInvalidCredentials
	}

	identity, err := e.identities.GetIdentityByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			e.equalizeTiming(ctx, plaintext)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", ErrInvalidCredentials, reasonMeta("unknown_email"))
			return nil, ErrInvalidCredentials
		}
		e.logger.Warn().Err(err).Msg("identity lookup by email failed")
		return nil, ErrCredentialUnavailable
	}

	auth, err := e.Authenticate(ctx, identity.SubjectID, plaintext)
	if err != nil {
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.SubjectID, err, nil)
		return nil, err
	}

	result, err := e.issuePair(auth.SubjectID, auth.Email, auth.IsAdmin, auth.RequirePasswordChange)
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, auditEventLoginSuccess, true, auth.SubjectID, nil, nil)
	return result, nil
}

// Refresh exchanges a refresh token for a new pair. The identity is
// reloaded so claims reflect current state; disabled or deleted
// identities are refused. With the denylist enabled the presented token
// is revoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if e == nil || e.identities == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.VerifyRefreshToken(ctx, refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", err, nil)
		return nil, err
	}

	identity, err := e.getIdentity(ctx, claims.Subject)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	if identity == nil || !identity.Active {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.Subject, ErrTokenInvalid, reasonMeta("identity_unavailable"))
		return nil, ErrTokenInvalid
	}

	if e.denylist != nil {
		added, err := e.denylist.Revoke(ctx, claims.ID, claims.ExpiresAt.Sub(e.now()))
		if err != nil {
			e.metricInc(MetricRefreshFailure)
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
		// A concurrent Refresh with the same token got there first.
		if !added {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.Subject, ErrTokenRevoked, reasonMeta("replayed"))
			return nil, ErrTokenRevoked
		}
	}

	result, err := e.issuePair(identity.SubjectID, identity.Email, identity.IsAdmin, identity.RequirePasswordChange)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, identity.SubjectID, nil, nil)
	return result, nil
}

func (e *Engine) issuePair(subjectID, email string, isAdmin, requireChange bool) (*LoginResult, error) {
	now := e.now()
	access, err := e.IssueAccessToken(subjectID, map[string]any{
		ClaimEmail:                 email,
		ClaimIsAdmin:               isAdmin,
		ClaimRequirePasswordChange: requireChange,
	}, 0)
	if err != nil {
		return nil, err
	}
	refresh, err := e.IssueRefreshToken(subjectID, 0)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		SubjectID:             subjectID,
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessExpiresAt:       now.Add(e.jwtManager.AccessTTL()),
		RefreshExpiresAt:      now.Add(e.jwtManager.RefreshTTL()),
		RequirePasswordChange: requireChange,
	}, nil
}
