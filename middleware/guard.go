package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/credguard"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by RequireAccess.
func ClaimsFromContext(ctx context.Context) (*credguard.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*credguard.SessionClaims)
	return claims, ok
}

// RequireAccess rejects requests without a valid, non-revoked access token.
// Refresh tokens are refused.
func RequireAccess(engine *credguard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := verify(engine, r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verify(engine *credguard.Engine, r *http.Request) (*credguard.SessionClaims, bool) {
	if engine == nil {
		return nil, false
	}
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, false
	}
	claims, err := engine.VerifyAccessToken(r.Context(), token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
