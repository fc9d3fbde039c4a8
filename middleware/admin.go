package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/credguard"
)

// RequireAdmin is RequireAccess for operator endpoints. The token must carry
// is_admin=true; the request context is then marked with
// credguard.WithOperator so lockout details become visible.
func RequireAdmin(engine *credguard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := verify(engine, r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if isAdmin, _ := claims.Custom[credguard.ClaimIsAdmin].(bool); !isAdmin {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			ctx = credguard.WithOperator(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
