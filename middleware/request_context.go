package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/credguard"
	"github.com/google/uuid"
)

// RequestIDHeader is read, or generated and echoed back, by RequestContext.
const RequestIDHeader = "X-Request-ID"

// RequestContext attaches client IP, User-Agent and a request id to the
// request context. X-Forwarded-For is honoured only when trustProxy is set.
func RequestContext(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := credguard.WithClientIP(r.Context(), clientIP(r, trustProxy))
			ctx = credguard.WithUserAgent(ctx, r.UserAgent())
			ctx = credguard.WithRequestID(ctx, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
