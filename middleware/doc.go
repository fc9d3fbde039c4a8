// Package middleware exposes net/http adapters over credguard.Engine.
//
// # Guards
//
//   - [RequireAccess]: bearer access token, verified and checked against the
//     denylist by Engine.VerifyAccessToken.
//   - [RequireAdmin]: RequireAccess plus the is_admin claim; marks the request
//     context as an operator context.
//   - [RequestContext]: copies client IP, User-Agent and request id onto the
//     context so audit events carry them.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT parse
// tokens itself; every decision is delegated to the Engine. Rejections are a
// bare 401 or 403 and never say why a token failed.
package middleware
