// Package stores provides the Redis-backed session token denylist.
//
// # Design
//
// A revoked token is recorded under its jti with a TTL equal to the token's
// remaining lifetime, so the denylist never outgrows the set of tokens that
// could still verify. Once the TTL lapses, signature verification rejects
// the token on expiry alone.
//
// # Architecture boundaries
//
// This package owns persistence for revocation entries only. It does NOT
// parse tokens or decide whether a token is acceptable; the Engine does.
//
// # What this package must NOT do
//
//   - Import credguard or any sibling internal package.
//   - Store raw token strings.
package stores
