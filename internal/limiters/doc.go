// Package limiters holds the Redis-backed lockout store.
//
// [LockoutStore] persists [lockout.State] as a Redis hash plus a bounded list
// of client IPs. Failure recording runs as a single Lua script so concurrent
// failures for one subject are serialized by Redis.
//
// # Architecture boundaries
//
// The store owns its Redis key namespace and error type. Threshold and
// duration come from the lockout.Policy supplied at construction time.
//
// # What this package must NOT do
//
//   - Import credguard or any sibling internal package.
//   - Decide what a caller is told about a lock. The Engine does that.
package limiters
