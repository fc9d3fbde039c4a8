// Package credguard provides a credential and account-lifecycle engine:
// password hashing and policy, per-subject failed-login lockout, signed
// session tokens, and single-use confirmation tokens for email changes
// and account deletion.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// credguard is the public surface. It exposes [Engine], [Builder], [Config], and value types
// (LoginResult, LockoutStatus, MetricsSnapshot, etc.). Flow orchestration, Redis lockout
// scripts, the token denylist and audit dispatch live under internal/ and are never
// exported. Person records are reached only through [IdentityStore] and
// [SubscriptionLookup], which callers implement (see store/postgres).
//
// # What this package must NOT do
//
//   - Return or log plaintext passwords, except the one-time value of
//     [Engine.GenerateTemporaryPassword].
//   - Tell an anonymous caller that an account is locked; only operator
//     contexts (see [WithOperator]) receive [ErrAccountLocked].
//   - Explain why a confirmation token was refused. Expired, spent, unknown
//     and mismatched tokens all surface as [ErrTokenInvalid].
//   - Import any sub-package that re-imports credguard (no import cycles).
//
// # Concurrency contract
//
// Confirmation tokens are consumed atomically: of any number of concurrent
// confirmations of one token, exactly one succeeds. Lockout counters are
// updated atomically per subject. Hashing runs on a bounded worker pool.
package credguard
