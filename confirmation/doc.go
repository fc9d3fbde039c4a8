// Package confirmation implements single-use, time-boxed confirmation tokens
// shared by every workflow that needs out-of-band proof of intent.
//
// A token is 32 random bytes encoded as unpadded base64url. Only its SHA-256
// is stored; the raw value exists solely in the link delivered to the user.
// Each record carries a [Purpose], a subject id, a small string payload, an
// expiry instant and a used flag.
//
// # Guarantees
//
//   - Consume is atomic. Concurrent redemptions of one token yield exactly
//     one [StatusOK]; the rest see [StatusAlreadyUsed].
//   - A token at or past its expiry yields [StatusExpired] and is spent by
//     that lookup, even if it was never redeemed.
//   - A token presented for the wrong purpose yields [StatusPurposeMismatch]
//     and stays redeemable for its own purpose.
//   - At most one pending token exists per (purpose, subject).
//
// [RedisStore] is the durable implementation. [MemoryStore] serves
// single-process use and tests. Sweep is storage reclamation only; expiry
// is always enforced by Consume.
package confirmation
