// Package password implements password hashing, policy checks, reuse
// history and secure generation.
//
// # Hash formats
//
// bcrypt is the default algorithm (cost 12). argon2id is available as an
// alternative and is encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The [Hasher] returned by [New] verifies hashes of either algorithm, and
// [Hasher.NeedsRehash] reports hashes that should be upgraded on the next
// successful login.
//
// # Architecture boundaries
//
// This package is pure: it owns hashing, policy and history arithmetic only.
// Credential persistence and lockout are handled by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other credguard package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
