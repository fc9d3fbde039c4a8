// Package internal groups the engine's private building blocks.
//
// # Sub-packages
//
//   - audit: event model, sinks and the async dispatcher
//   - flows: pure orchestrators for email change and two-step deletion
//   - limiters: Redis-backed lockout state
//   - metrics: lock-free counters and the hashing latency histogram
//   - stores: Redis JTI denylist
//   - appconfig: daemon configuration loading
//
// Nothing here appears in the public credguard API.
package internal
