// Package audit implements async event dispatching for credential and
// confirmation-token workflows.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, zerolog, fan-out, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured audit record with id, timestamp, type, subject, actor, client metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the Engine and flow functions do.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import credguard or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
