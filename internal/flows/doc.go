// Package flows contains pure-function orchestrators for the confirmation
// workflows of the Engine.
//
// Each flow function (RunInitiateEmailChange, RunConfirmDeletion, etc.)
// accepts a typed dependency struct and returns results without side
// effects beyond those dependencies. Every branch of a flow emits its own
// audit event through deps.EmitAudit.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the confirmation store, identity
// lookups, notification delivery, audit emission, and metrics. They do NOT
// own any of these resources. Ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import credguard (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency funcs.
//   - Return which token failure occurred. Callers only see TokenInvalid.
package flows
