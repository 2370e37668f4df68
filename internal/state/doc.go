// Package state holds the journaled world state that units of work execute
// against: per-address balances, nonces, code kinds, and 32-byte storage slots.
//
// # Storage isolation
//
// Module state is never laid out sequentially. Each module owns a Namespace
// whose base slot is keccak256(name); struct fields live at base+i and
// mapping entries at keccak256(pad32(key) ‖ fieldSlot). Several independently
// written code bodies can therefore share one address's storage (the proxy's)
// without colliding with each other or with the proxy's own fields.
//
// # Atomicity
//
// Every mutation appends to a journal. Snapshot returns a journal position and
// RevertToSnapshot undoes everything after it, so nested calls can fail
// without leaking partial writes. Commit hands the accumulated changes to the
// persistence layer and clears the journal.
package state
