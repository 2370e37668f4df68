// Package vm executes units of work against the journaled world state.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// Every request (call, view, deploy, fund) is enqueued and processed by
// Engine.Run in exactly one goroutine. A unit of work - the top-level call
// plus every nested call, transfer and delegated execution it triggers - runs
// to completion before the next one is dequeued. This is the only concurrency
// control in the system: a balance check followed by a debit inside one unit
// cannot be raced by another unit.
//
// Atomicity:
// Each nested call takes a state snapshot and an event-log mark. A failing
// call reverts both, and a failing top-level call reverts the whole unit.
// Committed units hand their changeset, call record and events to the Sink in
// one step; if the sink rejects them the unit is reverted as well.
//
// Code and storage context:
// Contracts are Go values implementing Contract, installed at an address by
// kind name. A regular Call runs the callee's code against the callee's
// storage. DelegateCall runs another address's code against the current
// frame's storage, keeping caller and value - this is how the dispatch proxy
// executes module code inside its own state.
//
// Ordering:
// Call records and events are stamped with a monotonic logical seq from Clock.
// Wall-clock time is only exposed to contracts as the execution timestamp.
package vm
