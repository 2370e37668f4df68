// Package store provides SQLite-backed durable storage for the dispatch
// runtime.
//
// The store holds two things:
//   - World state: accounts (balance, nonce, code kind) and storage slots,
//     written as the final values of each committed unit of work
//   - The call log: one record per unit of work (committed or reverted) and
//     the events emitted by committed units
//
// # Critical Patterns
//
// Unit atomicity:
//   - CommitUnit writes a call record, its state changes and its events in a
//     single transaction; a failure leaves nothing behind
//
// Logical time:
//   - All ordering uses seq INTEGER from the engine's logical clock, never
//     timestamps
//   - Queries order by seq ASC so reads are identical across replays
//
// Canonical payloads:
//   - Event fields are stored as RFC 8785 canonical JSON
//
// # Database Configuration
//
// Pragmas are set through the DSN so every pooled connection carries them:
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: 5 second lock wait
//   - foreign_keys=ON: events must reference their call
package store
