// Package ir provides the canonical record types shared by the engine, the
// store, and the scenario harness: call records, emitted events, and the
// constrained value model their payloads are built from.
//
// ir imports nothing internal. Key constraints:
//   - no floats anywhere; amounts are decimal strings, counters are int64
//   - addresses are EIP-55 hex strings, opaque bytes are 0x-prefixed hex
//   - ordering uses the logical seq only, never wall-clock time
//   - content ids are SHA-256 over RFC 8785 canonical JSON with domain separation
package ir
