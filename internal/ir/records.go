package ir

// CallStatus is the outcome of a unit of work.
type CallStatus string

const (
	CallCommitted CallStatus = "committed"
	CallReverted  CallStatus = "reverted"
)

// CallRecord describes one top-level unit of work, whether it committed or
// reverted.
type CallRecord struct {
	ID        string     `json:"id"`      // UUIDv7 assigned on submission
	Seq       int64      `json:"seq"`     // Logical clock
	Kind      string     `json:"kind"`    // "call", "deploy" or "fund"
	From      string     `json:"from"`    // EIP-55 hex
	To        string     `json:"to"`      // EIP-55 hex; created address for deploys
	Value     string     `json:"value"`   // Decimal
	Input     string     `json:"input"`   // 0x-hex call data
	Digest    string     `json:"digest"`  // CallDigest of the request
	Status    CallStatus `json:"status"`
	ErrorCode string     `json:"error_code,omitempty"`
	Error     string     `json:"error,omitempty"`
	Output    string     `json:"output,omitempty"` // 0x-hex return data
	Timestamp int64      `json:"timestamp"`        // Unix seconds of the execution context
}

// Event is one entry of the append-only event log. Only committed units of
// work contribute events.
type Event struct {
	ID      string `json:"id"`      // Content-addressed (EventID)
	Seq     int64  `json:"seq"`     // Logical clock, strictly increasing
	CallID  string `json:"call_id"` // Unit of work that emitted it
	Emitter string `json:"emitter"` // Storage context (proxy address for routed modules)
	Name    string `json:"name"`
	Fields  Object `json:"fields"`
}
