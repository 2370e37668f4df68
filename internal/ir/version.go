package ir

// Version constants for persisted records.
const (
	// RecordVersion is the schema version of CallRecord and Event.
	RecordVersion = "1"

	// EngineVersion is the dispatch engine version.
	EngineVersion = "0.1.0"
)
