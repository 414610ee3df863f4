package ir

// Version constants for the record schema and engine.
const (
	// SchemaVersion is the record schema version.
	SchemaVersion = "1"

	// EngineVersion is the anchor engine version.
	EngineVersion = "0.1.0"
)
