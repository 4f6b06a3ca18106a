package ir

// Version constants for the graph schema and tool.
const (
	// IRVersion is the graph.json schema version.
	IRVersion = "1"

	// ToolVersion is the quantflow version recorded in bundle metadata.
	ToolVersion = "0.1.0"
)
