package core

// ToolDefinition declaratively exposes a callable capability. Parameters is a
// JSON Schema object (minimal subset: type, properties, required, enum).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolExecutor runs an already-validated capability call and returns a
// structured result. Execution failures surface as failure results, never as
// lost errors; the run context scopes the call to its task and carries the
// cancellation context.
type ToolExecutor interface {
	Execute(rc *RunContext, call ToolCall) ToolResult
	// Definition returns the schema for a named tool, or false when unknown.
	Definition(name string) (ToolDefinition, bool)
	// Definitions lists all registered tools for exposure to brains.
	Definitions() []ToolDefinition
}
