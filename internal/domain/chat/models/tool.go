package models

import "context"

// ToolSpec is the part of a tool definition a backend sees: a name, a
// description and a JSON schema for its arguments.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolExecutor runs tool calls emitted by a backend. Failures are reported
// inside the returned ToolResult, never as a Go error.
type ToolExecutor interface {
	ExecuteToolCall(ctx context.Context, call ToolCall) ToolResult
}
