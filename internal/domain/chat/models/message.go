package models

import "encoding/json"

// Role tags a message in a conversation turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single role-tagged entry of a conversation turn
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a normalized request from a backend to run a registered tool.
// Arguments holds the raw JSON text the model produced.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the outcome of executing a ToolCall. Exactly one of Output
// and Error is meaningful.
type ToolResult struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the tool produced an error payload
func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// Content is the text handed back to the model for this result
func (r ToolResult) Content() string {
	if !r.Failed() {
		return r.Output
	}
	payload, err := json.Marshal(map[string]string{"error": r.Error})
	if err != nil {
		return "error: " + r.Error
	}
	return string(payload)
}

// ToolTraceEntry pairs a dispatched call with its result
type ToolTraceEntry struct {
	Round  int        `json:"round"`
	Call   ToolCall   `json:"call"`
	Result ToolResult `json:"result"`
}
