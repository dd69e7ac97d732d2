package models

// QueryRequest is one user turn with every option already resolved
type QueryRequest struct {
	Text        string  `json:"text" validate:"required"`
	Backend     string  `json:"backend" validate:"required,oneof=groq openai ollama"`
	Model       string  `json:"model" validate:"required"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=1"`
	UseTools    bool    `json:"use_tools"`
	ShowSources bool    `json:"show_sources"`
}

// SourceRef describes one source document surfaced to the backend
type SourceRef struct {
	SourceID   string     `json:"source_id"`
	SourceType SourceType `json:"source_type"`
	Score      float64    `json:"score"`
}

// Answer is the final product of an orchestration run
type Answer struct {
	ID            string           `json:"id"`
	Text          string           `json:"text"`
	Sources       []string         `json:"sources"`
	SourceDetails []SourceRef      `json:"source_details,omitempty"`
	ToolTrace     []ToolTraceEntry `json:"tool_trace,omitempty"`
	Notices       []string         `json:"notices,omitempty"`
	Backend       string           `json:"backend"`
	Model         string           `json:"model"`
	Rounds        int              `json:"rounds"`
	// States is the path the run took through the answer state machine
	States []string `json:"states,omitempty"`
}
