package assistant

import (
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
)

// UserMessage represents an incoming message from the user. Unset options
// fall back to the server configuration.
type UserMessage struct {
	Content     string   `json:"content"`
	MessageID   string   `json:"message_id,omitempty"`
	Backend     string   `json:"backend,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	UseTools    *bool    `json:"use_tools,omitempty"`
	ShowSources *bool    `json:"show_sources,omitempty"`
	// Reset clears the conversation history instead of asking a question
	Reset bool `json:"reset,omitempty"`
}

// AssistantResponse represents a response from the assistant
type AssistantResponse struct {
	RequestID string             `json:"request_id"`
	MessageID string             `json:"message_id,omitempty"`
	Content   string             `json:"content"`
	Status    string             `json:"status"` // "streaming", "complete", or "error"
	Sources   []models.SourceRef `json:"sources,omitempty"`
	Notices   []string           `json:"notices,omitempty"`
	ErrorKind string             `json:"error_kind,omitempty"`
}

// ResponseStatus defines the possible states of an assistant response
const (
	StatusStreaming = "streaming"
	StatusComplete  = "complete"
	StatusError     = "error"
)

// Apply copies the options set on the message onto a request
func (m UserMessage) Apply(req *models.QueryRequest) {
	if m.Backend != "" && m.Backend != req.Backend {
		req.Backend = m.Backend
		// a model chosen for another backend does not carry over
		req.Model = ""
		if p, err := llm.ParseProvider(m.Backend); err == nil {
			req.Model = p.DefaultModel()
		}
	}
	if m.Model != "" {
		req.Model = m.Model
	}
	if m.Temperature != nil {
		req.Temperature = *m.Temperature
	}
	if m.UseTools != nil {
		req.UseTools = *m.UseTools
	}
	if m.ShowSources != nil {
		req.ShowSources = *m.ShowSources
	}
}
