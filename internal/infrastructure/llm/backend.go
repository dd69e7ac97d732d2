package llm

import (
	"context"
	"regexp"
	"strings"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
)

// Request is a provider independent completion request
type Request struct {
	Model       string
	Messages    []models.Message
	Tools       []models.ToolSpec
	Temperature float64
}

// Response is either a final assistant message or one or more tool calls
type Response struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason string
}

// WantsTools reports whether the model asked for tool execution
func (r *Response) WantsTools() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Message converts the response into the assistant message appended to the turn
func (r *Response) Message() models.Message {
	return models.Message{
		Role:      models.RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
	}
}

// Backend is the capability every provider variant implements
type Backend interface {
	Name() Provider
	SupportsTools() bool
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (Stream, error)
	ListModels(ctx context.Context) ([]string, error)
}

// ClampTemperature forces t into [0, 1]
func ClampTemperature(t float64) float64 {
	switch {
	case t != t: // NaN
		return 0
	case t < 0:
		return 0
	case t > 1:
		return 1
	default:
		return t
	}
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// CleanContent strips reasoning blocks some models emit before the answer
func CleanContent(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
