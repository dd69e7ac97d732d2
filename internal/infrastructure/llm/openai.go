package llm

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sort"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

var errNoChoices = errors.New("no response choices returned")

// Options configures a provider variant
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Retry      RetryConfig
}

// compatBackend talks to any OpenAI-compatible chat completions endpoint.
// Groq, OpenAI and Ollama all expose one.
type compatBackend struct {
	provider Provider
	client   *openai.Client
	tools    bool
	retry    RetryConfig
}

func newCompatBackend(provider Provider, opts Options, supportsTools bool) *compatBackend {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	return &compatBackend{
		provider: provider,
		client:   openai.NewClientWithConfig(cfg),
		tools:    supportsTools,
		retry:    opts.Retry.withDefaults(),
	}
}

func (b *compatBackend) Name() Provider {
	return b.provider
}

func (b *compatBackend) SupportsTools() bool {
	return b.tools
}

func (b *compatBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	chatReq := b.buildRequest(req)

	var resp openai.ChatCompletionResponse
	err := b.retry.do(ctx, b.provider, func() error {
		var err error
		resp, err = b.client.CreateChatCompletion(ctx, chatReq)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("provider", b.provider.String()).Str("model", req.Model).Msg("Chat completion failed")
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, &BackendUnavailableError{Provider: b.provider, Attempts: 1, Err: errNoChoices}
	}

	log.Debug().
		Str("provider", b.provider.String()).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("Chat completion received")

	choice := resp.Choices[0]
	out := normalizeMessage(choice.Message)
	out.FinishReason = string(choice.FinishReason)
	return out, nil
}

func (b *compatBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	chatReq := b.buildRequest(req)
	chatReq.Stream = true

	var stream *openai.ChatCompletionStream
	err := b.retry.do(ctx, b.provider, func() error {
		var err error
		stream, err = b.client.CreateChatCompletionStream(ctx, chatReq)
		return err
	})
	if err != nil {
		return nil, err
	}

	return newCompatStream(b.provider, stream), nil
}

func (b *compatBackend) ListModels(ctx context.Context) ([]string, error) {
	var list openai.ModelsList
	err := b.retry.do(ctx, b.provider, func() error {
		var err error
		list, err = b.client.ListModels(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *compatBackend) buildRequest(req Request) openai.ChatCompletionRequest {
	temperature := float32(ClampTemperature(req.Temperature))
	if temperature == 0 {
		// the client drops a zero temperature from the payload
		temperature = math.SmallestNonzeroFloat32
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: temperature,
	}

	if len(req.Tools) > 0 {
		if b.tools {
			chatReq.Tools = toOpenAITools(req.Tools)
		} else {
			log.Debug().Str("provider", b.provider.String()).Msg("Provider has no tool calling, dropping catalogue")
		}
	}

	return chatReq
}

func toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, m)
	}
	return out
}

func toOpenAITools(specs []models.ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}
	return tools
}

// normalizeMessage maps native tool calls and the legacy function_call field
// onto ToolCall.
func normalizeMessage(msg openai.ChatCompletionMessage) *Response {
	out := &Response{Content: CleanContent(msg.Content)}

	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        callID(tc.ID),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	if len(out.ToolCalls) == 0 && msg.FunctionCall != nil && msg.FunctionCall.Name != "" {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        callID(""),
			Name:      msg.FunctionCall.Name,
			Arguments: msg.FunctionCall.Arguments,
		})
	}

	return out
}

func callID(id string) string {
	if id != "" {
		return id
	}
	return "call_" + uuid.New().String()[:8]
}
