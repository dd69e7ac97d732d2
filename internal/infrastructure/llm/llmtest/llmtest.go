// Package llmtest provides in-process llm.Backend fakes for tests.
package llmtest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
)

// Backend replays scripted responses. Once the script is used up the last
// response repeats.
type Backend struct {
	Provider llm.Provider
	Tools    bool
	Script   []*llm.Response
	Models   []string

	mu       sync.Mutex
	requests []llm.Request
}

// Reply returns a backend that always answers text
func Reply(text string) *Backend {
	return &Backend{Provider: llm.Groq, Script: []*llm.Response{{Content: text, FinishReason: "stop"}}}
}

func (b *Backend) Name() llm.Provider {
	if b.Provider == "" {
		return llm.Groq
	}
	return b.Provider
}

func (b *Backend) SupportsTools() bool { return b.Tools }

func (b *Backend) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := len(b.requests) - 1
	if i >= len(b.Script) {
		i = len(b.Script) - 1
	}
	return b.Script[i], nil
}

func (b *Backend) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	resp, err := b.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return StreamFromResponse(resp), nil
}

func (b *Backend) ListModels(context.Context) ([]string, error) { return b.Models, nil }

// Requests returns a copy of the requests seen so far
func (b *Backend) Requests() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Request(nil), b.requests...)
}

type replayStream struct {
	resp      *llm.Response
	fragments []string
	pos       int
	closed    bool
}

// StreamFromResponse serves a finished response word by word
func StreamFromResponse(resp *llm.Response) llm.Stream {
	var fragments []string
	if resp.Content != "" {
		fragments = strings.SplitAfter(resp.Content, " ")
	}
	return &replayStream{resp: resp, fragments: fragments}
}

func (s *replayStream) Next() (string, error) {
	if s.closed || s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *replayStream) Response() *llm.Response {
	if s.pos < len(s.fragments) {
		return nil
	}
	return s.resp
}

func (s *replayStream) Close() error {
	s.closed = true
	return nil
}
