package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"unicode"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/sashabaranov/go-openai"
)

// Stream is a lazy sequence of text fragments. Next returns io.EOF once the
// provider is done; Response is only available after that. Close may be
// called at any fragment boundary to stop early.
type Stream interface {
	Next() (string, error)
	Response() *Response
	Close() error
}

type compatStream struct {
	provider Provider
	stream   *openai.ChatCompletionStream
	filter   thinkFilter

	raw    strings.Builder
	calls  map[int]*models.ToolCall
	order  []int
	reason string
	resp   *Response
}

func newCompatStream(provider Provider, stream *openai.ChatCompletionStream) *compatStream {
	return &compatStream{
		provider: provider,
		stream:   stream,
		calls:    make(map[int]*models.ToolCall),
	}
}

func (s *compatStream) Next() (string, error) {
	if s.resp != nil {
		return "", io.EOF
	}

	for {
		chunk, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.finish()
			if tail := s.filter.flush(); tail != "" {
				return tail, nil
			}
			return "", io.EOF
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			return "", &BackendUnavailableError{Provider: s.provider, Attempts: 1, Err: err}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		s.mergeToolCalls(choice.Delta)
		if choice.FinishReason != "" {
			s.reason = string(choice.FinishReason)
		}

		if choice.Delta.Content == "" {
			continue
		}
		s.raw.WriteString(choice.Delta.Content)
		if visible := s.filter.process(choice.Delta.Content); visible != "" {
			return visible, nil
		}
	}
}

// mergeToolCalls assembles tool calls that arrive split across deltas. The
// index identifies the call, name and id arrive once, arguments in pieces.
func (s *compatStream) mergeToolCalls(delta openai.ChatCompletionStreamChoiceDelta) {
	for _, tc := range delta.ToolCalls {
		idx := len(s.order)
		switch {
		case tc.Index != nil:
			idx = *tc.Index
		case tc.ID == "" && len(s.order) > 0:
			// continuation of the previous call from a provider that omits indexes
			idx = s.order[len(s.order)-1]
		}
		call, ok := s.calls[idx]
		if !ok {
			call = &models.ToolCall{}
			s.calls[idx] = call
			s.order = append(s.order, idx)
		}
		if tc.ID != "" {
			call.ID = tc.ID
		}
		if tc.Function.Name != "" {
			call.Name = tc.Function.Name
		}
		call.Arguments += tc.Function.Arguments
	}

	if fc := delta.FunctionCall; fc != nil {
		call, ok := s.calls[-1]
		if !ok {
			call = &models.ToolCall{}
			s.calls[-1] = call
			s.order = append(s.order, -1)
		}
		if fc.Name != "" {
			call.Name = fc.Name
		}
		call.Arguments += fc.Arguments
	}
}

func (s *compatStream) finish() {
	resp := &Response{
		Content:      CleanContent(s.raw.String()),
		FinishReason: s.reason,
	}
	for _, idx := range s.order {
		call := s.calls[idx]
		if call.Name == "" {
			continue
		}
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:        callID(call.ID),
			Name:      call.Name,
			Arguments: call.Arguments,
		})
	}
	s.resp = resp
}

func (s *compatStream) Response() *Response {
	return s.resp
}

func (s *compatStream) Close() error {
	return s.stream.Close()
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkFilter hides <think>...</think> sections from streamed output. Tags
// may be split across fragments, so a trailing partial tag is held back
// until the next fragment decides it.
type thinkFilter struct {
	inThink bool
	// trim drops whitespace between a closed block and the answer
	trim    bool
	pending string
}

func (f *thinkFilter) process(fragment string) string {
	fragment = f.pending + fragment
	f.pending = ""

	var out strings.Builder
	for fragment != "" {
		if f.inThink {
			end := strings.Index(fragment, thinkClose)
			if end < 0 {
				f.pending = fragment[len(fragment)-partialTag(fragment, thinkClose):]
				break
			}
			fragment = fragment[end+len(thinkClose):]
			f.inThink = false
			f.trim = true
			continue
		}

		start := strings.Index(fragment, thinkOpen)
		if start < 0 {
			keep := partialTag(fragment, thinkOpen)
			f.emit(&out, fragment[:len(fragment)-keep])
			f.pending = fragment[len(fragment)-keep:]
			break
		}
		f.emit(&out, fragment[:start])
		fragment = fragment[start+len(thinkOpen):]
		f.inThink = true
	}
	return out.String()
}

func (f *thinkFilter) emit(out *strings.Builder, text string) {
	if f.trim {
		text = strings.TrimLeftFunc(text, unicode.IsSpace)
		if text == "" {
			return
		}
		f.trim = false
	}
	out.WriteString(text)
}

// flush returns text held back at the end of the stream
func (f *thinkFilter) flush() string {
	rest := f.pending
	f.pending = ""
	if f.inThink {
		return ""
	}
	var out strings.Builder
	f.emit(&out, rest)
	return out.String()
}

// partialTag is the length of the longest suffix of s that starts tag
func partialTag(s, tag string) int {
	for n := len(tag) - 1; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
