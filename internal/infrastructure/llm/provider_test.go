package llm

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    Provider
		wantErr bool
	}{
		{in: "groq", want: Groq},
		{in: "OpenAI", want: OpenAI},
		{in: " ollama ", want: Ollama},
		{in: "anthropic", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProvider(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProviderProperties(t *testing.T) {
	assert.True(t, Groq.Remote())
	assert.True(t, OpenAI.Remote())
	assert.False(t, Ollama.Remote())

	assert.Equal(t, "GROQ_API_KEY", Groq.KeyEnv())
	assert.Equal(t, "OPENAI_API_KEY", OpenAI.KeyEnv())
	assert.Empty(t, Ollama.KeyEnv())

	assert.Equal(t, "llama-3.3-70b-versatile", Groq.DefaultModel())
	assert.Equal(t, "qwen3:1.7b", Ollama.DefaultModel())

	models := Catalogue(Groq)
	models[0] = "mutated"
	assert.Equal(t, "llama-3.3-70b-versatile", Catalogue(Groq)[0])
}

func TestNewRequiresKeyForRemoteProviders(t *testing.T) {
	_, err := New(Groq, Options{})
	assert.ErrorContains(t, err, "GROQ_API_KEY")

	_, err = New(OpenAI, Options{})
	assert.ErrorContains(t, err, "OPENAI_API_KEY")

	backend, err := New(Ollama, Options{})
	require.NoError(t, err)
	assert.Equal(t, Ollama, backend.Name())

	_, err = New(Provider("bogus"), Options{APIKey: "k"})
	assert.Error(t, err)
}

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "http://localhost:11434", NormalizeHost(""))
	assert.Equal(t, "http://beagle.local:11434", NormalizeHost("beagle.local:11434"))
	assert.Equal(t, "https://ollama.example.com", NormalizeHost("https://ollama.example.com/"))
	assert.Equal(t, "http://localhost:11434/v1", OllamaBaseURL("localhost:11434"))
}

func TestClampTemperature(t *testing.T) {
	assert.Equal(t, 0.0, ClampTemperature(-0.5))
	assert.Equal(t, 0.3, ClampTemperature(0.3))
	assert.Equal(t, 1.0, ClampTemperature(1.7))
	assert.Equal(t, 0.0, ClampTemperature(math.NaN()))
}

func TestCleanContent(t *testing.T) {
	assert.Equal(t, "answer", CleanContent("<think>\nreasoning\n</think>\n answer "))
	assert.Equal(t, "partial", CleanContent("partial<think>never closed"))
	assert.Equal(t, "plain", CleanContent("plain"))
}

func TestThinkFilterAcrossFragments(t *testing.T) {
	var f thinkFilter
	assert.Equal(t, "a", f.process("a<think>b"))
	assert.Equal(t, "", f.process("still thinking"))
	assert.Equal(t, "c", f.process("</think>c"))
}

func TestThinkFilterSplitTags(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
		want      string
	}{
		{"open tag split", []string{"<thi", "nk>secret reasoning</think>Answer"}, "Answer"},
		{"close tag split", []string{"<think>secret</th", "ink>\n\nAnswer"}, "Answer"},
		{"one byte at a time", strings.Split("<think>x</think>Hi there", ""), "Hi there"},
		{"text before block", []string{"Sure. <", "think>hmm</think>Done"}, "Sure. Done"},
		{"lone angle bracket", []string{"a <", " b"}, "a < b"},
		{"trailing partial tag is flushed", []string{"x <thi"}, "x <thi"},
		{"unclosed block", []string{"ok<think>never closed"}, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f thinkFilter
			var streamed strings.Builder
			for _, fragment := range tt.fragments {
				streamed.WriteString(f.process(fragment))
			}
			streamed.WriteString(f.flush())

			assert.Equal(t, tt.want, streamed.String())
			assert.Equal(t, CleanContent(strings.Join(tt.fragments, "")), strings.TrimSpace(streamed.String()))
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, true},
		{"server error", &openai.RequestError{HTTPStatusCode: 502}, true},
		{"unauthorized", &openai.APIError{HTTPStatusCode: 401}, false},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"cancelled", context.Canceled, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
