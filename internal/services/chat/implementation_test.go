package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm/llmtest"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
	"github.com/beagleboard/beaglemind/internal/services/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend replays scripted responses. Once the script is used up the
// last response repeats.
type fakeBackend struct {
	mu       sync.Mutex
	provider llm.Provider
	tools    bool
	script   []*llm.Response
	err      error
	requests []llm.Request
}

func (f *fakeBackend) Name() llm.Provider  { return f.provider }
func (f *fakeBackend) SupportsTools() bool { return f.tools }

func (f *fakeBackend) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	i := len(f.requests) - 1
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i], nil
}

func (f *fakeBackend) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	resp, err := f.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return llmtest.StreamFromResponse(resp), nil
}

func (f *fakeBackend) ListModels(context.Context) ([]string, error) { return nil, nil }

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func final(text string) *llm.Response {
	return &llm.Response{Content: text, FinishReason: "stop"}
}

func wantsTool(content, name, args string) *llm.Response {
	return &llm.Response{
		Content:      content,
		ToolCalls:    []models.ToolCall{{ID: "call_" + name, Name: name, Arguments: args}},
		FinishReason: "tool_calls",
	}
}

type fixture struct {
	store   *retrieval.MemoryStore
	backend *fakeBackend
	orch    *Orchestrator
	cfg     config.EffectiveConfig
}

func newFixture(t *testing.T, backend *fakeBackend) *fixture {
	t.Helper()
	ctx := context.Background()

	store := retrieval.NewMemoryStore(retrieval.NewHashEmbedder(retrieval.HashDimensions), retrieval.Cosine)
	ix := retrieval.NewIndexer(store)
	_, err := ix.Index(ctx, "beagleboard", []models.DocumentChunk{
		{ID: "flash", Text: "Q: How do I flash BeagleBone?\nA: Use bb-imager to write the image to a microSD card.", SourceType: models.SourceDocs, SourceID: "docs/flash.md"},
		{ID: "pru", Text: "Q: How do I load PRU firmware?\nA: Copy it to /lib/firmware and use remoteproc.", SourceType: models.SourceForum, SourceID: "forum/4411"},
	})
	require.NoError(t, err)

	registry, err := tools.NewBuiltinRegistry("")
	require.NoError(t, err)

	if backend.provider == "" {
		backend.provider = llm.Groq
	}
	orch, err := NewOrchestrator(Dependencies{
		Store:    store,
		Registry: registry,
		Backends: func(config.EffectiveConfig) (llm.Backend, error) { return backend, nil },
	})
	require.NoError(t, err)

	return &fixture{
		store:   store,
		backend: backend,
		orch:    orch,
		cfg: config.EffectiveConfig{
			Backend:       llm.Groq,
			Model:         "llama-3.3-70b-versatile",
			Temperature:   0.3,
			Collection:    "beagleboard",
			TopK:          5,
			Similarity:    "cosine",
			MaxToolRounds: 5,
			Workspace:     t.TempDir(),
			Secrets:       config.Secrets{GroqAPIKey: "gsk_test", OpenAIAPIKey: "sk_test"},
		},
	}
}

func (f *fixture) query(text string, useTools bool) models.QueryRequest {
	cfg := f.cfg
	cfg.UseTools = useTools
	return cfg.Query(text)
}

func count(states []string, s State) int {
	n := 0
	for _, st := range states {
		if st == s.String() {
			n++
		}
	}
	return n
}

func TestAnswerFlashScenario(t *testing.T) {
	f := newFixture(t, &fakeBackend{tools: true, script: []*llm.Response{final("Use bb-imager to flash the board.")}})

	answer, err := f.orch.Answer(context.Background(), f.cfg, f.query("How do I flash BeagleBone?", false), nil)
	require.NoError(t, err)

	assert.Equal(t, "Use bb-imager to flash the board.", answer.Text)
	assert.Contains(t, answer.Sources, "docs/flash.md")
	assert.Equal(t, "docs/flash.md", answer.Sources[0], "most relevant source first")
	assert.Empty(t, answer.ToolTrace)
	assert.Equal(t, []string{"EMBEDDING", "RETRIEVING", "PROMPTING", "AWAITING_MODEL", "FINALIZED"}, answer.States)
	assert.Equal(t, "groq", answer.Backend)
	assert.True(t, strings.HasPrefix(answer.ID, "beaglemind-"))

	require.Equal(t, 1, f.backend.calls())
	req := f.backend.requests[0]
	assert.Empty(t, req.Tools, "no catalogue without use_tools")
	assert.Equal(t, 0.3, req.Temperature)

	prompt := req.Messages[len(req.Messages)-1]
	assert.Equal(t, models.RoleUser, prompt.Role)
	assert.Contains(t, prompt.Content, "Source: docs/flash.md (docs)")
	assert.True(t, strings.HasSuffix(prompt.Content, "Question: How do I flash BeagleBone?"))
	assert.Equal(t, models.RoleSystem, req.Messages[0].Role)
	assert.NotContains(t, req.Messages[0].Content, "retrieve_context")
}

func TestNoToolDispatchWithoutUseTools(t *testing.T) {
	// the model asks for tools it was never offered
	f := newFixture(t, &fakeBackend{tools: true, script: []*llm.Response{wantsTool("Here is what I know.", "get_machine_info", "{}")}})

	answer, err := f.orch.Answer(context.Background(), f.cfg, f.query("What board is this?", false), nil)
	require.NoError(t, err)

	assert.Zero(t, count(answer.States, StateToolDispatch))
	assert.Empty(t, answer.ToolTrace)
	assert.Equal(t, "Here is what I know.", answer.Text)
	assert.Equal(t, 1, f.backend.calls())
}

func TestToolLoopCap(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantText string
	}{
		{name: "keeps last assistant text", content: "Still checking...", wantText: "Still checking..."},
		{name: "falls back when the model never spoke", content: "", wantText: fallbackAnswer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeBackend{tools: true, script: []*llm.Response{wantsTool(tt.content, "get_machine_info", "{}")}})

			answer, err := f.orch.Answer(context.Background(), f.cfg, f.query("Loop forever", true), nil)
			require.NoError(t, err)

			assert.Equal(t, 5, answer.Rounds)
			assert.Equal(t, 5, count(answer.States, StateToolDispatch))
			assert.Len(t, answer.ToolTrace, 5)
			assert.Equal(t, 6, f.backend.calls(), "cap rounds plus the call whose tools were refused")
			require.Len(t, answer.Notices, 1)
			assert.Contains(t, answer.Notices[0], "tool loop exceeded")
			assert.Equal(t, tt.wantText, answer.Text)
		})
	}
}

func TestToolDispatchOrderAndFailures(t *testing.T) {
	backend := &fakeBackend{tools: true, script: []*llm.Response{
		{
			ToolCalls: []models.ToolCall{
				{ID: "a", Name: "read_file", Arguments: `{"file_path":"missing.txt"}`},
				{ID: "b", Name: "get_machine_info", Arguments: `{}`},
				{ID: "c", Name: "no_such_tool", Arguments: `{}`},
			},
		},
		final("Done."),
	}}
	f := newFixture(t, backend)

	answer, err := f.orch.Answer(context.Background(), f.cfg, f.query("Inspect", true), nil)
	require.NoError(t, err)
	assert.Equal(t, "Done.", answer.Text)

	require.Len(t, answer.ToolTrace, 3)
	assert.True(t, answer.ToolTrace[0].Result.Failed())
	assert.False(t, answer.ToolTrace[1].Result.Failed())
	assert.Contains(t, answer.ToolTrace[2].Result.Error, "unknown tool")

	second := backend.requests[1]
	assert.NotEmpty(t, second.Tools)
	n := len(second.Messages)
	assert.Equal(t, models.RoleAssistant, second.Messages[n-4].Role)
	for i, id := range []string{"a", "b", "c"} {
		msg := second.Messages[n-3+i]
		assert.Equal(t, models.RoleTool, msg.Role)
		assert.Equal(t, id, msg.ToolCallID)
	}
	assert.Contains(t, second.Messages[n-3].Content, `"error"`)
}

func TestRetrieveContextSourcesAreMerged(t *testing.T) {
	backend := &fakeBackend{tools: true, script: []*llm.Response{
		wantsTool("", "retrieve_context", `{"query":"cape overlays","collection":"gsoc"}`),
		final("Use an overlay."),
	}}
	f := newFixture(t, backend)
	_, err := retrieval.NewIndexer(f.store).Index(context.Background(), "gsoc", []models.DocumentChunk{
		{ID: "cape", Text: "Cape overlays live in /boot/uEnv.txt", SourceType: models.SourceDiscord, SourceID: "discord/998"},
	})
	require.NoError(t, err)

	cfg := f.cfg
	cfg.TopK = 1
	answer, err := f.orch.Answer(context.Background(), cfg, f.query("How do I flash BeagleBone?", true), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"docs/flash.md", "discord/998"}, answer.Sources)
	require.Len(t, answer.SourceDetails, 2)
	assert.Equal(t, models.SourceDiscord, answer.SourceDetails[1].SourceType)
}

func TestMissingCollectionFailsBeforeBackend(t *testing.T) {
	f := newFixture(t, &fakeBackend{tools: true, script: []*llm.Response{final("unused")}})
	cfg := f.cfg
	cfg.Collection = "nonexistent"

	_, err := f.orch.Answer(context.Background(), cfg, f.query("anything", true), nil)
	assert.ErrorIs(t, err, retrieval.ErrCollectionNotFound)
	assert.Equal(t, KindCollectionNotFound, Classify(err))
	assert.Zero(t, f.backend.calls())

	_, err = f.orch.Stream(context.Background(), cfg, f.query("anything", true), nil)
	assert.ErrorIs(t, err, retrieval.ErrCollectionNotFound)
	assert.Zero(t, f.backend.calls())
}

func TestSetupErrors(t *testing.T) {
	f := newFixture(t, &fakeBackend{script: []*llm.Response{final("unused")}})

	tests := []struct {
		name     string
		mutate   func(cfg *config.EffectiveConfig, req *models.QueryRequest)
		wantKind ErrorKind
	}{
		{
			name:     "empty question",
			mutate:   func(_ *config.EffectiveConfig, req *models.QueryRequest) { req.Text = "   " },
			wantKind: KindInvalidRequest,
		},
		{
			name:     "temperature out of range",
			mutate:   func(_ *config.EffectiveConfig, req *models.QueryRequest) { req.Temperature = 1.5 },
			wantKind: KindInvalidRequest,
		},
		{
			name:     "unknown backend",
			mutate:   func(_ *config.EffectiveConfig, req *models.QueryRequest) { req.Backend = "anthropic" },
			wantKind: KindInvalidRequest,
		},
		{
			name: "missing credential",
			mutate: func(cfg *config.EffectiveConfig, req *models.QueryRequest) {
				cfg.Secrets.OpenAIAPIKey = ""
				req.Backend = "openai"
			},
			wantKind: KindConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := f.cfg
			req := f.query("How do I flash BeagleBone?", false)
			tt.mutate(&cfg, &req)

			_, err := f.orch.Answer(context.Background(), cfg, req, nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, Classify(err))
			assert.Zero(t, f.backend.calls())
		})
	}
}

func TestBackendUnavailable(t *testing.T) {
	f := newFixture(t, &fakeBackend{err: &llm.BackendUnavailableError{Provider: llm.Groq, Attempts: 3, Err: errors.New("503")}})

	answer, err := f.orch.Answer(context.Background(), f.cfg, f.query("How do I flash BeagleBone?", false), nil)
	assert.Nil(t, answer)
	assert.Equal(t, KindBackendUnavailable, Classify(err))
	assert.Equal(t, 502, KindBackendUnavailable.HTTPStatus())
}

func TestCancelledRunHasNoAnswer(t *testing.T) {
	f := newFixture(t, &fakeBackend{script: []*llm.Response{final("too late")}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	answer, err := f.orch.Answer(ctx, f.cfg, f.query("How do I flash BeagleBone?", false), nil)
	assert.Nil(t, answer)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCancelled, Classify(err))
}

func TestOllamaGetsSmallerContextAndNoTools(t *testing.T) {
	backend := &fakeBackend{provider: llm.Ollama, tools: false, script: []*llm.Response{final("ok")}}
	f := newFixture(t, backend)
	_, err := retrieval.NewIndexer(f.store).Index(context.Background(), "beagleboard", []models.DocumentChunk{
		{ID: "x1", Text: "BeagleBone Black flash eMMC", SourceID: "docs/x1.md"},
		{ID: "x2", Text: "BeagleBone AI-64 flash", SourceID: "docs/x2.md"},
		{ID: "x3", Text: "BeagleY-AI flash", SourceID: "docs/x3.md"},
	})
	require.NoError(t, err)

	cfg := f.cfg
	cfg.Backend = llm.Ollama
	req := f.query("How do I flash BeagleBone?", true)
	req.Backend = "ollama"
	req.Model = "qwen3:1.7b"

	answer, err := f.orch.Answer(context.Background(), cfg, req, nil)
	require.NoError(t, err)
	assert.Len(t, answer.Sources, 3)
	assert.Empty(t, backend.requests[0].Tools)
}

func TestHistoryIsIncluded(t *testing.T) {
	f := newFixture(t, &fakeBackend{script: []*llm.Response{final("Yes, the same tool.")}})
	history := []models.Message{
		{Role: models.RoleUser, Content: "How do I flash BeagleBone?"},
		{Role: models.RoleAssistant, Content: "Use bb-imager."},
		{Role: models.RoleTool, Content: "dropped"},
	}

	_, err := f.orch.Answer(context.Background(), f.cfg, f.query("And the AI-64?", false), history)
	require.NoError(t, err)

	msgs := f.backend.requests[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "How do I flash BeagleBone?", msgs[1].Content)
	assert.Equal(t, "Use bb-imager.", msgs[2].Content)
}

func TestEmptyResultGetsNotice(t *testing.T) {
	f := newFixture(t, &fakeBackend{script: []*llm.Response{final("General advice.")}})
	require.NoError(t, f.store.Add(context.Background(), "empty", nil))
	cfg := f.cfg
	cfg.Collection = "empty"

	answer, err := f.orch.Answer(context.Background(), cfg, f.query("How do I flash BeagleBone?", false), nil)
	require.NoError(t, err)
	assert.Empty(t, answer.Sources)

	prompt := f.backend.requests[0].Messages[1].Content
	assert.Contains(t, prompt, "No relevant context was found")
}

func drain(t *testing.T, s *AnswerStream) (string, error) {
	t.Helper()
	var b strings.Builder
	for {
		frag, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return b.String(), nil
			}
			return b.String(), err
		}
		b.WriteString(frag)
	}
}

func TestStream(t *testing.T) {
	backend := &fakeBackend{tools: true, script: []*llm.Response{
		wantsTool("", "get_machine_info", "{}"),
		final("Flash it with bb-imager."),
	}}
	f := newFixture(t, backend)

	s, err := f.orch.Stream(context.Background(), f.cfg, f.query("How do I flash BeagleBone?", true), nil)
	require.NoError(t, err)
	assert.Nil(t, s.Answer(), "no answer before the run completes")

	text, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, "Flash it with bb-imager.", text)

	answer := s.Answer()
	require.NotNil(t, answer)
	assert.Equal(t, text, answer.Text)
	assert.Equal(t, 1, answer.Rounds)
	assert.Contains(t, answer.Sources, "docs/flash.md")
	assert.NoError(t, s.Close())
	assert.NotNil(t, s.Answer(), "closing a finished stream keeps the answer")
}

func TestStreamEmitsFallbackText(t *testing.T) {
	f := newFixture(t, &fakeBackend{tools: true, script: []*llm.Response{wantsTool("", "get_machine_info", "{}")}})
	cfg := f.cfg
	cfg.MaxToolRounds = 1

	s, err := f.orch.Stream(context.Background(), cfg, f.query("Loop", true), nil)
	require.NoError(t, err)

	text, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, fallbackAnswer, text)
	require.NotNil(t, s.Answer())
	assert.Contains(t, s.Answer().Notices[0], "tool loop exceeded")
}

func TestStreamCloseDiscardsRun(t *testing.T) {
	f := newFixture(t, &fakeBackend{script: []*llm.Response{final("one two three four")}})

	s, err := f.orch.Stream(context.Background(), f.cfg, f.query("How do I flash BeagleBone?", false), nil)
	require.NoError(t, err)

	frag, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "one ", frag)

	require.NoError(t, s.Close())
	_, err = s.Next()
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Nil(t, s.Answer())
}

func TestStreamBackendError(t *testing.T) {
	f := newFixture(t, &fakeBackend{err: &llm.BackendUnavailableError{Provider: llm.Groq, Attempts: 3, Err: errors.New("down")}})

	s, err := f.orch.Stream(context.Background(), f.cfg, f.query("How do I flash BeagleBone?", false), nil)
	require.NoError(t, err)

	_, err = drain(t, s)
	assert.Equal(t, KindBackendUnavailable, Classify(err))
	assert.Nil(t, s.Answer())
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	f := newFixture(t, &fakeBackend{script: []*llm.Response{final("ok")}})

	var wg sync.WaitGroup
	for _, backend := range []string{"groq", "openai", "groq", "openai"} {
		wg.Add(1)
		go func(backend string) {
			defer wg.Done()
			req := f.query("How do I flash BeagleBone?", false)
			req.Backend = backend
			answer, err := f.orch.Answer(context.Background(), f.cfg, req, nil)
			if assert.NoError(t, err) {
				assert.Equal(t, backend, answer.Backend)
			}
		}(backend)
	}
	wg.Wait()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{context.Canceled, KindCancelled},
		{&config.ConfigError{Field: "GROQ_API_KEY"}, KindConfig},
		{&retrieval.CollectionNotFoundError{Name: "x"}, KindCollectionNotFound},
		{&llm.BackendUnavailableError{Provider: llm.Groq}, KindBackendUnavailable},
		{&InvalidRequestError{Err: errors.New("bad")}, KindInvalidRequest},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err))
	}

	assert.Equal(t, 400, KindInvalidRequest.HTTPStatus())
	assert.Equal(t, 404, KindCollectionNotFound.HTTPStatus())
	assert.Equal(t, 500, KindInternal.HTTPStatus())
}

func TestAnswerFromHostedKnowledgeBase(t *testing.T) {
	var queries []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query    string `json:"query"`
			NResults int    `json:"n_results"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		queries = append(queries, body.Query)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"documents":[["Use bb-imager."]],"metadatas":[[{"source_link":"https://docs.beagleboard.org/flash","source_type":"docs"}]],"distances":[[0.25]]}`))
	}))
	defer srv.Close()

	store, err := retrieval.NewRemoteStore(retrieval.RemoteOptions{URL: srv.URL, Rerank: true})
	require.NoError(t, err)
	backend := &fakeBackend{provider: llm.Groq, script: []*llm.Response{final("Use bb-imager.")}}
	orch, err := NewOrchestrator(Dependencies{
		Store:    store,
		Registry: tools.NewRegistry(),
		Backends: func(config.EffectiveConfig) (llm.Backend, error) { return backend, nil },
	})
	require.NoError(t, err)

	cfg := newFixture(t, &fakeBackend{}).cfg
	cfg.Strategy = string(retrieval.StrategyContextAware)
	history := []models.Message{
		{Role: models.RoleUser, Content: "I have a BeagleBone Black."},
		{Role: models.RoleAssistant, Content: "Nice board."},
	}

	answer, err := orch.Answer(context.Background(), cfg, cfg.Query("How do I flash it?"), history)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://docs.beagleboard.org/flash"}, answer.Sources)
	require.Len(t, answer.SourceDetails, 1)
	assert.Equal(t, 0.8, answer.SourceDetails[0].Score)
	assert.Equal(t, []string{"EMBEDDING", "RETRIEVING", "PROMPTING", "AWAITING_MODEL", "FINALIZED"}, answer.States)
	assert.Equal(t, []string{"I have a BeagleBone Black.\nHow do I flash it?"}, queries)
}

func TestAnswerRejectsUnknownStrategy(t *testing.T) {
	f := newFixture(t, &fakeBackend{script: []*llm.Response{final("x")}})
	cfg := f.cfg
	cfg.Strategy = "hybrid"

	_, err := f.orch.Answer(context.Background(), cfg, f.query("How do I flash BeagleBone?", false), nil)
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "strategy", cfgErr.Field)
	assert.Zero(t, f.backend.calls())
}
