package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/beagleboard/beaglemind/internal/assistant"
	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm/llmtest"
	"github.com/beagleboard/beaglemind/internal/services"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoBackend struct{}

func (echoBackend) Name() llm.Provider  { return llm.Groq }
func (echoBackend) SupportsTools() bool { return true }

func (echoBackend) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &llm.Response{Content: "Flash the board with bb-imager.", FinishReason: "stop"}, nil
}

func (b echoBackend) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	resp, err := b.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return llmtest.StreamFromResponse(resp), nil
}

func (echoBackend) ListModels(context.Context) ([]string, error) { return nil, nil }

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := retrieval.NewMemoryStore(retrieval.NewHashEmbedder(retrieval.HashDimensions), retrieval.Cosine)
	_, err := retrieval.NewIndexer(store).Index(context.Background(), "beagleboard", []models.DocumentChunk{
		{ID: "flash", Text: "Q: How do I flash BeagleBone?\nA: Use bb-imager.", SourceType: models.SourceDocs, SourceID: "docs/flash.md"},
	})
	require.NoError(t, err)

	svcs, err := services.InitializeServices(services.Options{
		Config: config.EffectiveConfig{
			Backend:       llm.Groq,
			Model:         "llama-3.3-70b-versatile",
			Temperature:   0.3,
			Collection:    "beagleboard",
			TopK:          5,
			MaxToolRounds: 5,
			Workspace:     t.TempDir(),
			Secrets:       config.Secrets{GroqAPIKey: "gsk_test"},
		},
		Store:        store,
		Backends:     func(config.EffectiveConfig) (llm.Backend, error) { return echoBackend{}, nil },
		DisableRedis: true,
	})
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleChatWebSocket(svcs, w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntilDone collects frames up to the first complete or error frame
func readUntilDone(t *testing.T, conn *websocket.Conn) []assistant.AssistantResponse {
	t.Helper()
	var frames []assistant.AssistantResponse
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var frame assistant.AssistantResponse
		require.NoError(t, conn.ReadJSON(&frame))
		frames = append(frames, frame)
		if frame.Status != assistant.StatusStreaming {
			return frames
		}
	}
}

func TestChatWebSocketStreamsAnswer(t *testing.T) {
	conn := dial(t, newServer(t))

	show := true
	require.NoError(t, conn.WriteJSON(assistant.UserMessage{Content: "How do I flash BeagleBone?", MessageID: "m1", ShowSources: &show}))
	frames := readUntilDone(t, conn)

	require.Greater(t, len(frames), 1)
	var streamed strings.Builder
	for _, f := range frames[:len(frames)-1] {
		assert.Equal(t, assistant.StatusStreaming, f.Status)
		assert.Equal(t, "m1", f.MessageID)
		streamed.WriteString(f.Content)
	}

	final := frames[len(frames)-1]
	assert.Equal(t, assistant.StatusComplete, final.Status)
	assert.Equal(t, streamed.String(), final.Content)
	require.Len(t, final.Sources, 1)
	assert.Equal(t, "docs/flash.md", final.Sources[0].SourceID)
	assert.Equal(t, frames[0].RequestID, final.RequestID)
}

func TestChatWebSocketHidesSourcesByDefault(t *testing.T) {
	conn := dial(t, newServer(t))

	require.NoError(t, conn.WriteJSON(assistant.UserMessage{Content: "How do I flash BeagleBone?", MessageID: "m1"}))
	frames := readUntilDone(t, conn)
	assert.Empty(t, frames[len(frames)-1].Sources)
}

func TestChatWebSocketErrorKeepsSocketOpen(t *testing.T) {
	conn := dial(t, newServer(t))

	require.NoError(t, conn.WriteJSON(assistant.UserMessage{Content: "hi", MessageID: "bad", Backend: "openai"}))
	frames := readUntilDone(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, assistant.StatusError, frames[0].Status)
	assert.Equal(t, "config_error", frames[0].ErrorKind)
	assert.Contains(t, frames[0].Content, "OPENAI_API_KEY")

	require.NoError(t, conn.WriteJSON(assistant.UserMessage{Content: "", MessageID: "empty"}))
	frames = readUntilDone(t, conn)
	assert.Equal(t, "invalid_request", frames[0].ErrorKind)

	require.NoError(t, conn.WriteJSON(assistant.UserMessage{Content: "How do I flash BeagleBone?", MessageID: "good"}))
	frames = readUntilDone(t, conn)
	assert.Equal(t, assistant.StatusComplete, frames[len(frames)-1].Status)
}

func TestChatWebSocketReset(t *testing.T) {
	conn := dial(t, newServer(t))

	require.NoError(t, conn.WriteJSON(assistant.UserMessage{Reset: true, MessageID: "r"}))
	frames := readUntilDone(t, conn)
	require.Len(t, frames, 1)
	assert.Equal(t, assistant.StatusComplete, frames[0].Status)
	assert.Equal(t, "Conversation cleared.", frames[0].Content)
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://example.com", true},
		{"https://example.com", true},
		{"http://evil.test", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://example.com/v1/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, sameOrigin(r), tt.origin)
	}
}
