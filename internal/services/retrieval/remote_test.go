package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remoteBody = `{
	"documents": [["PRU cores run at 200MHz.", "Flash with bb-imager.", "Unrelated."]],
	"metadatas": [[
		{"file_name": "pru.md", "source_link": "https://docs.beagleboard.org/pru", "chunk_index": 0, "tags": ["pru", "am335x"]},
		{"file_path": "docs/flash.md", "source_type": "docs", "tags": "flash, imaging"},
		{}
	]],
	"distances": [[0.2, 0.1, 0.5]],
	"total_found": 3
}`

func newTestRemote(t *testing.T, handler http.HandlerFunc, rerank bool) *RemoteStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := NewRemoteStore(RemoteOptions{URL: srv.URL + "/", Rerank: rerank, Timeout: 5 * time.Second})
	require.NoError(t, err)
	store.retry = append(store.retry, retry.Delay(time.Millisecond))
	return store
}

func TestRemoteStoreRetrieveText(t *testing.T) {
	var got map[string]interface{}
	store := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/retrieve", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(remoteBody))
	}, true)

	result, err := store.RetrieveText(context.Background(), "beagleboard", "What clock do the PRUs run at?", 3)
	require.NoError(t, err)

	assert.Equal(t, "What clock do the PRUs run at?", got["query"])
	assert.Equal(t, "beagleboard", got["collection_name"])
	assert.Equal(t, float64(3), got["n_results"])
	assert.Equal(t, true, got["include_metadata"])
	assert.Equal(t, true, got["rerank"])

	require.Len(t, result, 3)
	assert.Equal(t, []string{"https://docs.beagleboard.org/pru#0", "docs/flash.md#1", "knowledge-base#2"}, ids(result))

	first := result[0].Chunk
	assert.Equal(t, "PRU cores run at 200MHz.", first.Text)
	assert.Equal(t, "https://docs.beagleboard.org/pru", first.SourceID)
	assert.Equal(t, models.SourceOther, first.SourceType)
	assert.Equal(t, []string{"pru", "am335x"}, first.Tags)

	second := result[1].Chunk
	assert.Equal(t, models.SourceDocs, second.SourceType)
	assert.Equal(t, []string{"flash", "imaging"}, second.Tags)

	// the backend's order is kept and scores never increase
	assert.InDelta(t, 1/1.2, result[0].Score, 1e-9)
	assert.InDelta(t, 1/1.2, result[1].Score, 1e-9)
	assert.InDelta(t, 1/1.5, result[2].Score, 1e-9)
}

func TestRemoteStorePassesRerankAndCapsResults(t *testing.T) {
	var rerank interface{}
	store := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		rerank = body["rerank"]
		_, _ = w.Write([]byte(remoteBody))
	}, false)

	result, err := store.RetrieveText(context.Background(), "beagleboard", "flash", 2)
	require.NoError(t, err)
	assert.Equal(t, false, rerank)
	assert.Len(t, result, 2)

	result, err = store.RetrieveText(context.Background(), "beagleboard", "flash", 0)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestRemoteStoreErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
		check     func(t *testing.T, err error)
	}{
		{
			name:      "unknown collection",
			status:    http.StatusNotFound,
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrCollectionNotFound)
				assert.ErrorContains(t, err, `"gsoc"`)
			},
		},
		{
			name:      "bad request is not retried",
			status:    http.StatusBadRequest,
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				var statusErr *RemoteStatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, http.StatusBadRequest, statusErr.Status)
			},
		},
		{
			name:      "server errors are retried",
			status:    http.StatusServiceUnavailable,
			wantCalls: 3,
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "status 503")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			store := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				http.Error(w, "nope", tt.status)
			}, true)

			_, err := store.RetrieveText(context.Background(), "gsoc", "q", 3)
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestRemoteStoreRecoversAfterRetry(t *testing.T) {
	var calls int32
	store := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "warming up", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(remoteBody))
	}, true)

	result, err := store.RetrieveText(context.Background(), "beagleboard", "q", 3)
	require.NoError(t, err)
	assert.Len(t, result, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRemoteStoreIsReadOnly(t *testing.T) {
	store, err := NewRemoteStore(RemoteOptions{URL: "https://mind-api.example.org/api"})
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, store.Add(ctx, "beagleboard", []models.DocumentChunk{chunk("a", 1)}), ErrRemoteReadOnly)
	_, err = store.Embed(ctx, "text")
	assert.ErrorIs(t, err, ErrRemoteReadOnly)
	_, err = store.Retrieve(ctx, "beagleboard", []float32{1}, 3)
	assert.ErrorIs(t, err, ErrRemoteReadOnly)
	assert.False(t, store.Has(ctx, "beagleboard", "a"))
	assert.Empty(t, store.Collections())
}

func TestRemoteStoreHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	store := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}, true)

	assert.NoError(t, store.Health(context.Background()))

	healthy.Store(false)
	assert.ErrorContains(t, store.Health(context.Background()), "status 500")
}

func TestSearchUsesTextRetrieval(t *testing.T) {
	var queries []string
	store := newTestRemote(t, func(w http.ResponseWriter, r *http.Request) {
		var body remoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		queries = append(queries, body.Query)
		_, _ = w.Write([]byte(remoteBody))
	}, true)

	result, err := Search(context.Background(), store, "beagleboard", "flash the board", 2)
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Equal(t, []string{"flash the board"}, queries)
}
