package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRemoteTimeout = 30 * time.Second
	healthTimeout        = 5 * time.Second
)

// ErrRemoteReadOnly is returned by the vector and write operations of a
// RemoteStore; the backend embeds and indexes on its own side.
var ErrRemoteReadOnly = errors.New("remote knowledge base is read-only")

// TextRetriever is a store that searches with the query text itself
type TextRetriever interface {
	RetrieveText(ctx context.Context, collection, query string, k int) (models.RetrievalResult, error)
}

// Search returns at most k chunks of collection for query, embedding it
// first unless the store searches by text
func Search(ctx context.Context, store Store, collection, query string, k int) (models.RetrievalResult, error) {
	if tr, ok := store.(TextRetriever); ok {
		return tr.RetrieveText(ctx, collection, query, k)
	}
	vec, err := store.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return store.Retrieve(ctx, collection, vec, k)
}

// RemoteStatusError is a non-2xx answer of the knowledge base API
type RemoteStatusError struct {
	Status int
	Body   string
}

func (e *RemoteStatusError) Error() string {
	return fmt.Sprintf("knowledge base returned status %d: %s", e.Status, e.Body)
}

type remoteRequest struct {
	Query           string `json:"query"`
	CollectionName  string `json:"collection_name"`
	NResults        int    `json:"n_results"`
	IncludeMetadata bool   `json:"include_metadata"`
	Rerank          bool   `json:"rerank"`
}

// remoteResponse mirrors the Chroma query layout: one inner list per query
type remoteResponse struct {
	Documents  [][]string                 `json:"documents"`
	Metadatas  [][]map[string]interface{} `json:"metadatas"`
	Distances  [][]float64                `json:"distances"`
	TotalFound int                        `json:"total_found"`
}

// RemoteStore searches a hosted knowledge base over HTTP
type RemoteStore struct {
	client  *http.Client
	baseURL string
	rerank  bool
	retry   []retry.Option
}

type RemoteOptions struct {
	URL     string
	Rerank  bool
	Timeout time.Duration
}

func NewRemoteStore(opts RemoteOptions) (*RemoteStore, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("knowledge base url %q must start with http:// or https://", opts.URL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteStore{
		client:  &http.Client{Timeout: timeout},
		baseURL: base,
		rerank:  opts.Rerank,
		retry: []retry.Option{
			retry.Attempts(3),
			retry.Delay(500 * time.Millisecond),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(remoteTransient),
		},
	}, nil
}

func (s *RemoteStore) BaseURL() string {
	return s.baseURL
}

func remoteTransient(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *RemoteStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests || statusErr.Status >= 500
	}
	// transport failures
	return true
}

func (s *RemoteStore) RetrieveText(ctx context.Context, collection, query string, k int) (models.RetrievalResult, error) {
	if k < 1 {
		return models.RetrievalResult{}, nil
	}
	body, err := json.Marshal(remoteRequest{
		Query:           query,
		CollectionName:  collection,
		NResults:        k,
		IncludeMetadata: true,
		Rerank:          s.rerank,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal retrieval request: %w", err)
	}

	var out remoteResponse
	err = retry.Do(func() error {
		return s.post(ctx, "/retrieve", body, &out)
	}, append([]retry.Option{retry.Context(ctx)}, s.retry...)...)
	if err != nil {
		var statusErr *RemoteStatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
			return nil, &CollectionNotFoundError{Name: collection}
		}
		log.Error().Err(err).Str("collection", collection).Msg("Knowledge base retrieval failed")
		return nil, err
	}

	result := out.chunks()
	if len(result) > k {
		result = result[:k]
	}
	return result, nil
}

func (s *RemoteStore) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call knowledge base: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RemoteStatusError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to decode knowledge base response: %w", err))
	}
	return nil
}

// chunks flattens the first result list. The backend's order is kept and
// distances become scores that never increase down the list.
func (r remoteResponse) chunks() models.RetrievalResult {
	if len(r.Documents) == 0 {
		return models.RetrievalResult{}
	}
	docs := r.Documents[0]
	var metas []map[string]interface{}
	if len(r.Metadatas) > 0 {
		metas = r.Metadatas[0]
	}
	var dists []float64
	if len(r.Distances) > 0 {
		dists = r.Distances[0]
	}

	out := make(models.RetrievalResult, 0, len(docs))
	for i, text := range docs {
		var meta map[string]interface{}
		if i < len(metas) {
			meta = metas[i]
		}
		score := 1.0
		if i < len(dists) && dists[i] >= 0 {
			score = 1 / (1 + dists[i])
		}
		if i > 0 && score > out[i-1].Score {
			score = out[i-1].Score
		}
		out = append(out, models.ScoredChunk{Chunk: remoteChunk(i, text, meta), Score: score})
	}
	return out
}

func remoteChunk(i int, text string, meta map[string]interface{}) models.DocumentChunk {
	source := firstString(meta, "source_id", "source_link", "file_path", "file_name")
	if source == "" {
		source = "knowledge-base"
	}
	id := firstString(meta, "id")
	if id == "" {
		index := firstString(meta, "chunk_index")
		if index == "" {
			index = strconv.Itoa(i)
		}
		id = source + "#" + index
	}
	return models.DocumentChunk{
		ID:         id,
		Text:       text,
		SourceType: models.ParseSourceType(firstString(meta, "source_type")),
		SourceID:   source,
		Tags:       remoteMetaTags(meta["tags"]),
	}
}

func firstString(meta map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		switch v := meta[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func remoteMetaTags(v interface{}) []string {
	switch t := v.(type) {
	case string:
		var out []string
		for _, tag := range strings.Split(t, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				out = append(out, tag)
			}
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, tag := range t {
			if s, ok := tag.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	default:
		return nil
	}
}

// Health checks the backend's /health endpoint
func (s *RemoteStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("knowledge base unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &RemoteStatusError{Status: resp.StatusCode}
	}
	return nil
}

func (s *RemoteStore) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrRemoteReadOnly
}

func (s *RemoteStore) Retrieve(context.Context, string, []float32, int) (models.RetrievalResult, error) {
	return nil, ErrRemoteReadOnly
}

func (s *RemoteStore) Add(context.Context, string, []models.DocumentChunk) error {
	return ErrRemoteReadOnly
}

func (s *RemoteStore) Has(context.Context, string, string) bool {
	return false
}

// Count is unknown for a remote collection
func (s *RemoteStore) Count(string) (int, error) {
	return 0, ErrRemoteReadOnly
}

func (s *RemoteStore) Collections() []string {
	return nil
}
