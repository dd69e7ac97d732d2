package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

const (
	metaSourceType = "source_type"
	metaSourceID   = "source_id"
	metaTags       = "tags"
	metaSeq        = "seq"

	tagSeparator = "\x1f"
)

// ChromemStore persists collections with chromem-go. Similarity is always
// cosine; chromem normalizes every vector on the way in.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	// serializes Add so that sequence numbers stay dense
	mu sync.Mutex
}

func NewChromemStore(path string, embedder Embedder) (*ChromemStore, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to expand %s: %w", path, err)
		}
		path = filepath.Join(home, path[2:])
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open index at %s: %w", path, err)
	}

	log.Info().Str("path", path).Int("collections", len(db.ListCollections())).Msg("Opened persistent index")

	return &ChromemStore{db: db, embedder: embedder}, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
}

func (s *ChromemStore) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

func (s *ChromemStore) Retrieve(ctx context.Context, collection string, query []float32, k int) (models.RetrievalResult, error) {
	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return nil, &CollectionNotFoundError{Name: collection}
	}

	// chromem requires nResults <= document count
	n := col.Count()
	if k < 1 || n == 0 {
		return models.RetrievalResult{}, nil
	}
	if k > n {
		k = n
	}

	results, err := col.QueryEmbedding(ctx, normalize(query), k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}

	out := make(models.RetrievalResult, 0, len(results))
	seqs := make([]int, 0, len(results))
	for _, r := range results {
		out = append(out, models.ScoredChunk{
			Chunk: models.DocumentChunk{
				ID:         r.ID,
				Text:       r.Content,
				SourceType: models.ParseSourceType(r.Metadata[metaSourceType]),
				SourceID:   r.Metadata[metaSourceID],
				Tags:       splitTags(r.Metadata[metaTags]),
			},
			Score: float64(r.Similarity),
		})
		seq, _ := strconv.Atoi(r.Metadata[metaSeq])
		seqs = append(seqs, seq)
	}

	// chromem scores in parallel, so ties come back in no particular order
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if out[ia].Score != out[ib].Score {
			return out[ia].Score > out[ib].Score
		}
		return seqs[ia] < seqs[ib]
	})

	sorted := make(models.RetrievalResult, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted, nil
}

func (s *ChromemStore) Add(ctx context.Context, collection string, chunks []models.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.db.GetOrCreateCollection(collection, nil, s.embeddingFunc())
	if err != nil {
		return fmt.Errorf("failed to open collection %s: %w", collection, err)
	}

	batch := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		if _, dup := batch[chunk.ID]; dup || s.has(ctx, col, chunk.ID) {
			return &DuplicateChunkError{Collection: collection, ID: chunk.ID}
		}
		batch[chunk.ID] = struct{}{}
	}

	base := col.Count()
	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID:      chunk.ID,
			Content: chunk.Text,
			Metadata: map[string]string{
				metaSourceType: string(chunk.SourceType),
				metaSourceID:   chunk.SourceID,
				metaTags:       strings.Join(chunk.Tags, tagSeparator),
				metaSeq:        strconv.Itoa(base + i),
			},
			Embedding: chunk.Embedding,
		}
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents to %s: %w", collection, err)
	}

	log.Debug().
		Str("collection", collection).
		Int("count", len(docs)).
		Msg("Added chunks to persistent index")
	return nil
}

func (s *ChromemStore) has(ctx context.Context, col *chromem.Collection, id string) bool {
	_, err := col.GetByID(ctx, id)
	return err == nil
}

func (s *ChromemStore) Has(ctx context.Context, collection, id string) bool {
	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return false
	}
	return s.has(ctx, col, id)
}

func (s *ChromemStore) Count(collection string) (int, error) {
	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return 0, &CollectionNotFoundError{Name: collection}
	}
	return col.Count(), nil
}

func (s *ChromemStore) Collections() []string {
	cols := s.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, tagSeparator)
}
