package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
)

var ErrCollectionNotFound = errors.New("collection not found")

// CollectionNotFoundError names the collection that was never indexed
type CollectionNotFoundError struct {
	Name string
}

func (e *CollectionNotFoundError) Error() string {
	return fmt.Sprintf("collection %q not found; run the index command first", e.Name)
}

func (e *CollectionNotFoundError) Is(target error) bool {
	return target == ErrCollectionNotFound
}

// DuplicateChunkError is returned when a chunk id is already in the collection
type DuplicateChunkError struct {
	Collection string
	ID         string
}

func (e *DuplicateChunkError) Error() string {
	return fmt.Sprintf("chunk %q already exists in collection %q", e.ID, e.Collection)
}

// Store is a set of named, append-only collections of embedded chunks.
// Retrieve may run concurrently with other Retrieve calls.
type Store interface {
	// Embed computes the vector of text with the store's embedder
	Embed(ctx context.Context, text string) ([]float32, error)
	// Retrieve returns at most k chunks of collection ordered by
	// non-increasing score. Equal scores keep insertion order.
	Retrieve(ctx context.Context, collection string, query []float32, k int) (models.RetrievalResult, error)
	// Add appends embedded chunks to collection, creating it when needed.
	// The batch is rejected as a whole when any id already exists.
	Add(ctx context.Context, collection string, chunks []models.DocumentChunk) error
	Has(ctx context.Context, collection, id string) bool
	Count(collection string) (int, error)
	Collections() []string
}

type memCollection struct {
	chunks []models.DocumentChunk
	ids    map[string]struct{}
}

// MemoryStore keeps collections in process memory
type MemoryStore struct {
	mu          sync.RWMutex
	embedder    Embedder
	metric      Metric
	collections map[string]*memCollection
}

func NewMemoryStore(embedder Embedder, metric Metric) *MemoryStore {
	if metric == "" {
		metric = Cosine
	}
	return &MemoryStore{
		embedder:    embedder,
		metric:      metric,
		collections: make(map[string]*memCollection),
	}
}

func (s *MemoryStore) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

func (s *MemoryStore) Retrieve(ctx context.Context, collection string, query []float32, k int) (models.RetrievalResult, error) {
	s.mu.RLock()
	c, ok := s.collections[collection]
	var chunks []models.DocumentChunk
	if ok {
		// chunks are never modified after Add, so the slice header is a
		// consistent snapshot
		chunks = c.chunks[:len(c.chunks):len(c.chunks)]
	}
	s.mu.RUnlock()

	if !ok {
		return nil, &CollectionNotFoundError{Name: collection}
	}
	if k < 1 || len(chunks) == 0 {
		return models.RetrievalResult{}, nil
	}

	scored := make(models.RetrievalResult, 0, len(chunks))
	for i, chunk := range chunks {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		score, err := s.metric.Score(query, chunk.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to score chunk %s: %w", chunk.ID, err)
		}
		scored = append(scored, models.ScoredChunk{Chunk: chunk, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *MemoryStore) Add(_ context.Context, collection string, chunks []models.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		c = &memCollection{ids: make(map[string]struct{})}
		s.collections[collection] = c
	}

	batch := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("chunk %q has no embedding", chunk.ID)
		}
		if _, dup := c.ids[chunk.ID]; dup {
			return &DuplicateChunkError{Collection: collection, ID: chunk.ID}
		}
		if _, dup := batch[chunk.ID]; dup {
			return &DuplicateChunkError{Collection: collection, ID: chunk.ID}
		}
		batch[chunk.ID] = struct{}{}
	}

	for _, chunk := range chunks {
		c.ids[chunk.ID] = struct{}{}
	}
	// readers only look below the length they saw, so appending in place is safe
	c.chunks = append(c.chunks, chunks...)
	return nil
}

func (s *MemoryStore) Has(_ context.Context, collection, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return false
	}
	_, ok = c.ids[id]
	return ok
}

func (s *MemoryStore) Count(collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return 0, &CollectionNotFoundError{Name: collection}
	}
	return len(c.chunks), nil
}

func (s *MemoryStore) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
