package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// IndexReport summarizes one ingestion run
type IndexReport struct {
	Added    int
	Skipped  int
	BadLines []LineError
}

// Indexer embeds chunks and appends the ones a collection does not have yet
type Indexer struct {
	store Store
}

func NewIndexer(store Store) *Indexer {
	return &Indexer{store: store}
}

func (ix *Indexer) Index(ctx context.Context, collection string, chunks []models.DocumentChunk) (IndexReport, error) {
	var report IndexReport

	seen := make(map[string]struct{}, len(chunks))
	pending := make([]models.DocumentChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if _, dup := seen[chunk.ID]; dup || ix.store.Has(ctx, collection, chunk.ID) {
			report.Skipped++
			continue
		}
		seen[chunk.ID] = struct{}{}

		if len(chunk.Embedding) == 0 {
			vec, err := ix.store.Embed(ctx, chunk.Text)
			if err != nil {
				return report, fmt.Errorf("failed to embed chunk %s: %w", chunk.ID, err)
			}
			chunk.Embedding = vec
		}
		pending = append(pending, chunk)
	}

	if len(pending) > 0 {
		if err := ix.store.Add(ctx, collection, pending); err != nil {
			return report, err
		}
	}
	report.Added = len(pending)
	return report, nil
}

// IndexFile loads a JSONL dataset and indexes it
func (ix *Indexer) IndexFile(ctx context.Context, collection, path string) (IndexReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return IndexReport{}, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	chunks, bad, err := LoadDataset(f)
	if err != nil {
		return IndexReport{}, err
	}
	for _, le := range bad {
		log.Warn().Str("file", path).Int("line", le.Line).Err(le.Err).Msg("Skipping invalid dataset record")
	}

	report, err := ix.Index(ctx, collection, chunks)
	report.BadLines = bad
	if err != nil {
		return report, err
	}

	log.Info().
		Str("file", path).
		Str("collection", collection).
		Int("added", report.Added).
		Int("skipped", report.Skipped).
		Int("invalid", len(bad)).
		Msg("Indexed dataset")
	return report, nil
}

// Watcher re-indexes a dataset file whenever it changes
type Watcher struct {
	watcher    *fsnotify.Watcher
	indexer    *Indexer
	collection string
	path       string
	debounce   time.Duration
}

func NewWatcher(indexer *Indexer, collection, path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// editors often replace the file, so watch its directory
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		watcher:    w,
		indexer:    indexer,
		collection: collection,
		path:       abs,
		debounce:   250 * time.Millisecond,
	}, nil
}

// Run blocks until ctx is done. Bursts of events are collapsed into one
// re-index after a short quiet period.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			if _, err := w.indexer.IndexFile(ctx, w.collection, w.path); err != nil {
				log.Error().Err(err).Str("file", w.path).Msg("Failed to re-index dataset")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("file", w.path).Msg("File watcher error")
		}
	}
}

// StoreOptions selects and configures the retrieval store
type StoreOptions struct {
	// IndexPath selects the persistent store
	IndexPath string
	// RemoteURL selects the hosted knowledge base when IndexPath is empty.
	// With neither set everything stays in memory.
	RemoteURL     string
	Rerank        bool
	RemoteTimeout time.Duration
	Metric        Metric
	Embedder      EmbedderOptions
}

func OpenStore(opts StoreOptions) (Store, error) {
	if opts.IndexPath == "" && opts.RemoteURL != "" {
		return NewRemoteStore(RemoteOptions{URL: opts.RemoteURL, Rerank: opts.Rerank, Timeout: opts.RemoteTimeout})
	}

	embedder, err := NewEmbedder(opts.Embedder)
	if err != nil {
		return nil, err
	}

	if opts.IndexPath == "" {
		return NewMemoryStore(embedder, opts.Metric), nil
	}

	if opts.Metric != "" && opts.Metric != Cosine {
		log.Warn().Str("similarity", string(opts.Metric)).Msg("Persistent index only supports cosine similarity")
	}
	return NewChromemStore(opts.IndexPath, embedder)
}
