package retrieval

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
	"unicode"

	"github.com/beagleboard/beaglemind/internal/infrastructure/ollama"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

const (
	EmbedderHash   = "hash"
	EmbedderOpenAI = "openai"
	EmbedderOllama = "ollama"

	// HashDimensions is the vector size of the offline embedder
	HashDimensions = 384

	defaultOllamaEmbeddingModel = "nomic-embed-text"
)

// Embedder turns text into a vector. Implementations must be safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

func IsEmbedder(kind string) bool {
	switch kind {
	case EmbedderHash, EmbedderOpenAI, EmbedderOllama:
		return true
	}
	return false
}

type EmbedderOptions struct {
	Kind         string
	Model        string
	OpenAIAPIKey string
	OllamaHost   string
	// CacheTTL enables the in-process embedding cache when positive
	CacheTTL time.Duration
}

// NewEmbedder builds the embedder named by opts.Kind
func NewEmbedder(opts EmbedderOptions) (Embedder, error) {
	var e Embedder
	switch opts.Kind {
	case EmbedderHash, "":
		e = NewHashEmbedder(HashDimensions)
	case EmbedderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai embedder requires OPENAI_API_KEY")
		}
		e = NewOpenAIEmbedder(openai.NewClient(opts.OpenAIAPIKey), opts.Model)
	case EmbedderOllama:
		e = NewOllamaEmbedder(ollama.NewService(opts.OllamaHost), opts.Model)
	default:
		return nil, fmt.Errorf("unknown embedder %q", opts.Kind)
	}

	if opts.CacheTTL > 0 {
		e = NewCachedEmbedder(e, opts.CacheTTL)
	}
	return e, nil
}

// HashEmbedder is an offline bag-of-words embedder. Tokens are hashed into a
// fixed number of signed buckets and the result is scaled to unit length.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims < 1 {
		dims = HashDimensions
	}
	return &HashEmbedder{dims: dims}
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "do": {}, "does": {}, "for": {},
	"how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "my": {}, "of": {},
	"on": {}, "or": {}, "the": {}, "to": {}, "what": {}, "with": {},
}

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()

		weight := float32(1)
		if sum&(1<<31) != 0 {
			weight = -1
		}
		vec[int(sum%uint32(e.dims))] += weight
	}
	return normalize(vec), nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := fields[:0]
	for _, f := range fields {
		if _, skip := stopwords[f]; skip {
			continue
		}
		out = append(out, f)
	}
	return out
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewOpenAIEmbedder(client *openai.Client, model string) *OpenAIEmbedder {
	m := openai.SmallEmbedding3
	if model != "" {
		m = openai.EmbeddingModel(model)
	}
	return &OpenAIEmbedder{client: client, model: m}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embedding")
	}
	return resp.Data[0].Embedding, nil
}

// OllamaEmbedder calls a local Ollama host
type OllamaEmbedder struct {
	service *ollama.Service
	model   string
}

func NewOllamaEmbedder(service *ollama.Service, model string) *OllamaEmbedder {
	if model == "" {
		model = defaultOllamaEmbeddingModel
	}
	return &OllamaEmbedder{service: service, model: model}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.service.Embed(ctx, e.model, text)
}

// CachedEmbedder memoizes another embedder by exact text
type CachedEmbedder struct {
	next  Embedder
	cache *cache.Cache
}

func NewCachedEmbedder(next Embedder, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return v.([]float32), nil
	}

	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.SetDefault(text, vec)

	log.Trace().Int("cached", e.cache.ItemCount()).Msg("Embedding cached")
	return vec, nil
}
