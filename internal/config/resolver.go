package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/beagleboard/beaglemind/internal/domain/chat/models"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

// DefaultConfigFile lives in the user's home directory
const DefaultConfigFile = ".beaglemind_config.json"

// DefaultRAGBackendURL is the hosted BeagleBoard knowledge base
const DefaultRAGBackendURL = "https://mind-api.beagleboard.org/api"

const (
	envPrefix         = "BEAGLEMIND_"
	maxConfigFileSize = 1024 * 1024
	embeddingCacheTTL = 30 * time.Minute
)

var defaults = map[string]interface{}{
	"backend":         string(llm.Groq),
	"temperature":     0.3,
	"use_tools":       true,
	"show_sources":    false,
	"collection":      "beagleboard",
	"top_k":           5,
	"similarity":      string(retrieval.Cosine),
	"max_tool_rounds": 5,
	"embedder":        retrieval.EmbedderHash,
	"allow_writes":    false,
	"rag_backend_url": DefaultRAGBackendURL,
	"rerank":          true,
	"strategy":        string(retrieval.StrategyAdaptive),
}

// legacyKeys maps names written by older BeagleMind releases onto current keys
var legacyKeys = map[string]string{
	"default_backend":     "backend",
	"default_model":       "model",
	"default_temperature": "temperature",
	"collection_name":     "collection",
}

// ConfigError reports a missing or invalid setting
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// EffectiveConfig is the fully merged configuration of one run. It is a
// value; every run works on its own copy.
type EffectiveConfig struct {
	Backend        llm.Provider `koanf:"backend"`
	Model          string       `koanf:"model"`
	Temperature    float64      `koanf:"temperature"`
	UseTools       bool         `koanf:"use_tools"`
	ShowSources    bool         `koanf:"show_sources"`
	Collection     string       `koanf:"collection"`
	TopK           int          `koanf:"top_k"`
	Similarity     string       `koanf:"similarity"`
	MaxToolRounds  int          `koanf:"max_tool_rounds"`
	IndexPath      string       `koanf:"index_path"`
	Embedder       string       `koanf:"embedder"`
	EmbeddingModel string       `koanf:"embedding_model"`
	Workspace      string       `koanf:"workspace"`
	AllowWrites    bool         `koanf:"allow_writes"`
	// RAGBackendURL is the hosted knowledge base, used when IndexPath is empty
	RAGBackendURL string `koanf:"rag_backend_url"`
	Rerank        bool   `koanf:"rerank"`
	Strategy      string `koanf:"strategy"`

	Secrets Secrets `koanf:"-"`
}

// Overrides are per-call settings. Nil fields leave the lower layers alone.
type Overrides struct {
	Backend     *string
	Model       *string
	Temperature *float64
	UseTools    *bool
	ShowSources *bool
	Collection  *string
	TopK        *int
	Workspace   *string
	AllowWrites *bool
	Strategy    *string
}

func (o Overrides) values() map[string]interface{} {
	out := make(map[string]interface{})
	if o.Backend != nil {
		out["backend"] = *o.Backend
	}
	if o.Model != nil {
		out["model"] = *o.Model
	}
	if o.Temperature != nil {
		out["temperature"] = *o.Temperature
	}
	if o.UseTools != nil {
		out["use_tools"] = *o.UseTools
	}
	if o.ShowSources != nil {
		out["show_sources"] = *o.ShowSources
	}
	if o.Collection != nil {
		out["collection"] = *o.Collection
	}
	if o.TopK != nil {
		out["top_k"] = *o.TopK
	}
	if o.Workspace != nil {
		out["workspace"] = *o.Workspace
	}
	if o.AllowWrites != nil {
		out["allow_writes"] = *o.AllowWrites
	}
	if o.Strategy != nil {
		out["strategy"] = *o.Strategy
	}
	return out
}

type ResolverOptions struct {
	// ConfigPath defaults to ~/.beaglemind_config.json
	ConfigPath string
	// EnvFile is an optional dotenv file loaded before secrets are read
	EnvFile string
	// Secrets replaces the environment lookup when set
	Secrets *Secrets
}

// Resolver merges defaults, the persisted file, the environment and per-call
// overrides. Everything but the overrides is read once, in NewResolver.
type Resolver struct {
	base       *koanf.Koanf
	secrets    Secrets
	path       string
	fileLoaded bool
}

func NewResolver(opts ResolverOptions) (*Resolver, error) {
	path := opts.ConfigPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, &ConfigError{Field: "config file", Reason: fmt.Sprintf("cannot locate home directory: %v", err)}
		}
		path = filepath.Join(home, DefaultConfigFile)
	}

	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	fileLoaded, err := loadConfigFile(k, path)
	if err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// BEAGLEMIND_TOP_K -> top_k
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var secrets Secrets
	if opts.Secrets != nil {
		secrets = *opts.Secrets
	} else {
		secrets, err = LoadSecrets(opts.EnvFile)
		if err != nil {
			return nil, &ConfigError{Field: "environment", Reason: err.Error()}
		}
	}
	// RAG_BACKEND_URL is shared with the knowledge base service
	if secrets.RAGBackendURL != "" {
		if err := k.Set("rag_backend_url", secrets.RAGBackendURL); err != nil {
			return nil, fmt.Errorf("failed to set rag_backend_url: %w", err)
		}
	}

	return &Resolver{
		base:       k,
		secrets:    secrets,
		path:       path,
		fileLoaded: fileLoaded,
	}, nil
}

func loadConfigFile(k *koanf.Koanf, path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("path", path).Msg("No config file, using defaults")
		return false, nil
	}
	if err != nil {
		return false, &ConfigError{Field: "config file", Reason: err.Error()}
	}
	if info.IsDir() || info.Size() > maxConfigFileSize {
		return false, &ConfigError{Field: "config file", Reason: fmt.Sprintf("%s is not a regular file under 1MB", path)}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return false, &ConfigError{Field: "config file", Reason: err.Error()}
	}

	// JSON is a subset of YAML, so the YAML parser reads the file as is
	fk := koanf.New(".")
	if err := fk.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return false, &ConfigError{Field: "config file", Reason: fmt.Sprintf("failed to parse %s: %v", path, err)}
	}

	for legacy, current := range legacyKeys {
		if fk.Exists(legacy) && !fk.Exists(current) {
			if err := fk.Set(current, fk.Get(legacy)); err != nil {
				return false, fmt.Errorf("failed to map legacy key %s: %w", legacy, err)
			}
		}
	}

	if err := k.Merge(fk); err != nil {
		return false, fmt.Errorf("failed to merge config file: %w", err)
	}

	log.Debug().Str("path", path).Msg("Loaded config file")
	return true, nil
}

// ConfigPath is the persisted file the resolver read, or would have read
func (r *Resolver) ConfigPath() string {
	return r.path
}

// FileLoaded reports whether the persisted file existed
func (r *Resolver) FileLoaded() bool {
	return r.fileLoaded
}

// Secrets returns the provider credentials read at construction
func (r *Resolver) Secrets() Secrets {
	return r.secrets
}

// Resolve merges o over the base layers and validates the result, including
// the credential of the selected backend.
func (r *Resolver) Resolve(o Overrides) (EffectiveConfig, error) {
	cfg, err := r.Load(o)
	if err != nil {
		return EffectiveConfig{}, err
	}
	if err := cfg.CheckCredentials(); err != nil {
		return EffectiveConfig{}, err
	}
	return cfg, nil
}

// Load is Resolve without the credential check, for callers such as the
// doctor that report missing keys instead of failing on them.
func (r *Resolver) Load(o Overrides) (EffectiveConfig, error) {
	k := r.base.Copy()
	for key, val := range o.values() {
		if err := k.Set(key, val); err != nil {
			return EffectiveConfig{}, fmt.Errorf("failed to apply override %s: %w", key, err)
		}
	}

	var cfg EffectiveConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return EffectiveConfig{}, &ConfigError{Field: "config", Reason: err.Error()}
	}
	cfg.Secrets = r.secrets

	if err := cfg.normalize(); err != nil {
		return EffectiveConfig{}, err
	}
	return cfg, nil
}

func (c *EffectiveConfig) normalize() error {
	provider, err := llm.ParseProvider(string(c.Backend))
	if err != nil {
		return &ConfigError{Field: "backend", Reason: err.Error()}
	}
	c.Backend = provider

	if strings.TrimSpace(c.Model) == "" {
		c.Model = provider.DefaultModel()
	}

	metric, err := retrieval.ParseMetric(c.Similarity)
	if err != nil {
		return &ConfigError{Field: "similarity", Reason: err.Error()}
	}
	c.Similarity = string(metric)

	if !retrieval.IsEmbedder(c.Embedder) {
		return &ConfigError{Field: "embedder", Reason: fmt.Sprintf("unknown embedder %q (expected hash, openai or ollama)", c.Embedder)}
	}

	if c.TopK < 1 {
		return &ConfigError{Field: "top_k", Reason: "must be at least 1"}
	}
	if c.MaxToolRounds < 1 {
		return &ConfigError{Field: "max_tool_rounds", Reason: "must be at least 1"}
	}
	if strings.TrimSpace(c.Collection) == "" {
		return &ConfigError{Field: "collection", Reason: "must not be empty"}
	}

	c.RAGBackendURL = strings.TrimRight(strings.TrimSpace(c.RAGBackendURL), "/")
	if c.RAGBackendURL != "" {
		u, err := url.Parse(c.RAGBackendURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Field: "rag_backend_url", Reason: fmt.Sprintf("%q is not an http(s) url", c.RAGBackendURL)}
		}
	}

	strategy, err := retrieval.ParseStrategy(c.Strategy)
	if err != nil {
		return &ConfigError{Field: "strategy", Reason: err.Error()}
	}
	c.Strategy = string(strategy)

	c.Temperature = llm.ClampTemperature(c.Temperature)

	if c.Workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return &ConfigError{Field: "workspace", Reason: err.Error()}
		}
		c.Workspace = wd
	}
	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return &ConfigError{Field: "workspace", Reason: err.Error()}
	}
	c.Workspace = abs

	return nil
}

// CheckCredentials fails when a remote backend has no API key
func (c EffectiveConfig) CheckCredentials() error {
	if c.Backend.Remote() && c.APIKey() == "" {
		return &ConfigError{
			Field:  c.Backend.KeyEnv(),
			Reason: fmt.Sprintf("required for the %s backend; export it or add it to .env", c.Backend),
		}
	}
	return nil
}

// APIKey returns the credential of the selected backend
func (c EffectiveConfig) APIKey() string {
	switch c.Backend {
	case llm.Groq:
		return c.Secrets.GroqAPIKey
	case llm.OpenAI:
		return c.Secrets.OpenAIAPIKey
	default:
		return ""
	}
}

// BackendOptions builds the adapter options of the selected backend
func (c EffectiveConfig) BackendOptions() llm.Options {
	opts := llm.Options{APIKey: c.APIKey()}
	if c.Backend == llm.Ollama {
		opts.BaseURL = llm.OllamaBaseURL(c.Secrets.OllamaHost)
	}
	return opts
}

// StoreOptions builds the retrieval store settings
func (c EffectiveConfig) StoreOptions() retrieval.StoreOptions {
	return retrieval.StoreOptions{
		IndexPath:     c.IndexPath,
		RemoteURL:     c.RAGBackendURL,
		Rerank:        c.Rerank,
		RemoteTimeout: time.Duration(c.Secrets.RAGTimeoutSeconds) * time.Second,
		Metric:        retrieval.Metric(c.Similarity),
		Embedder: retrieval.EmbedderOptions{
			Kind:         c.Embedder,
			Model:        c.EmbeddingModel,
			OpenAIAPIKey: c.Secrets.OpenAIAPIKey,
			OllamaHost:   c.Secrets.OllamaHost,
			CacheTTL:     embeddingCacheTTL,
		},
	}
}

// Query builds the request for one user turn
func (c EffectiveConfig) Query(text string) models.QueryRequest {
	return models.QueryRequest{
		Text:        text,
		Backend:     string(c.Backend),
		Model:       c.Model,
		Temperature: c.Temperature,
		UseTools:    c.UseTools,
		ShowSources: c.ShowSources,
	}
}
