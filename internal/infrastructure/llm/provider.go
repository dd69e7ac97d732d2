package llm

import (
	"fmt"
	"strings"
)

// Provider names a model backend
type Provider string

const (
	Groq   Provider = "groq"
	OpenAI Provider = "openai"
	Ollama Provider = "ollama"
)

const (
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	DefaultOllamaHost = "http://localhost:11434"
)

var providers = []Provider{Groq, OpenAI, Ollama}

// catalogue lists the models offered for each provider, first entry is the default
var catalogue = map[Provider][]string{
	Groq: {
		"llama-3.3-70b-versatile",
		"llama-3.1-8b-instant",
		"gemma2-9b-it",
		"meta-llama/llama-4-scout-17b-16e-instruct",
		"meta-llama/llama-4-maverick-17b-128e-instruct",
	},
	OpenAI: {
		"gpt-4o-mini",
		"gpt-4o",
		"gpt-4-turbo",
		"gpt-3.5-turbo",
	},
	Ollama: {
		"qwen3:1.7b",
	},
}

// Providers returns every supported provider in display order
func Providers() []Provider {
	out := make([]Provider, len(providers))
	copy(out, providers)
	return out
}

// ParseProvider is case-insensitive
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown backend %q (expected one of groq, openai, ollama)", s)
}

func (p Provider) String() string {
	return string(p)
}

// Remote reports whether the provider is a hosted service that needs an API key
func (p Provider) Remote() bool {
	return p != Ollama
}

// KeyEnv is the environment variable holding the provider's API key
func (p Provider) KeyEnv() string {
	switch p {
	case Groq:
		return "GROQ_API_KEY"
	case OpenAI:
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}

// DefaultModel is the model used when none is configured
func (p Provider) DefaultModel() string {
	models := catalogue[p]
	if len(models) == 0 {
		return ""
	}
	return models[0]
}

// Catalogue returns the known models for p
func Catalogue(p Provider) []string {
	models := catalogue[p]
	out := make([]string, len(models))
	copy(out, models)
	return out
}
