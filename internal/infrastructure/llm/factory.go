package llm

import (
	"fmt"
	"strings"
)

type constructor func(opts Options) Backend

var constructors = map[Provider]constructor{
	Groq: func(opts Options) Backend {
		if opts.BaseURL == "" {
			opts.BaseURL = GroqBaseURL
		}
		return newCompatBackend(Groq, opts, true)
	},
	OpenAI: func(opts Options) Backend {
		return newCompatBackend(OpenAI, opts, true)
	},
	Ollama: func(opts Options) Backend {
		if opts.BaseURL == "" {
			opts.BaseURL = OllamaBaseURL(DefaultOllamaHost)
		}
		if opts.APIKey == "" {
			// the OpenAI-compatible endpoint ignores the key but the client wants one
			opts.APIKey = "ollama"
		}
		return newCompatBackend(Ollama, opts, false)
	},
}

// New returns the backend variant registered for provider
func New(provider Provider, opts Options) (Backend, error) {
	build, ok := constructors[provider]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", provider)
	}
	if provider.Remote() && opts.APIKey == "" {
		return nil, fmt.Errorf("%s backend requires %s", provider, provider.KeyEnv())
	}
	return build(opts), nil
}

// OllamaBaseURL turns an Ollama host into its OpenAI-compatible endpoint
func OllamaBaseURL(host string) string {
	return NormalizeHost(host) + "/v1"
}

// NormalizeHost adds a scheme to bare host:port values and drops trailing slashes
func NormalizeHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = DefaultOllamaHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host
}
