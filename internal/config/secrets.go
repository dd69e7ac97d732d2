package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Secrets are provider credentials and service endpoints, read from the
// environment only
type Secrets struct {
	GroqAPIKey        string `env:"GROQ_API_KEY"`
	OpenAIAPIKey      string `env:"OPENAI_API_KEY"`
	OpenRouterAPIKey  string `env:"OPENROUTER_API_KEY"`
	OllamaHost        string `env:"OLLAMA_HOST" envDefault:"http://localhost:11434"`
	RAGBackendURL     string `env:"RAG_BACKEND_URL"`
	RAGTimeoutSeconds int    `env:"RAG_TIMEOUT_SECONDS" envDefault:"30"`
}

// LoadSecrets reads an optional dotenv file into the process environment
// (existing variables win) and then parses the provider credentials.
func LoadSecrets(envFile string) (Secrets, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Debug().Str("file", envFile).Msg("No .env file found, using process environment")
			} else {
				log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
			}
		}
	}

	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, fmt.Errorf("failed to parse environment secrets: %w", err)
	}
	return s, nil
}

// Masked returns a printable form of a secret
func Masked(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 8 {
		return "********"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
