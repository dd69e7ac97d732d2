package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSecrets(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "from-env")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("RAG_BACKEND_URL", "http://localhost:8000/api")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GROQ_API_KEY=from-file\nOPENROUTER_API_KEY=or-key\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("OPENROUTER_API_KEY") })

	s, err := LoadSecrets(envFile)
	require.NoError(t, err)

	// variables already in the environment win over the file
	assert.Equal(t, "from-env", s.GroqAPIKey)
	assert.Equal(t, "or-key", s.OpenRouterAPIKey)
	assert.Empty(t, s.OpenAIAPIKey)
	assert.Equal(t, "http://localhost:8000/api", s.RAGBackendURL)
	assert.Equal(t, 30, s.RAGTimeoutSeconds)
}

func TestLoadSecretsMissingEnvFile(t *testing.T) {
	_, err := LoadSecrets(filepath.Join(t.TempDir(), "nope.env"))
	assert.NoError(t, err)
}

func TestMasked(t *testing.T) {
	assert.Equal(t, "(not set)", Masked(""))
	assert.Equal(t, "********", Masked("short"))
	assert.Equal(t, "gsk_...wxyz", Masked("gsk_abcdefghwxyz"))
}

func TestGetRateLimitConfig(t *testing.T) {
	t.Setenv("RATELIMIT_ENABLED", "true")
	t.Setenv("RATELIMIT_CHAT", "5")

	chat := GetRateLimitConfig("chat")
	assert.True(t, chat.Enabled)
	assert.Equal(t, 5, chat.MaxHits)
	assert.Equal(t, time.Minute, chat.Window)

	t.Setenv("RATELIMIT_WS", "not-a-number")
	assert.Equal(t, 30, GetRateLimitConfig("ws").MaxHits)

	assert.False(t, GetRateLimitConfig("unknown").Enabled)

	t.Setenv("RATELIMIT_WINDOW_SECONDS", "10")
	assert.Equal(t, 10*time.Second, GetRateLimitConfig("models").Window)
}

func TestLoadToolsConfig(t *testing.T) {
	cfg, err := LoadToolsConfig("")
	require.NoError(t, err)

	names := make(map[string]ToolDefinition)
	for _, def := range cfg.Tools {
		names[def.Name] = def
	}
	for _, want := range []string{"retrieve_context", "read_file", "write_file", "edit_file_lines", "run_command", "analyze_code"} {
		assert.Contains(t, names, want)
	}
	assert.True(t, names["write_file"].RequiresApproval)
	assert.False(t, names["read_file"].RequiresApproval)

	_, err = LoadToolsConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("BEAGLEMIND_TEST_VALUE", "")
	assert.Equal(t, "fallback", GetEnvOrDefault("BEAGLEMIND_TEST_VALUE", "fallback"))

	t.Setenv("BEAGLEMIND_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnvOrDefault("BEAGLEMIND_TEST_VALUE", "fallback"))
}
