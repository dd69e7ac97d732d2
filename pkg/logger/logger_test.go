package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		envLevel string
		want     zerolog.Level
	}{
		{"Trace level", "TRACE", zerolog.TraceLevel},
		{"Debug level", "DEBUG", zerolog.DebugLevel},
		{"Info level", "INFO", zerolog.InfoLevel},
		{"Warn level", "WARN", zerolog.WarnLevel},
		{"Error level", "ERROR", zerolog.ErrorLevel},
		{"Empty defaults to Info", "", zerolog.InfoLevel},
		{"Invalid defaults to Info", "INVALID", zerolog.InfoLevel},
		{"Case insensitive", "debug", zerolog.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.envLevel)
			assert.Equal(t, tt.want, getLogLevel())
		})
	}
}

func TestInitWritesJSON(t *testing.T) {
	previous := log.Logger
	previousLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = previous
		zerolog.SetGlobalLevel(previousLevel)
	}()

	t.Setenv("LOG_LEVEL", "info")
	var buf bytes.Buffer
	Init(&buf)

	For(CHAT).Info().Str("backend", "groq").Msg("hello")
	For(CHAT).Debug().Msg("filtered out")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "CHAT", entry["namespace"])
	assert.Equal(t, "groq", entry["backend"])
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "info", entry["level"])
}
