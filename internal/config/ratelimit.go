package config

import (
	"time"

	"github.com/rs/zerolog/log"
)

type RateLimitConfig struct {
	Enabled bool
	MaxHits int
	Window  time.Duration
}

// per-route defaults, hits per window
var rateLimitDefaults = map[string]struct {
	env     string
	maxHits int
}{
	"chat":   {"RATELIMIT_CHAT", 60},
	"ws":     {"RATELIMIT_WS", 30},
	"models": {"RATELIMIT_MODELS", 120},
}

// GetRateLimitConfig returns the limit for a route key. Limits are off
// unless RATELIMIT_ENABLED=true.
func GetRateLimitConfig(key string) RateLimitConfig {
	def, ok := rateLimitDefaults[key]
	if !ok {
		log.Warn().Str("key", key).Msg("No rate limit config found")
		return RateLimitConfig{Enabled: false}
	}

	window := time.Duration(parseEnvInt("RATELIMIT_WINDOW_SECONDS", 60)) * time.Second
	if window <= 0 {
		window = time.Minute
	}

	return RateLimitConfig{
		Enabled: GetEnvOrDefault("RATELIMIT_ENABLED", "false") == "true",
		MaxHits: parseEnvInt(def.env, def.maxHits),
		Window:  window,
	}
}
