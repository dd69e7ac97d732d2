package config

import (
	"github.com/beagleboard/beaglemind/pkg/logger"
)

func GetRedisURL() string {
	l := logger.For(logger.CONFIG)
	value := GetEnvOrDefault("REDIS_URL", "")
	if value == "" {
		l.Debug().Msg("REDIS_URL not set, conversation history stays in memory")
	} else {
		l.Info().Msg("Redis URL successfully loaded")
	}
	return value
}

func GetRedisPassword() string {
	return GetEnvOrDefault("REDIS_PASSWORD", "")
}
