package config

import (
	"sync"
	"time"
)

var (
	jwtSecretMu sync.RWMutex
	// JWTSecret signs the web session cookie
	JWTSecret = []byte(GetEnvOrDefault("JWT_SECRET", "beaglemind-dev-secret"))

	// SessionCookieName defaults to "beaglemind_session"
	SessionCookieName = GetEnvOrDefault("SESSION_COOKIE_NAME", "beaglemind_session")
)

// SetJWTSecret temporarily changes the JWT secret and returns a function to restore it
// This is primarily used for testing
func SetJWTSecret(secret []byte) func() {
	jwtSecretMu.Lock()
	previous := JWTSecret
	JWTSecret = secret
	jwtSecretMu.Unlock()

	return func() {
		jwtSecretMu.Lock()
		JWTSecret = previous
		jwtSecretMu.Unlock()
	}
}

// GetJWTSecret returns the current JWT secret in a thread-safe manner
func GetJWTSecret() []byte {
	jwtSecretMu.RLock()
	defer jwtSecretMu.RUnlock()
	return JWTSecret
}

// GetSessionCookieName returns the configured session cookie name
func GetSessionCookieName() string {
	return SessionCookieName
}

// GetSessionLifetime is how long a web conversation survives without activity
func GetSessionLifetime() time.Duration {
	return time.Duration(parseEnvInt("SESSION_LIFETIME_MINUTES", 60)) * time.Minute
}
