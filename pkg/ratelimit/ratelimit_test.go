package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllow(t *testing.T) {
	limiter := NewLimiter(time.Hour, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "hit %d should pass", i)
	}
	assert.False(t, limiter.Allow("10.0.0.1"))

	// other clients have their own bucket
	assert.True(t, limiter.Allow("10.0.0.2"))
}

func TestLimiterZeroHitsClampedToOne(t *testing.T) {
	limiter := NewLimiter(time.Hour, 0)

	assert.True(t, limiter.Allow("client"))
	assert.False(t, limiter.Allow("client"))
}
