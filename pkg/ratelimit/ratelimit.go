package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per key. A bucket holds maxHits tokens
// and refills completely over window.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	every   rate.Limit
	maxHits int
}

func NewLimiter(window time.Duration, maxHits int) *Limiter {
	if maxHits < 1 {
		maxHits = 1
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		every:   rate.Every(window / time.Duration(maxHits)),
		maxHits: maxHits,
	}
}

func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.every, l.maxHits)
		l.buckets[key] = b
	}
	return b
}
