package netutil

import (
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter for outbound order-entry calls.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

// NewRateLimiter builds a limiter with the given burst size and refill rate
// in tokens per second.
func NewRateLimiter(maxTokens int, perSecond float64) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(maxTokens),
		maxTokens:  float64(maxTokens),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// TryAcquire takes one token without blocking, reporting whether one was
// available.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available.
func (r *RateLimiter) Wait() {
	for {
		if r.TryAcquire() {
			return
		}
		time.Sleep(time.Duration(float64(time.Second) / r.refillRate))
	}
}

func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}
