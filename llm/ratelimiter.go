package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter guarding calls to a single LLM
// provider. Unlike the teacher's GenAI-specific dual-bucket limiter, this
// one is generic: each provider wraps its Client with the bucket sized
// for its own rate limits.
type RateLimiter struct {
	mu sync.Mutex

	tokens         float64
	maxTokens      float64
	refillRate     float64 // tokens per second
	lastRefillTime time.Time
	minInterval    time.Duration
}

// RateLimiterConfig configures a RateLimiter's burst size, refill rate,
// and minimum spacing between requests.
type RateLimiterConfig struct {
	MaxTokens   float64
	RefillRate  float64
	MinInterval time.Duration
}

// DefaultRateLimiterConfig mirrors the teacher's conservative GenAI-call
// defaults: small burst, slow refill, to avoid provider 429s.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxTokens:   3,
		RefillRate:  0.033, // ~1 token per 30s
		MinInterval: 2 * time.Second,
	}
}

// NewRateLimiter creates a limiter starting at a full bucket.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		tokens:         cfg.MaxTokens,
		maxTokens:      cfg.MaxTokens,
		refillRate:     cfg.RefillRate,
		lastRefillTime: time.Now(),
		minInterval:    cfg.MinInterval,
	}
}

// Wait blocks until a token is available, or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.minInterval):
				return nil
			}
		}

		waitTime := time.Duration(float64(time.Second) / r.refillRate)
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefillTime).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefillTime = now
}

// SetBackoffMultiplier slows the limiter down after a 429, the same
// knob the teacher's limiter exposes for its GenAI bucket.
func (r *RateLimiter) SetBackoffMultiplier(multiplier float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refillRate = r.refillRate / multiplier
	r.minInterval = time.Duration(float64(r.minInterval) * multiplier)
}
