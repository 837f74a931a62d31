// Package ratelimit provides the token-bucket and sliding-window primitives
// that protect the relay and executor from message storms. All limiters take
// an injected clock so refill arithmetic is deterministic under test.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Clock is the minimal time source a limiter needs.
type Clock interface {
	Now() time.Time
}

// Decision is the outcome of a limiter check. RetryAfter is the suggested
// wait on denial.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// BucketConfig parameterizes a token bucket.
type BucketConfig struct {
	Capacity      float64
	RefillPerSec  float64
	// MinInterval, when non-zero, denies rapid repeats of the same logical
	// action key even while tokens remain.
	MinInterval time.Duration
}

// TokenBucket implements the classic refill-then-consume bucket with an
// optional per-key minimum interval.
type TokenBucket struct {
	mu         sync.Mutex
	cfg        BucketConfig
	tokens     float64
	lastRefill time.Time
	lastByKey  map[string]time.Time
	clock      Clock
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(cfg BucketConfig, clock Clock) *TokenBucket {
	return &TokenBucket{
		cfg:        cfg,
		tokens:     cfg.Capacity,
		lastRefill: clock.Now(),
		lastByKey:  make(map[string]time.Time),
		clock:      clock,
	}
}

// Allow consumes one token for key, refilling first. The key participates
// only in the minimum-interval gate; tokens are shared across keys.
func (b *TokenBucket) Allow(key string) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.refill(now)

	if b.cfg.MinInterval > 0 && key != "" {
		if last, ok := b.lastByKey[key]; ok {
			if since := now.Sub(last); since < b.cfg.MinInterval {
				return Decision{RetryAfter: b.cfg.MinInterval - since}
			}
		}
	}

	if b.tokens < 1 {
		retryMs := math.Ceil((1 - b.tokens) / b.cfg.RefillPerSec * 1000)
		return Decision{RetryAfter: time.Duration(retryMs) * time.Millisecond}
	}

	b.tokens--
	if b.cfg.MinInterval > 0 && key != "" {
		b.lastByKey[key] = now
	}
	return Decision{Allowed: true}
}

// Tokens reports the current token count after refilling, for tests and
// introspection.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(b.clock.Now())
	return b.tokens
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.cfg.Capacity, b.tokens+elapsed*b.cfg.RefillPerSec)
	b.lastRefill = now
}
