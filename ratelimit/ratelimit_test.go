package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTokenBucketRefill(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(BucketConfig{Capacity: 10, RefillPerSec: 5}, clock)

	// Drain completely.
	for i := 0; i < 10; i++ {
		require.True(t, bucket.Allow("").Allowed, "request %d", i)
	}
	denied := bucket.Allow("")
	require.False(t, denied.Allowed)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))

	// 1000ms refills 5 tokens; one request consumes 1, leaving 4.
	clock.Advance(time.Second)
	require.True(t, bucket.Allow("").Allowed)
	assert.InDelta(t, 4.0, bucket.Tokens(), 0.0001)
}

func TestTokenBucketRetryAfter(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(BucketConfig{Capacity: 1, RefillPerSec: 2}, clock)

	require.True(t, bucket.Allow("").Allowed)
	d := bucket.Allow("")
	require.False(t, d.Allowed)
	// One token at 2/s is 500ms away.
	assert.Equal(t, 500*time.Millisecond, d.RetryAfter)
}

func TestTokenBucketMinInterval(t *testing.T) {
	clock := newFakeClock()
	bucket := NewTokenBucket(BucketConfig{
		Capacity: 10, RefillPerSec: 5, MinInterval: time.Second,
	}, clock)

	require.True(t, bucket.Allow("connect").Allowed)

	// Tokens remain but the same key repeats too fast.
	d := bucket.Allow("connect")
	require.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	// A different key is not gated.
	assert.True(t, bucket.Allow("sign").Allowed)

	clock.Advance(time.Second)
	assert.True(t, bucket.Allow("connect").Allowed)
}

func TestSlidingWindowBoundary(t *testing.T) {
	clock := newFakeClock()
	window := NewSlidingWindow(WindowConfig{Window: time.Second, MaxRequests: 5}, clock)

	for i := 0; i < 5; i++ {
		require.True(t, window.Allow().Allowed, "request %d", i)
	}
	d := window.Allow()
	require.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	clock.Advance(1100 * time.Millisecond)
	assert.True(t, window.Allow().Allowed)
}

func TestRegistryCategories(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(clock)

	// Auth starts are very tight: capacity 3 with a 5s minimum interval on
	// the same key.
	require.True(t, reg.Allow(CategoryAuthStart, "open_auth").Allowed)
	assert.False(t, reg.Allow(CategoryAuthStart, "open_auth").Allowed)

	// Unknown categories fail open.
	assert.True(t, reg.Allow(Category("bogus"), "").Allowed)
}
