package ratelimit

import "time"

// Category scopes a limiter to an operation class.
type Category string

const (
	// CategoryPageMessage covers general page traffic; high burst tolerance.
	CategoryPageMessage Category = "page_message"
	// CategoryWalletOp covers operations opening a wallet prompt.
	CategoryWalletOp Category = "wallet_op"
	// CategoryAuthStart covers starting a full auth flow.
	CategoryAuthStart Category = "auth_start"
	// CategoryOutboundAPI covers calls to the remote verifier.
	CategoryOutboundAPI Category = "outbound_api"
)

type limiter interface {
	allow(key string) Decision
}

type bucketLimiter struct{ b *TokenBucket }

func (l bucketLimiter) allow(key string) Decision { return l.b.Allow(key) }

type windowLimiter struct{ w *SlidingWindow }

func (l windowLimiter) allow(string) Decision { return l.w.Allow() }

// Registry holds one limiter per category. It is owned by the router or
// executor instance that constructed it; there are no package-level
// singletons.
type Registry struct {
	limiters map[Category]limiter
}

// NewRegistry builds the default category limiters.
func NewRegistry(clock Clock) *Registry {
	return &Registry{limiters: map[Category]limiter{
		CategoryPageMessage: bucketLimiter{NewTokenBucket(BucketConfig{
			Capacity: 20, RefillPerSec: 5,
		}, clock)},
		CategoryWalletOp: bucketLimiter{NewTokenBucket(BucketConfig{
			Capacity: 5, RefillPerSec: 1, MinInterval: time.Second,
		}, clock)},
		CategoryAuthStart: bucketLimiter{NewTokenBucket(BucketConfig{
			Capacity: 3, RefillPerSec: 0.1, MinInterval: 5 * time.Second,
		}, clock)},
		CategoryOutboundAPI: windowLimiter{NewSlidingWindow(WindowConfig{
			Window: time.Minute, MaxRequests: 60,
		}, clock)},
	}}
}

// Allow checks the category limiter. Unknown categories are allowed so a
// missing mapping fails open rather than wedging traffic.
func (r *Registry) Allow(cat Category, key string) Decision {
	l, ok := r.limiters[cat]
	if !ok {
		return Decision{Allowed: true}
	}
	return l.allow(key)
}
