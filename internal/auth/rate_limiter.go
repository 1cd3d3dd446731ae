package auth

import (
	"sync"
	"time"

	"github.com/yourorg/lotflow/internal/clock"
)

// RateLimiter is a per-key token bucket.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    int
	window  time.Duration
	clock   clock.Clock
}

type tokenBucket struct {
	tokens   int
	lastFill time.Time
}

// NewRateLimiter allows ratePerWindow events per key per window. A
// non-positive rate disables limiting.
func NewRateLimiter(ratePerWindow int, window time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    ratePerWindow,
		window:  window,
		clock:   clk,
	}
}

// Allow consumes one token for key. When denied it returns how long until
// the next token is available.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if rl == nil || rl.rate <= 0 {
		return true, 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	bucket, ok := rl.buckets[key]
	if !ok {
		rl.buckets[key] = &tokenBucket{tokens: rl.rate - 1, lastFill: now}
		return true, 0
	}

	refill := int(float64(now.Sub(bucket.lastFill)) / float64(rl.window) * float64(rl.rate))
	if refill > 0 {
		bucket.tokens = min(rl.rate, bucket.tokens+refill)
		bucket.lastFill = now
	}
	if bucket.tokens > 0 {
		bucket.tokens--
		return true, 0
	}
	return false, rl.window / time.Duration(rl.rate)
}

// Blocked reports whether key has exhausted its bucket without consuming a
// token.
func (rl *RateLimiter) Blocked(key string) bool {
	if rl == nil || rl.rate <= 0 {
		return false
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	bucket, ok := rl.buckets[key]
	if !ok {
		return false
	}
	elapsed := rl.clock.Now().Sub(bucket.lastFill)
	refill := int(float64(elapsed) / float64(rl.window) * float64(rl.rate))
	return bucket.tokens+refill <= 0
}

func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}
