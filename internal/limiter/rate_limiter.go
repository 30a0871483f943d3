package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the interface that all rate limiters must implement
// This allows us to easily swap between in-memory and Redis implementations
type Limiter interface {
	// Allow checks if a request identified by key (usually a client IP) should be allowed
	// Returns true if allowed, false if rate limited
	Allow(ctx context.Context, key string) bool

	// Close cleans up any resources (Redis connections, goroutines, etc.)
	Close() error
}

// idleTimeout is how long an unused bucket is kept before it is evicted
const idleTimeout = 5 * time.Minute

// bucket pairs a token bucket with the last time it was used
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key
// This is an in-memory implementation suitable for single-server deployments
//
// How it works:
//   - Each key has a bucket holding at most `limit` tokens (burst size)
//   - Tokens refill continuously, `limit` per `window`
//   - Each request consumes 1 token; an empty bucket means 429
type MemoryLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	every       rate.Limit
	burst       int
	lastCleanup time.Time
}

// NewMemoryLimiter creates a new in-memory rate limiter
//
// Parameters:
//   - limit: requests allowed per window per key (values below 1 are treated as 1)
//   - window: refill window (e.g. 1s)
//
// Returns:
//   - *MemoryLimiter: new in-memory rate limiter instance
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}

	return &MemoryLimiter{
		buckets:     make(map[string]*bucket),
		every:       rate.Every(window / time.Duration(limit)),
		burst:       limit,
		lastCleanup: time.Now(),
	}
}

// Allow checks if a request for key should be allowed
func (rl *MemoryLimiter) Allow(ctx context.Context, key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.every, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	// Periodically clean up old buckets (prevent memory leak)
	rl.cleanupLocked(now)

	return b.limiter.AllowN(now, 1)
}

// cleanupLocked evicts buckets idle for longer than idleTimeout
// Must be called with mutex locked
func (rl *MemoryLimiter) cleanupLocked(now time.Time) {
	if now.Sub(rl.lastCleanup) < idleTimeout {
		return
	}

	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > idleTimeout {
			delete(rl.buckets, key)
		}
	}
	rl.lastCleanup = now
}

// size returns the number of tracked buckets
func (rl *MemoryLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Close implements the Limiter interface
// For the in-memory implementation there is nothing to release
func (rl *MemoryLimiter) Close() error {
	return nil
}
