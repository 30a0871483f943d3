package limiter

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestMemoryLimiter_BasicRateLimit tests basic rate limiting functionality
func TestMemoryLimiter_BasicRateLimit(t *testing.T) {
	// Create a limiter with 5 requests per second
	limiter := NewMemoryLimiter(5, time.Second)
	defer limiter.Close()

	ctx := context.Background()
	ip := "192.168.1.1"

	// First 5 requests should be allowed
	for i := 0; i < 5; i++ {
		if !limiter.Allow(ctx, ip) {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// 6th request should be blocked
	if limiter.Allow(ctx, ip) {
		t.Error("Request 6 should be rate limited")
	}

	// Wait for refill (one token every 200ms)
	time.Sleep(250 * time.Millisecond)

	// Should be allowed again after refill
	if !limiter.Allow(ctx, ip) {
		t.Error("Request should be allowed after refill")
	}
}

// TestMemoryLimiter_PerIPIsolation tests that different IPs have separate limits
func TestMemoryLimiter_PerIPIsolation(t *testing.T) {
	limiter := NewMemoryLimiter(3, time.Minute)
	defer limiter.Close()

	ctx := context.Background()
	ip1 := "192.168.1.1"
	ip2 := "192.168.1.2"

	// Use up limit for IP1
	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, ip1) {
			t.Errorf("Request %d for IP1 should be allowed", i+1)
		}
	}

	// IP1 should be blocked
	if limiter.Allow(ctx, ip1) {
		t.Error("IP1 should be rate limited")
	}

	// IP2 should still be allowed (separate bucket)
	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, ip2) {
			t.Errorf("Request %d for IP2 should be allowed", i+1)
		}
	}

	// IP2 should now be blocked
	if limiter.Allow(ctx, ip2) {
		t.Error("IP2 should be rate limited")
	}
}

// TestMemoryLimiter_Concurrency tests thread safety
func TestMemoryLimiter_Concurrency(t *testing.T) {
	limiter := NewMemoryLimiter(100, time.Minute)
	defer limiter.Close()

	ctx := context.Background()
	ip := "192.168.1.1"
	allowedCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup

	// Spawn 200 goroutines (double the limit)
	// Only 100 should be allowed
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow(ctx, ip) {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if allowedCount != 100 {
		t.Errorf("Expected 100 allowed requests, got %d", allowedCount)
	}
}

// TestMemoryLimiter_InvalidConfig tests that a zero limit still admits one request
func TestMemoryLimiter_InvalidConfig(t *testing.T) {
	limiter := NewMemoryLimiter(0, 0)
	ctx := context.Background()

	if !limiter.Allow(ctx, "10.0.0.1") {
		t.Error("first request should be allowed")
	}
	if limiter.Allow(ctx, "10.0.0.1") {
		t.Error("second request should be rate limited")
	}
}

// TestMemoryLimiter_Cleanup tests that idle buckets are evicted
func TestMemoryLimiter_Cleanup(t *testing.T) {
	limiter := NewMemoryLimiter(10, time.Second)
	ctx := context.Background()

	limiter.Allow(ctx, "10.0.0.1")
	limiter.Allow(ctx, "10.0.0.2")

	// Pretend both buckets and the last sweep are old
	limiter.mu.Lock()
	for _, b := range limiter.buckets {
		b.lastSeen = time.Now().Add(-2 * idleTimeout)
	}
	limiter.lastCleanup = time.Now().Add(-2 * idleTimeout)
	limiter.mu.Unlock()

	limiter.Allow(ctx, "10.0.0.3")

	if got := limiter.size(); got != 1 {
		t.Errorf("expected only the fresh bucket to remain, got %d", got)
	}
}

// TestMemoryLimiter_Close tests that Close doesn't error
func TestMemoryLimiter_Close(t *testing.T) {
	limiter := NewMemoryLimiter(10, time.Second)

	if err := limiter.Close(); err != nil {
		t.Errorf("Close should not return error, got: %v", err)
	}
}

// TestLimiterInterface tests that all limiters implement the Limiter interface
func TestLimiterInterface(t *testing.T) {
	var _ Limiter = (*MemoryLimiter)(nil)
	var _ Limiter = (*RedisLimiter)(nil)
	var _ Limiter = (*MockLimiter)(nil)
}

// TestNewLimiter_Memory tests factory function for memory limiter
func TestNewLimiter_Memory(t *testing.T) {
	tests := []struct {
		name string
		cfg  LimiterConfig
	}{
		{
			name: "explicit memory type",
			cfg:  LimiterConfig{Type: "memory", Limit: 10, Window: time.Second},
		},
		{
			name: "uppercase memory type",
			cfg:  LimiterConfig{Type: "MEMORY", Limit: 10, Window: time.Second},
		},
		{
			name: "empty type defaults to memory",
			cfg:  LimiterConfig{Type: "", Limit: 10, Window: time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, err := NewLimiter(tt.cfg, nil)
			if err != nil {
				t.Fatalf("NewLimiter() error = %v", err)
			}
			defer limiter.Close()

			if _, ok := limiter.(*MemoryLimiter); !ok {
				t.Errorf("expected *MemoryLimiter, got %T", limiter)
			}
			if !limiter.Allow(context.Background(), "192.168.1.1") {
				t.Error("First request should be allowed")
			}
		})
	}
}

// TestNewLimiter_InvalidType tests factory function with invalid type
func TestNewLimiter_InvalidType(t *testing.T) {
	_, err := NewLimiter(LimiterConfig{Type: "invalid", Limit: 10}, nil)
	if err == nil {
		t.Error("Expected error for invalid limiter type")
	}
}

// BenchmarkMemoryLimiter_Allow benchmarks the Allow method
func BenchmarkMemoryLimiter_Allow(b *testing.B) {
	limiter := NewMemoryLimiter(1000000, time.Second) // High limit so we don't hit it
	defer limiter.Close()

	ctx := context.Background()
	ip := "192.168.1.1"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow(ctx, ip)
	}
}
