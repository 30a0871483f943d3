package geoip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/evyataryagoni/geoprobe/internal/cache"
	"github.com/evyataryagoni/geoprobe/internal/metrics"
	"github.com/evyataryagoni/geoprobe/internal/models"
	"github.com/evyataryagoni/geoprobe/internal/provider"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
)

// newTestClient wires a client over three agreeing mock providers
func newTestClient(c cache.Cache) (*Client, *provider.MockProvider, *provider.MockProvider, *provider.MockProvider) {
	providers, fastly, ipinfo, maxmind := providersFor(
		result("fastly", argentina(), nil),
		result("ipinfo", argentina(), nil),
		result("maxmind", argentina(), nil),
	)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	resolver := NewResolver(providers, nil, m, nil)
	return NewClient(resolver, c, 72*time.Hour, m, nil), fastly, ipinfo, maxmind
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// TestClient_Lookup_MissThenHit tests that a resolution is cached and reused
func TestClient_Lookup_MissThenHit(t *testing.T) {
	mockCache := cache.NewMockCache()
	client, fastly, ipinfo, maxmind := newTestClient(mockCache)
	ctx := context.Background()

	first, err := client.Lookup(ctx, "131.255.7.26")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := client.Lookup(ctx, "131.255.7.26")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached location differs (-first +second):\n%s", diff)
	}

	// providers were only called for the first lookup
	for _, mock := range []*provider.MockProvider{fastly, ipinfo, maxmind} {
		if calls := mock.LookupCalls(); len(calls) != 1 {
			t.Errorf("%s: expected 1 call, got %d", mock.Name(), len(calls))
		}
	}

	gets, sets := mockCache.Calls()
	if len(gets) != 2 {
		t.Errorf("expected 2 cache reads, got %d", len(gets))
	}
	if len(sets) != 1 || sets[0] != "131.255.7.26" {
		t.Errorf("expected one cache write for the IP, got %v", sets)
	}
	if mockCache.SetTTLs[0] != 72*time.Hour {
		t.Errorf("expected 72h TTL, got %s", mockCache.SetTTLs[0])
	}
}

// TestClient_Lookup_CanonicalKey tests that spellings of one address share a cache entry
func TestClient_Lookup_CanonicalKey(t *testing.T) {
	mockCache := cache.NewMockCache()
	client, fastly, ipinfo, maxmind := newTestClient(mockCache)
	ctx := context.Background()

	for _, ip := range []string{"::ffff:131.255.7.26", "131.255.7.26", "::FFFF:131.255.7.26"} {
		if _, err := client.Lookup(ctx, ip); err != nil {
			t.Fatalf("%s: unexpected error: %v", ip, err)
		}
	}

	for _, mock := range []*provider.MockProvider{fastly, ipinfo, maxmind} {
		calls := mock.LookupCalls()
		if len(calls) != 1 || calls[0] != "131.255.7.26" {
			t.Errorf("%s: expected one call for 131.255.7.26, got %v", mock.Name(), calls)
		}
	}

	gets, sets := mockCache.Calls()
	for _, key := range append(gets, sets...) {
		if key != "131.255.7.26" {
			t.Errorf("unexpected cache key '%s'", key)
		}
	}
	if len(sets) != 1 {
		t.Errorf("expected one cache write, got %v", sets)
	}
}

// TestClient_Lookup_CacheHitSkipsProviders tests a pre-populated cache
func TestClient_Lookup_CacheHitSkipsProviders(t *testing.T) {
	cached := argentina()
	cached.City = "From Cache"
	cached.Normalize()

	mockCache := cache.NewMockCache()
	mockCache.Data["131.255.7.26"] = &cached

	client, fastly, ipinfo, maxmind := newTestClient(mockCache)

	got, err := client.Lookup(context.Background(), "131.255.7.26")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.City != "From Cache" {
		t.Errorf("expected cached location, got '%s'", got.City)
	}

	for _, mock := range []*provider.MockProvider{fastly, ipinfo, maxmind} {
		if calls := mock.LookupCalls(); len(calls) != 0 {
			t.Errorf("%s: expected no calls on a cache hit, got %v", mock.Name(), calls)
		}
	}
}

// TestClient_Lookup_InvalidIP tests validation errors
func TestClient_Lookup_InvalidIP(t *testing.T) {
	tests := []struct {
		name string
		ip   string
	}{
		{"empty", ""},
		{"text", "not-an-ip"},
		{"out of range", "256.1.1.1"},
		{"incomplete", "192.168.1"},
		{"cidr", "10.0.0.0/8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockCache := cache.NewMockCache()
			client, fastly, _, _ := newTestClient(mockCache)

			_, err := client.Lookup(context.Background(), tt.ip)

			if !errors.Is(err, ErrInvalidIP) {
				t.Fatalf("expected ErrInvalidIP, got %v", err)
			}
			if gets, _ := mockCache.Calls(); len(gets) != 0 {
				t.Error("cache should not be consulted for invalid input")
			}
			if len(fastly.LookupCalls()) != 0 {
				t.Error("providers should not be called for invalid input")
			}
		})
	}
}

// TestClient_Lookup_FailuresNotCached tests that errors are never cached
func TestClient_Lookup_FailuresNotCached(t *testing.T) {
	providers, _, _, _ := providersFor(result("fastly", argentina(), nil), nil, nil)
	mockCache := cache.NewMockCache()
	client := NewClient(NewResolver(providers, nil, nil, nil), mockCache, time.Hour, nil, nil)

	_, err := client.Lookup(context.Background(), "131.255.7.26")
	if !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("expected ErrUnresolvable, got %v", err)
	}

	if _, sets := mockCache.Calls(); len(sets) != 0 {
		t.Errorf("expected no cache writes, got %v", sets)
	}
}

// TestClient_Lookup_CacheErrors tests that a broken cache never fails a lookup
func TestClient_Lookup_CacheErrors(t *testing.T) {
	mockCache := cache.NewMockCache()
	mockCache.GetError = errors.New("redis: connection refused")
	mockCache.SetError = errors.New("redis: connection refused")

	client, _, ipinfo, _ := newTestClient(mockCache)

	got, err := client.Lookup(context.Background(), "131.255.7.26")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.City != "Buenos Aires" {
		t.Errorf("expected resolved location, got '%s'", got.City)
	}
	if len(ipinfo.LookupCalls()) != 1 {
		t.Error("expected a cache read error to fall through to the providers")
	}
}

// TestClient_Lookup_NilCache tests a client without a cache
func TestClient_Lookup_NilCache(t *testing.T) {
	client, _, ipinfo, _ := newTestClient(nil)

	for i := 0; i < 2; i++ {
		if _, err := client.Lookup(context.Background(), "131.255.7.26"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if calls := len(ipinfo.LookupCalls()); calls != 2 {
		t.Errorf("expected every lookup to reach the providers, got %d calls", calls)
	}
}

// TestClient_Lookup_SingleFlight tests that concurrent misses share one resolution
func TestClient_Lookup_SingleFlight(t *testing.T) {
	mockCache := cache.NewMockCache()
	client, fastly, ipinfo, maxmind := newTestClient(mockCache)

	release := make(chan struct{})
	ipinfo.Block = release

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*models.LocationInfo, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.Lookup(context.Background(), "131.255.7.26")
		}(i)
	}

	// every caller has missed the cache and joined the flight
	waitFor(t, func() bool {
		gets, _ := mockCache.Calls()
		return len(gets) == callers
	})
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if results[i].City != "Buenos Aires" {
			t.Errorf("caller %d: unexpected city '%s'", i, results[i].City)
		}
	}

	for _, mock := range []*provider.MockProvider{fastly, ipinfo, maxmind} {
		if calls := len(mock.LookupCalls()); calls != 1 {
			t.Errorf("%s: expected 1 call, got %d", mock.Name(), calls)
		}
	}

	// callers get independent copies
	results[0].City = "mutated"
	if results[1].City != "Buenos Aires" {
		t.Error("callers must not share the same location value")
	}
}

// TestClient_Lookup_CallerCanceled tests that an abandoned caller doesn't abort the resolution
func TestClient_Lookup_CallerCanceled(t *testing.T) {
	mockCache := cache.NewMockCache()
	client, _, ipinfo, _ := newTestClient(mockCache)

	release := make(chan struct{})
	ipinfo.Block = release

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Lookup(ctx, "131.255.7.26")
		done <- err
	}()

	waitFor(t, func() bool { return len(ipinfo.LookupCalls()) == 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("canceled caller did not return")
	}

	// the shared resolution still completes and fills the cache
	close(release)
	waitFor(t, func() bool {
		_, sets := mockCache.Calls()
		return len(sets) == 1
	})
}
