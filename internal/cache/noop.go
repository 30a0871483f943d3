package cache

import (
	"context"
	"time"

	"github.com/evyataryagoni/geoprobe/internal/models"
)

// NoopCache never stores anything: every Get is a miss
// Used offline and in tests that must exercise the providers
type NoopCache struct{}

// NewNoopCache creates a cache that always misses
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

// Get implements Cache
func (NoopCache) Get(ctx context.Context, ip string) (*models.LocationInfo, bool, error) {
	return nil, false, nil
}

// Set implements Cache
func (NoopCache) Set(ctx context.Context, ip string, loc *models.LocationInfo, ttl time.Duration) error {
	return nil
}

// Close implements Cache
func (NoopCache) Close() error {
	return nil
}
