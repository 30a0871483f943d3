package cache

import (
	"context"
	"sync"
	"time"

	"github.com/evyataryagoni/geoprobe/internal/models"
)

// MockCache is a test double for the Cache interface
// It tracks calls and is safe for concurrent use
type MockCache struct {
	mu sync.Mutex

	// Data holds the cached locations (IP address -> location)
	Data map[string]*models.LocationInfo

	// Track method calls for verification in tests
	GetCalls    []string
	SetCalls    []string
	SetTTLs     []time.Duration
	CloseCalled bool

	// Control behavior for error scenarios
	GetError error
	SetError error
}

// NewMockCache creates an empty mock cache
func NewMockCache() *MockCache {
	return &MockCache{
		Data: map[string]*models.LocationInfo{},
	}
}

// Get implements Cache
func (m *MockCache) Get(ctx context.Context, ip string) (*models.LocationInfo, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls = append(m.GetCalls, ip)
	if m.GetError != nil {
		return nil, false, m.GetError
	}

	location, exists := m.Data[ip]
	if !exists {
		return nil, false, nil
	}
	copied := *location
	return &copied, true, nil
}

// Set implements Cache
func (m *MockCache) Set(ctx context.Context, ip string, loc *models.LocationInfo, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SetCalls = append(m.SetCalls, ip)
	m.SetTTLs = append(m.SetTTLs, ttl)
	if m.SetError != nil {
		return m.SetError
	}

	copied := *loc
	m.Data[ip] = &copied
	return nil
}

// Close implements Cache
func (m *MockCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
	return nil
}

// Calls returns copies of the recorded Get and Set calls
func (m *MockCache) Calls() (gets, sets []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.GetCalls...), append([]string(nil), m.SetCalls...)
}
