package registry

import (
	"context"
	"sync"

	"github.com/evyataryagoni/geoprobe/internal/models"
)

// MockLocator is a test double for the Locator interface
// Results are configured per IP; unknown IPs get DefaultErr
type MockLocator struct {
	mu sync.Mutex

	Locations  map[string]*models.LocationInfo
	Errors     map[string]error
	DefaultErr error
	Block      chan struct{} // when set, Lookup waits for it to be closed (or ctx done)

	lookupCalls []string
	canceled    int
}

// NewMockLocator creates an empty mock locator
func NewMockLocator(defaultErr error) *MockLocator {
	return &MockLocator{
		Locations:  map[string]*models.LocationInfo{},
		Errors:     map[string]error{},
		DefaultErr: defaultErr,
	}
}

// Lookup implements Locator
func (m *MockLocator) Lookup(ctx context.Context, ip string) (*models.LocationInfo, error) {
	m.mu.Lock()
	m.lookupCalls = append(m.lookupCalls, ip)
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			m.mu.Lock()
			m.canceled++
			m.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.Errors[ip]; ok {
		return nil, err
	}
	if location, ok := m.Locations[ip]; ok {
		return location.Clone(), nil
	}
	return nil, m.DefaultErr
}

// LookupCalls returns the IPs Lookup was called with
func (m *MockLocator) LookupCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lookupCalls...)
}

// Canceled returns how many lookups ended because their context was cancelled
func (m *MockLocator) Canceled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canceled
}
