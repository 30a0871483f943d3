package provider

import (
	"context"
	"sync"

	"github.com/evyataryagoni/geoprobe/internal/models"
)

// MockProvider is a test double for the Provider interface
// It is safe for concurrent use since the resolver calls providers from goroutines
type MockProvider struct {
	ProviderName string

	// Control behavior
	Result *models.ProviderResult
	Err    error
	Block  chan struct{} // when set, Lookup waits for it to be closed (or ctx done)

	mu          sync.Mutex
	lookupCalls []string
}

// NewMockProvider creates a mock that returns result (or ErrProviderUnavailable when nil)
func NewMockProvider(name string, result *models.ProviderResult) *MockProvider {
	mock := &MockProvider{ProviderName: name, Result: result}
	if result == nil {
		mock.Err = ErrProviderUnavailable
	}
	return mock
}

// Name implements Provider
func (m *MockProvider) Name() string {
	return m.ProviderName
}

// Lookup implements Provider
func (m *MockProvider) Lookup(ctx context.Context, ip string) (*models.ProviderResult, error) {
	m.mu.Lock()
	m.lookupCalls = append(m.lookupCalls, ip)
	m.mu.Unlock()

	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return nil, ErrProviderUnavailable
		}
	}

	if m.Err != nil {
		return nil, m.Err
	}

	// hand out a copy so callers can't mutate the fixture
	result := *m.Result
	return &result, nil
}

// LookupCalls returns the IPs Lookup was called with
func (m *MockProvider) LookupCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lookupCalls...)
}
