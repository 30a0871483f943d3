// Package provider wraps the external geolocation services behind one lookup contract.
//
// Adapters are pure translators: one outbound request, shape normalization, and
// nothing else. Reconciling providers is the job of the geoip resolver.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/evyataryagoni/geoprobe/internal/logger"
	"github.com/evyataryagoni/geoprobe/internal/models"
)

// ErrProviderUnavailable is returned by every adapter for any failure:
// transport errors, timeouts, non-200 statuses and malformed payloads
var ErrProviderUnavailable = errors.New("provider unavailable")

// Provider names, used in results, logs and metrics
const (
	NameFastly  = "fastly"
	NameIPInfo  = "ipinfo"
	NameMaxMind = "maxmind"
)

// defaultTimeout bounds a single provider request
const defaultTimeout = 5 * time.Second

// maxBodySize caps the payload we are willing to decode
const maxBodySize = 1 << 20

// Provider is the capability shared by all geolocation adapters
type Provider interface {
	// Name identifies the provider ("fastly", "ipinfo", "maxmind")
	Name() string

	// Lookup fetches what the provider knows about ip
	// Fails only with ErrProviderUnavailable
	Lookup(ctx context.Context, ip string) (*models.ProviderResult, error)
}

// Config holds the settings shared by the HTTP adapters
type Config struct {
	BaseURL    string        // Service base URL, without trailing slash
	Timeout    time.Duration // Per-request timeout (default 5s)
	HTTPClient *http.Client  // Optional client (default: new client)
	Logger     *logger.Logger
}

// httpFetcher performs the single GET request every adapter needs
type httpFetcher struct {
	client  *http.Client
	timeout time.Duration
	logger  *logger.Logger
}

func newHTTPFetcher(cfg Config, name string) httpFetcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return httpFetcher{
		client:  client,
		timeout: timeout,
		logger:  logger.OrNop(cfg.Logger).WithComponent(name),
	}
}

// getJSON issues a GET request and decodes a JSON body into out
// The caller maps any error to ErrProviderUnavailable
func (f httpFetcher) getJSON(ctx context.Context, url string, prepare func(*http.Request), out any) error {
	// make sure we eventually time out
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if prepare != nil {
		prepare(req)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// unavailable logs the underlying cause and returns the uniform adapter error
func (f httpFetcher) unavailable(ip string, err error) error {
	f.logger.Debug().Err(err).Str("ip", ip).Msg("Provider lookup failed")
	return ErrProviderUnavailable
}
