package geoip

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/evyataryagoni/geoprobe/internal/logger"
	"github.com/evyataryagoni/geoprobe/internal/provider"
)

// ProvidersConfig holds everything needed to build the three adapters
type ProvidersConfig struct {
	FastlyURL         string
	IPInfoURL         string
	IPInfoToken       string
	MaxMindURL        string
	MaxMindAccountID  string
	MaxMindLicenseKey string
	MaxMindDBPath     string // when set, MaxMind reads a local city mmdb file instead of the web service
	MaxMindASNDBPath  string // ASN mmdb file used with MaxMindDBPath (city files carry no network data)
	Timeout           time.Duration
}

// NewProviders builds the production adapters (factory pattern)
func NewProviders(cfg ProvidersConfig, log *logger.Logger) (Providers, error) {
	log = logger.OrNop(log)

	base := func(url string) provider.Config {
		return provider.Config{BaseURL: url, Timeout: cfg.Timeout, Logger: log}
	}

	providers := Providers{
		Fastly: provider.NewFastly(base(cfg.FastlyURL)),
		IPInfo: provider.NewIPInfo(base(cfg.IPInfoURL), cfg.IPInfoToken),
	}

	if cfg.MaxMindDBPath != "" {
		if cfg.MaxMindASNDBPath == "" {
			log.Warn().Msg("MaxMind local mode without an ASN database, network data will come from the other providers")
		}
		mm, err := provider.NewMaxMindFromFile(cfg.MaxMindDBPath, cfg.MaxMindASNDBPath, base(""))
		if err != nil {
			return Providers{}, fmt.Errorf("failed to initialize MaxMind database: %w", err)
		}
		providers.MaxMind = mm
	} else {
		providers.MaxMind = provider.NewMaxMind(base(cfg.MaxMindURL), cfg.MaxMindAccountID, cfg.MaxMindLicenseKey)
	}

	return providers, nil
}

// Close releases adapters holding resources (the mmdb readers)
func (p Providers) Close() error {
	var errs []error
	for _, prov := range []provider.Provider{p.Fastly, p.IPInfo, p.MaxMind} {
		if closer, ok := prov.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
