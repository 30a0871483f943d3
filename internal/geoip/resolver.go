// Package geoip turns an IP address into one normalized location by reconciling
// the geolocation providers, with a cache in front of the reconciliation.
package geoip

import (
	"context"
	"sync"
	"time"

	"github.com/evyataryagoni/geoprobe/internal/logger"
	"github.com/evyataryagoni/geoprobe/internal/metrics"
	"github.com/evyataryagoni/geoprobe/internal/models"
	"github.com/evyataryagoni/geoprobe/internal/provider"
	"github.com/evyataryagoni/geoprobe/internal/whitelist"
)

// rejectedProxyDescs and rejectedProxyTypes are the CDN-edge client values
// that mark an IP as an anonymizer
var (
	rejectedProxyDescs = map[string]bool{
		"vpn":      true,
		"tor-exit": true,
	}
	rejectedProxyTypes = map[string]bool{
		"anonymous":  true,
		"aol":        true,
		"blackberry": true,
		"corporate":  true,
	}
)

// Providers is the fixed set of adapters the resolver reconciles
// Any of them may be nil (treated as always unavailable)
type Providers struct {
	Fastly  provider.Provider // CDN edge: anonymizer signal and corroboration
	IPInfo  provider.Provider // IP intelligence: primary city/region source
	MaxMind provider.Provider // authoritative network/ASN source
}

// Resolver reconciles the three providers into one location
//
// Field priority:
//   - city/region/state/country: ipinfo, then maxmind (fastly never on its own)
//   - network/asn: maxmind, then whichever provider has them
//   - anonymizer signal: fastly only
type Resolver struct {
	providers Providers
	whitelist *whitelist.Whitelist
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewResolver creates a resolver
//
// Parameters:
//   - providers: the three adapters
//   - wl: IPs exempt from anonymizer rejection (optional, can be nil)
//   - m: metrics collector (optional, can be nil)
//   - log: logger (optional, can be nil)
func NewResolver(providers Providers, wl *whitelist.Whitelist, m *metrics.Metrics, log *logger.Logger) *Resolver {
	return &Resolver{
		providers: providers,
		whitelist: wl,
		metrics:   m,
		logger:    logger.OrNop(log).WithComponent("Resolver"),
	}
}

// providerResults holds the successful adapter outputs (nil = failed)
type providerResults struct {
	fastly  *models.ProviderResult
	ipinfo  *models.ProviderResult
	maxmind *models.ProviderResult
}

func (r providerResults) empty() bool {
	return r.fastly == nil && r.ipinfo == nil && r.maxmind == nil
}

// Resolve returns the consensus location for ip
// Fails with a *LookupError wrapping ErrUnresolvable, ErrAmbiguousMatch or ErrAnonymizerDetected
func (r *Resolver) Resolve(ctx context.Context, ip string) (*models.LocationInfo, error) {
	log := r.logger.WithIP(ip)

	// Step 1: ask every provider, failures stay isolated
	results := r.lookupAll(ctx, ip, log)
	if results.empty() {
		return nil, newLookupError(ip, ErrUnresolvable)
	}

	// Step 2: anonymizer check, before anything else is considered
	if r.isAnonymizer(ip, results.fastly, log) {
		log.Info().
			Str("proxy_desc", results.fastly.Client.ProxyDesc).
			Str("proxy_type", results.fastly.Client.ProxyType).
			Msg("Anonymizer detected")
		return nil, newLookupError(ip, ErrAnonymizerDetected)
	}

	// Step 3: city/region from a complete record only
	// fastly alone is never enough to place an IP
	citySource := firstWith((*models.ProviderResult).HasCity, results.ipinfo, results.maxmind)
	if citySource == nil {
		log.Debug().Msg("No provider placed the IP")
		return nil, newLookupError(ip, ErrUnresolvable)
	}

	// Step 4: network/asn, with cross-validation between the authoritative sources
	networkSource, err := r.pickNetworkSource(ip, results, log)
	if err != nil {
		return nil, err
	}

	// Step 5: assemble and normalize
	city := citySource.Location
	network := networkSource.Location
	location := &models.LocationInfo{
		Continent: city.Continent,
		Country:   city.Country,
		State:     city.State,
		Region:    city.Region,
		City:      city.City,
		Latitude:  city.Latitude,
		Longitude: city.Longitude,
		ASN:       network.ASN,
		Network:   network.Network,
	}
	location.Normalize()

	if location.Continent == "" || location.Country == "" || location.ASN == 0 || location.Network == "" {
		return nil, newLookupError(ip, ErrUnresolvable)
	}

	log.Debug().
		Str("city_source", citySource.Provider).
		Str("network_source", networkSource.Provider).
		Msg("IP resolved")

	return location, nil
}

// lookupAll runs the adapters concurrently, each under its own timeout
// One provider being slow or failing never cancels the others
func (r *Resolver) lookupAll(ctx context.Context, ip string, log *logger.Logger) providerResults {
	var (
		results providerResults
		wg      sync.WaitGroup
	)

	run := func(p provider.Provider, out **models.ProviderResult) {
		if p == nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			*out = r.lookupOne(ctx, p, ip, log)
		}()
	}

	run(r.providers.Fastly, &results.fastly)
	run(r.providers.IPInfo, &results.ipinfo)
	run(r.providers.MaxMind, &results.maxmind)

	wg.Wait()
	return results
}

// lookupOne calls a single provider and records the outcome
func (r *Resolver) lookupOne(ctx context.Context, p provider.Provider, ip string, log *logger.Logger) *models.ProviderResult {
	start := time.Now()
	result, err := p.Lookup(ctx, ip)
	duration := time.Since(start)

	outcome := "success"
	if err != nil || result == nil {
		outcome = "unavailable"
		result = nil
	}

	if r.metrics != nil {
		r.metrics.ProviderRequestsTotal.WithLabelValues(p.Name(), outcome).Inc()
		r.metrics.ProviderRequestDuration.WithLabelValues(p.Name()).Observe(duration.Seconds())
	}

	log.Debug().
		Str("provider", p.Name()).
		Str("result", outcome).
		Dur("duration", duration).
		Msg("Provider lookup finished")

	return result
}

// isAnonymizer applies the anonymizer policy to the CDN-edge result
// A failed lookup or missing client block counts as clean
func (r *Resolver) isAnonymizer(ip string, fastly *models.ProviderResult, log *logger.Logger) bool {
	if fastly == nil || fastly.Client == nil {
		return false
	}

	signal := fastly.Client
	if !rejectedProxyDescs[signal.ProxyDesc] && !rejectedProxyTypes[signal.ProxyType] {
		return false
	}

	if r.whitelist.Contains(ip) {
		log.Debug().Msg("Anonymizer signal ignored for whitelisted IP")
		return false
	}
	return true
}

// pickNetworkSource chooses where asn/network come from
//
// When ipinfo and maxmind both know the network but disagree on the ASN,
// fastly settles it; without fastly network data the match is ambiguous.
func (r *Resolver) pickNetworkSource(ip string, results providerResults, log *logger.Logger) (*models.ProviderResult, error) {
	ipinfo, maxmind, fastly := results.ipinfo, results.maxmind, results.fastly

	if ipinfo.HasNetwork() && maxmind.HasNetwork() && ipinfo.Location.ASN != maxmind.Location.ASN {
		if !fastly.HasNetwork() {
			log.Info().
				Int("ipinfo_asn", ipinfo.Location.ASN).
				Int("maxmind_asn", maxmind.Location.ASN).
				Msg("Providers disagree on network")
			return nil, newLookupError(ip, ErrAmbiguousMatch)
		}
		if ipinfo.Location.ASN == fastly.Location.ASN {
			return ipinfo, nil
		}
		return maxmind, nil
	}

	source := firstWith((*models.ProviderResult).HasNetwork, maxmind, ipinfo, fastly)
	if source == nil {
		log.Debug().Msg("No provider knows the network")
		return nil, newLookupError(ip, ErrUnresolvable)
	}
	return source, nil
}

// firstWith returns the first result satisfying ok, in priority order
func firstWith(ok func(*models.ProviderResult) bool, candidates ...*models.ProviderResult) *models.ProviderResult {
	for _, candidate := range candidates {
		if ok(candidate) {
			return candidate
		}
	}
	return nil
}
