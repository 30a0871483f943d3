package geoip

import (
	"github.com/evyataryagoni/geoprobe/internal/models"
	"github.com/evyataryagoni/geoprobe/internal/provider"
)

// result builds a provider result with normalized fields filled in
func result(name string, loc models.LocationInfo, client *models.ClientSignal) *models.ProviderResult {
	loc.Normalize()
	return &models.ProviderResult{Provider: name, Location: loc, Client: client}
}

// argentina is what every provider reports for 131.255.7.26
func argentina() models.LocationInfo {
	return models.LocationInfo{
		Continent: "SA",
		Country:   "AR",
		Region:    "Buenos Aires F.D.",
		City:      "Buenos Aires",
		Latitude:  -34.602,
		Longitude: -58.384,
		ASN:       61493,
		Network:   "InterBS S.R.L. (BAEHOST)",
	}
}

// providersFor wires one mock per slot; a nil result makes that mock unavailable
func providersFor(fastly, ipinfo, maxmind *models.ProviderResult) (Providers, *provider.MockProvider, *provider.MockProvider, *provider.MockProvider) {
	f := provider.NewMockProvider(provider.NameFastly, fastly)
	i := provider.NewMockProvider(provider.NameIPInfo, ipinfo)
	m := provider.NewMockProvider(provider.NameMaxMind, maxmind)
	return Providers{Fastly: f, IPInfo: i, MaxMind: m}, f, i, m
}

// withASN returns loc with a different network identity
func withASN(loc models.LocationInfo, asn int, network string) models.LocationInfo {
	loc.ASN = asn
	loc.Network = network
	return loc
}
