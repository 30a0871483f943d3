package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/evyataryagoni/geoprobe/internal/models"
)

// placeholderCities are literal city values the edge reports for masked locations
var placeholderCities = map[string]bool{
	"reserved": true,
	"private":  true,
}

// fastlyResponse is the payload of the CDN-edge geolocation service
type fastlyResponse struct {
	AS struct {
		Name   string `json:"name"`
		Number int    `json:"number"`
	} `json:"as"`
	Client struct {
		ProxyDesc string `json:"proxy_desc"`
		ProxyType string `json:"proxy_type"`
	} `json:"client"`
	Geo struct {
		City          string  `json:"city"`
		CountryCode   string  `json:"country_code"`
		ContinentCode string  `json:"continent_code"`
		Latitude      float64 `json:"latitude"`
		Longitude     float64 `json:"longitude"`
		Region        string  `json:"region"`
		RegionCode    string  `json:"region_code"`
	} `json:"geo"`
}

// Fastly looks up IPs on the CDN-edge geolocation service
// Its location is corroboration only; its client block is the anonymizer signal
type Fastly struct {
	baseURL string
	fetcher httpFetcher
}

// NewFastly creates the CDN-edge adapter
func NewFastly(cfg Config) *Fastly {
	return &Fastly{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		fetcher: newHTTPFetcher(cfg, NameFastly),
	}
}

// Name implements Provider
func (p *Fastly) Name() string {
	return NameFastly
}

// Lookup implements Provider
func (p *Fastly) Lookup(ctx context.Context, ip string) (*models.ProviderResult, error) {
	var payload fastlyResponse
	if err := p.fetcher.getJSON(ctx, p.baseURL+"/"+url.PathEscape(ip), nil, &payload); err != nil {
		return nil, p.fetcher.unavailable(ip, err)
	}

	city := strings.TrimSpace(payload.Geo.City)
	if placeholderCities[strings.ToLower(city)] {
		city = ""
	}

	country := strings.ToUpper(payload.Geo.CountryCode)
	continent := strings.ToUpper(payload.Geo.ContinentCode)
	if continent == "" {
		continent = ContinentForCountry(country)
	}

	location := models.LocationInfo{
		Continent: continent,
		Country:   country,
		State:     stateFor(country, payload.Geo.RegionCode),
		Region:    payload.Geo.Region,
		City:      city,
		Latitude:  payload.Geo.Latitude,
		Longitude: payload.Geo.Longitude,
		ASN:       payload.AS.Number,
		Network:   payload.AS.Name,
	}
	location.Normalize()

	result := &models.ProviderResult{
		Provider: NameFastly,
		Location: location,
	}

	// "?" is how the edge reports an unknown value
	proxyDesc := cleanSignal(payload.Client.ProxyDesc)
	proxyType := cleanSignal(payload.Client.ProxyType)
	if proxyDesc != "" || proxyType != "" {
		result.Client = &models.ClientSignal{
			ProxyDesc: proxyDesc,
			ProxyType: proxyType,
		}
	}

	return result, nil
}

func cleanSignal(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "?" {
		return ""
	}
	return value
}
