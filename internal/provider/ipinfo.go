package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/evyataryagoni/geoprobe/internal/models"
)

// orgPattern splits ipinfo's "AS61493 InterBS S.R.L. (BAEHOST)" org field
var orgPattern = regexp.MustCompile(`^AS(\d+)\s*(.*)$`)

// ipinfoResponse is the payload of the IP intelligence service
// Any field may be missing (bogons only carry "ip" and "bogon")
type ipinfoResponse struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
	Loc     string `json:"loc"`
	Org     string `json:"org"`
}

// IPInfo looks up IPs on the dedicated IP intelligence service
// It is the primary source for city, region and country
type IPInfo struct {
	baseURL string
	token   string
	fetcher httpFetcher
}

// NewIPInfo creates the IP intelligence adapter
func NewIPInfo(cfg Config, token string) *IPInfo {
	return &IPInfo{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   token,
		fetcher: newHTTPFetcher(cfg, NameIPInfo),
	}
}

// Name implements Provider
func (p *IPInfo) Name() string {
	return NameIPInfo
}

// Lookup implements Provider
func (p *IPInfo) Lookup(ctx context.Context, ip string) (*models.ProviderResult, error) {
	var payload ipinfoResponse
	err := p.fetcher.getJSON(ctx, p.baseURL+"/"+url.PathEscape(ip), func(req *http.Request) {
		if p.token != "" {
			req.Header.Set("Authorization", "Bearer "+p.token)
		}
	}, &payload)
	if err != nil {
		return nil, p.fetcher.unavailable(ip, err)
	}

	latitude, longitude, err := parseLoc(payload.Loc)
	if err != nil {
		return nil, p.fetcher.unavailable(ip, err)
	}

	// absent org leaves asn/network empty rather than defaulted
	asn, network := 0, ""
	if match := orgPattern.FindStringSubmatch(strings.TrimSpace(payload.Org)); match != nil {
		asn, _ = strconv.Atoi(match[1])
		network = match[2]
	}

	country := strings.ToUpper(payload.Country)
	location := models.LocationInfo{
		Continent: ContinentForCountry(country),
		Country:   country,
		State:     stateFor(country, payload.Region),
		Region:    payload.Region,
		City:      strings.TrimSpace(payload.City),
		Latitude:  latitude,
		Longitude: longitude,
		ASN:       asn,
		Network:   network,
	}
	location.Normalize()

	return &models.ProviderResult{
		Provider: NameIPInfo,
		Location: location,
	}, nil
}

// parseLoc parses the "lat,lon" coordinates field
// A missing field yields zero coordinates, a malformed one an error
func parseLoc(loc string) (float64, float64, error) {
	if loc == "" {
		return 0, 0, nil
	}

	latStr, lonStr, found := strings.Cut(loc, ",")
	if !found {
		return 0, 0, fmt.Errorf("malformed loc %q", loc)
	}

	latitude, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed latitude %q: %w", latStr, err)
	}
	longitude, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed longitude %q: %w", lonStr, err)
	}

	return latitude, longitude, nil
}
