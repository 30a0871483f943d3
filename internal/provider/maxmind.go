package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/evyataryagoni/geoprobe/internal/models"
	"github.com/oschwald/maxminddb-golang"
)

// maxmindRecord is a GeoIP2 City document
// The same shape is returned by the web service (JSON) and stored in mmdb files
type maxmindRecord struct {
	Continent struct {
		Code string `json:"code" maxminddb:"code"`
	} `json:"continent" maxminddb:"continent"`
	Country struct {
		ISOCode string `json:"iso_code" maxminddb:"iso_code"`
	} `json:"country" maxminddb:"country"`
	Subdivisions []struct {
		ISOCode string            `json:"iso_code" maxminddb:"iso_code"`
		Names   map[string]string `json:"names" maxminddb:"names"`
	} `json:"subdivisions" maxminddb:"subdivisions"`
	City struct {
		Names map[string]string `json:"names" maxminddb:"names"`
	} `json:"city" maxminddb:"city"`
	Location struct {
		Latitude  float64 `json:"latitude" maxminddb:"latitude"`
		Longitude float64 `json:"longitude" maxminddb:"longitude"`
	} `json:"location" maxminddb:"location"`
	Traits struct {
		AutonomousSystemNumber       int    `json:"autonomous_system_number" maxminddb:"autonomous_system_number"`
		AutonomousSystemOrganization string `json:"autonomous_system_organization" maxminddb:"autonomous_system_organization"`
		ISP                          string `json:"isp" maxminddb:"isp"`
	} `json:"traits" maxminddb:"traits"`
}

// asnRecord is a GeoLite2-ASN / GeoIP2-ISP document
// City databases carry no network data, so local mode reads it from this second file
type asnRecord struct {
	AutonomousSystemNumber       int    `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization string `maxminddb:"autonomous_system_organization"`
}

// toLocation translates the record into a normalized location
func (r *maxmindRecord) toLocation() models.LocationInfo {
	country := strings.ToUpper(r.Country.ISOCode)
	continent := strings.ToUpper(r.Continent.Code)
	if continent == "" {
		continent = ContinentForCountry(country)
	}

	region, subdivision := "", ""
	if len(r.Subdivisions) > 0 {
		region = r.Subdivisions[0].Names["en"]
		subdivision = r.Subdivisions[0].ISOCode
	}

	network := r.Traits.AutonomousSystemOrganization
	if network == "" {
		network = r.Traits.ISP
	}

	location := models.LocationInfo{
		Continent: continent,
		Country:   country,
		State:     stateFor(country, subdivision),
		Region:    region,
		City:      strings.TrimSpace(r.City.Names["en"]),
		Latitude:  r.Location.Latitude,
		Longitude: r.Location.Longitude,
		ASN:       r.Traits.AutonomousSystemNumber,
		Network:   network,
	}
	location.Normalize()
	return location
}

// MaxMind looks up IPs on the GeoIP2 City web service, or in a local mmdb file
// It is the most reliable source for network and ASN
type MaxMind struct {
	baseURL    string
	accountID  string
	licenseKey string
	fetcher    httpFetcher
	reader     *maxminddb.Reader // city database, set in local mode
	asnReader  *maxminddb.Reader // ASN database, optional in local mode
}

// NewMaxMind creates the adapter backed by the GeoIP2 web service
func NewMaxMind(cfg Config, accountID, licenseKey string) *MaxMind {
	return &MaxMind{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accountID:  accountID,
		licenseKey: licenseKey,
		fetcher:    newHTTPFetcher(cfg, NameMaxMind),
	}
}

// NewMaxMindFromFile creates the adapter backed by local mmdb files
// cityPath is a GeoIP2/GeoLite2 City database; asnPath is a GeoLite2 ASN database
// and may be empty, in which case the adapter never supplies network data.
// No network request is made in this mode
func NewMaxMindFromFile(cityPath, asnPath string, cfg Config) (*MaxMind, error) {
	reader, err := maxminddb.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open city mmdb file: %w", err)
	}

	adapter := &MaxMind{
		fetcher: newHTTPFetcher(cfg, NameMaxMind),
		reader:  reader,
	}

	if asnPath != "" {
		asnReader, err := maxminddb.Open(asnPath)
		if err != nil {
			reader.Close()
			return nil, fmt.Errorf("failed to open ASN mmdb file: %w", err)
		}
		adapter.asnReader = asnReader
	}

	return adapter, nil
}

// Name implements Provider
func (p *MaxMind) Name() string {
	return NameMaxMind
}

// Lookup implements Provider
func (p *MaxMind) Lookup(ctx context.Context, ip string) (*models.ProviderResult, error) {
	var record maxmindRecord

	if p.reader != nil {
		if err := p.lookupLocal(ip, &record); err != nil {
			return nil, p.fetcher.unavailable(ip, err)
		}
	} else {
		endpoint := p.baseURL + "/geoip/v2.1/city/" + url.PathEscape(ip)
		err := p.fetcher.getJSON(ctx, endpoint, func(req *http.Request) {
			req.SetBasicAuth(p.accountID, p.licenseKey)
		}, &record)
		if err != nil {
			return nil, p.fetcher.unavailable(ip, err)
		}
	}

	return &models.ProviderResult{
		Provider: NameMaxMind,
		Location: record.toLocation(),
	}, nil
}

// lookupLocal fills record from the city database and, when present, the ASN database
// An IP missing from the city database is a failure; missing ASN data only leaves the network empty
func (p *MaxMind) lookupLocal(ip string, record *maxmindRecord) error {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return fmt.Errorf("invalid IP address")
	}

	_, found, err := p.reader.LookupNetwork(parsed, record)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no city record")
	}

	if p.asnReader == nil {
		return nil
	}

	var asn asnRecord
	_, found, err = p.asnReader.LookupNetwork(parsed, &asn)
	if err != nil {
		return err
	}
	if found && asn.AutonomousSystemNumber > 0 {
		record.Traits.AutonomousSystemNumber = asn.AutonomousSystemNumber
		record.Traits.AutonomousSystemOrganization = asn.AutonomousSystemOrganization
	}
	return nil
}

// Close releases the mmdb files in local mode
func (p *MaxMind) Close() error {
	var errs []error
	for _, reader := range []*maxminddb.Reader{p.reader, p.asnReader} {
		if reader != nil {
			if err := reader.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
