package models

// LocationInfo is the resolved, canonical location of an IP address
// JSON tags are used when the location is stored in the geoip cache,
// so normalized fields are included here (they are stripped from public output)
type LocationInfo struct {
	Continent         string  `json:"continent"`         // ISO continent code (e.g. "SA")
	Country           string  `json:"country"`           // ISO country code (e.g. "AR")
	State             *string `json:"state"`             // US state code; nil means absent, "" means unknown
	Region            string  `json:"region"`            // Region / subdivision name
	NormalizedRegion  string  `json:"normalizedRegion"`  // Lower-cased, trimmed Region
	City              string  `json:"city"`              // City name ("" for masked cities)
	NormalizedCity    string  `json:"normalizedCity"`    // Lower-cased, trimmed City
	Latitude          float64 `json:"latitude"`          // Decimal degrees
	Longitude         float64 `json:"longitude"`         // Decimal degrees
	ASN               int     `json:"asn"`               // Autonomous System Number
	Network           string  `json:"network"`           // Operator / organization name
	NormalizedNetwork string  `json:"normalizedNetwork"` // Lower-cased, trimmed Network
}

// ClientSignal carries anonymizer metadata reported by the CDN-edge provider
// It is only used for VPN/Tor detection and never contributes to the location
type ClientSignal struct {
	ProxyDesc string `json:"proxyDesc"`
	ProxyType string `json:"proxyType"`
}

// ProviderResult is the output of a single provider adapter
// Location may be partial (e.g. empty city or missing ASN)
type ProviderResult struct {
	Provider string        `json:"provider"`
	Location LocationInfo  `json:"location"`
	Client   *ClientSignal `json:"client,omitempty"`
}

// HasCity reports whether the result carries enough data to place the IP
// A result without a city or a country is ignored for city/region selection
func (r *ProviderResult) HasCity() bool {
	return r != nil && r.Location.City != "" && r.Location.Country != ""
}

// HasNetwork reports whether the result carries a usable network identity
func (r *ProviderResult) HasNetwork() bool {
	return r != nil && r.Location.ASN > 0 && r.Location.Network != ""
}

// PublicLocation is the location subset exposed to API consumers
// Normalized fields are internal and never exposed
type PublicLocation struct {
	Continent string  `json:"continent"`
	Region    string  `json:"region"`
	Country   string  `json:"country"`
	State     *string `json:"state"`
	City      string  `json:"city"`
	ASN       int     `json:"asn"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Network   string  `json:"network"`
}

// Clone returns a deep copy, so callers sharing a cached location can't mutate each other's
func (l LocationInfo) Clone() *LocationInfo {
	l.State = cloneState(l.State)
	return &l
}

// Public returns the public subset of the location
func (l LocationInfo) Public() PublicLocation {
	return PublicLocation{
		Continent: l.Continent,
		Region:    l.Region,
		Country:   l.Country,
		State:     cloneState(l.State),
		City:      l.City,
		ASN:       l.ASN,
		Latitude:  l.Latitude,
		Longitude: l.Longitude,
		Network:   l.Network,
	}
}

func cloneState(state *string) *string {
	if state == nil {
		return nil
	}
	s := *state
	return &s
}

// ErrorResponse is the standard error response format
// This is what we return when something goes wrong
type ErrorResponse struct {
	Error string `json:"error"` // Error message
}
