package models

// ProbeStatus is the lifecycle state of a connected probe
type ProbeStatus string

const (
	ProbeConnected    ProbeStatus = "connected"
	ProbeReady        ProbeStatus = "ready"
	ProbeDisconnected ProbeStatus = "disconnected"
)

// Probe is a connected measurement agent as tracked by the registry
// Only the registry mutates probes; everything else sees copies
type Probe struct {
	ID        string        `json:"id"`
	IP        string        `json:"-"`
	Status    ProbeStatus   `json:"status"`
	Version   string        `json:"version"`
	Location  *LocationInfo `json:"location,omitempty"`
	Tags      []string      `json:"tags"`
	Resolvers []string      `json:"resolvers"`
}

// PublicProbe is the ready-probe summary returned by the probe listing endpoint
type PublicProbe struct {
	Version   string         `json:"version"`
	Location  PublicLocation `json:"location"`
	Tags      []string       `json:"tags"`
	Resolvers []string       `json:"resolvers"`
}

// Public builds the listing summary of a probe
// The probe must have a resolved location
func (p *Probe) Public() PublicProbe {
	return PublicProbe{
		Version:   p.Version,
		Location:  p.Location.Public(),
		Tags:      cloneStrings(p.Tags),
		Resolvers: cloneStrings(p.Resolvers),
	}
}

// cloneStrings copies a slice, mapping nil to an empty slice so JSON encodes []
func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Clone returns a deep copy of the summary
func (p PublicProbe) Clone() PublicProbe {
	p.Location.State = cloneState(p.Location.State)
	p.Tags = cloneStrings(p.Tags)
	p.Resolvers = cloneStrings(p.Resolvers)
	return p
}
