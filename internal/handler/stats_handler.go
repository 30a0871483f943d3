package handler

import (
	"net/http"

	"github.com/evyataryagoni/geoprobe/internal/models"
)

// ProbeCounter exposes the registry's view of connected probes
// registry.Registry implements it
type ProbeCounter interface {
	Count() int
	ReadyProbes() []models.PublicProbe
}

// ConnectionCounter exposes the number of open probe websockets
// socket.Handler implements it
type ConnectionCounter interface {
	Active() int
}

// ProbeStats is the body of GET /v1/stats
type ProbeStats struct {
	Connections int `json:"connections"` // open websockets
	Tracked     int `json:"tracked"`     // probes known to the registry, ready or not
	Ready       int `json:"ready"`       // probes listed by GET /v1/probes
}

// StatsHandler reports probe connection counts
type StatsHandler struct {
	probes      ProbeCounter
	connections ConnectionCounter
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(probes ProbeCounter, connections ConnectionCounter) *StatsHandler {
	return &StatsHandler{probes: probes, connections: connections}
}

// Stats handles GET /v1/stats
// Connections and tracked differ while a socket is still waiting on its geolocation
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ProbeStats{
		Connections: h.connections.Active(),
		Tracked:     h.probes.Count(),
		Ready:       len(h.probes.ReadyProbes()),
	})
}
