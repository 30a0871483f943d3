package handler

import (
	"net/http"

	"github.com/evyataryagoni/geoprobe/internal/models"
)

// ProbeLister exposes the ready probes
// registry.Registry implements it
type ProbeLister interface {
	ReadyProbes() []models.PublicProbe
}

// ProbeHandler handles the probe listing endpoint
type ProbeHandler struct {
	probes ProbeLister
}

// NewProbeHandler creates a new probe handler
func NewProbeHandler(probes ProbeLister) *ProbeHandler {
	return &ProbeHandler{probes: probes}
}

// List handles GET /v1/probes
// Always returns a JSON array ([] when no probe is ready)
func (h *ProbeHandler) List(w http.ResponseWriter, r *http.Request) {
	probes := h.probes.ReadyProbes()
	if probes == nil {
		probes = []models.PublicProbe{}
	}
	respondJSON(w, http.StatusOK, probes)
}
