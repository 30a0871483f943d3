package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/evyataryagoni/geoprobe/internal/geoip"
	"github.com/evyataryagoni/geoprobe/internal/logger"
	"github.com/evyataryagoni/geoprobe/internal/models"
)

// Locator is the lookup capability the geoip endpoint needs
// geoip.Client implements it
type Locator interface {
	Lookup(ctx context.Context, ip string) (*models.LocationInfo, error)
}

// GeoIPHandler handles HTTP requests for IP geolocation
// This is the handler layer - it deals with HTTP concerns only
//
// Responsibilities:
//   - Parse HTTP requests (query parameters)
//   - Call the geoip client
//   - Map lookup errors to status codes
//   - NO business logic (that's in the geoip package)
type GeoIPHandler struct {
	locator Locator
	logger  *logger.Logger
}

// NewGeoIPHandler creates a new geoip handler
func NewGeoIPHandler(locator Locator, log *logger.Logger) *GeoIPHandler {
	return &GeoIPHandler{
		locator: locator,
		logger:  logger.OrNop(log).WithComponent("GeoIPHandler"),
	}
}

// Lookup handles GET /v1/geoip?ip=<ip>
//
// Status codes:
//   - 200: resolved location (public fields only)
//   - 400: missing or invalid IP
//   - 403: anonymizer (VPN, Tor exit) detected
//   - 404: no consensus could be formed
//   - 409: providers disagree on the network
//   - 504: lookup did not finish in time, or the client gave up first
func (h *GeoIPHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	// Step 1: Parse query parameter
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		respondError(w, http.StatusBadRequest, "Missing 'ip' query parameter")
		return
	}

	// Step 2: Call the geoip client (validation, cache, resolution)
	location, err := h.locator.Lookup(r.Context(), ip)
	if err != nil {
		status := statusForLookupError(err)
		if errors.Is(err, context.Canceled) {
			// the caller went away, nobody reads this response
			h.logger.Debug().Err(err).Str("ip", ip).Msg("Lookup abandoned by client")
		}
		if status == http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("ip", ip).Msg("Lookup failed")
			respondError(w, status, "Internal server error")
			return
		}
		respondError(w, status, err.Error())
		return
	}

	// Step 3: Return success response
	respondJSON(w, http.StatusOK, location.Public())
}

// statusForLookupError maps lookup failures to HTTP status codes
func statusForLookupError(err error) int {
	switch {
	case errors.Is(err, geoip.ErrInvalidIP):
		return http.StatusBadRequest
	case errors.Is(err, geoip.ErrAnonymizerDetected):
		return http.StatusForbidden
	case errors.Is(err, geoip.ErrUnresolvable):
		return http.StatusNotFound
	case errors.Is(err, geoip.ErrAmbiguousMatch):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
