package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/evyataryagoni/geoprobe/internal/handler"
)

// Handlers groups everything mounted under /v1
type Handlers struct {
	GeoIP  *handler.GeoIPHandler
	Probes *handler.ProbeHandler
	Stats  *handler.StatsHandler
	Admin  *handler.AdminHandler
	Socket http.Handler // probe websocket endpoint
}

// SetupRoutes configures all v1 API routes
// This function is called by the main router to setup /v1/* endpoints
//
// Parameters:
//   - h: the endpoint handlers
//
// Returns:
//   - chi.Router: configured v1 router
func SetupRoutes(h Handlers) chi.Router {
	r := chi.NewRouter()

	// Ready probe list for dispatch consumers
	// GET /v1/probes
	r.Get("/probes", h.Probes.List)

	// Probe websocket endpoint
	// GET /v1/probes/connect?version=<semver>&tags=<a,b>&resolvers=<x,y>
	r.Method(http.MethodGet, "/probes/connect", h.Socket)

	// Connection counts
	// GET /v1/stats
	r.Get("/stats", h.Stats.Stats)

	// Consensus geolocation of a single IP
	// GET /v1/geoip?ip=<ip>
	r.Get("/geoip", h.GeoIP.Lookup)

	// Operational endpoints
	r.Route("/admin", func(r chi.Router) {
		r.Post("/whitelist/reload", h.Admin.ReloadWhitelist)
	})

	return r
}
