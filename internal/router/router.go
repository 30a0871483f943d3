package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evyataryagoni/geoprobe/internal/limiter"
	"github.com/evyataryagoni/geoprobe/internal/logger"
	"github.com/evyataryagoni/geoprobe/internal/metrics"
	custommiddleware "github.com/evyataryagoni/geoprobe/internal/middleware"
	v1 "github.com/evyataryagoni/geoprobe/internal/router/v1"
)

// SetupRouter creates and configures the Chi router with all middleware and routes
// This separates routing logic from the main application setup
//
// Parameters:
//   - handlers: the v1 endpoint handlers
//   - rateLimiter: the rate limiter (memory or Redis)
//   - m: metrics collector (optional, can be nil)
//   - gatherer: where /metrics reads from (nil means the default registry)
//   - log: structured logger
//
// Returns:
//   - chi.Router: configured router ready to use
func SetupRouter(handlers v1.Handlers, rateLimiter limiter.Limiter, m *metrics.Metrics, gatherer prometheus.Gatherer, log *logger.Logger) chi.Router {
	log = logger.OrNop(log)
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Create new Chi router
	r := chi.NewRouter()

	// Apply global middleware - these run on every request
	// Order matters! RequestID should be first, then logging, then rate limiting
	r.Use(middleware.RequestID)                              // Add unique request ID to each request
	r.Use(middleware.RealIP)                                 // Get real client IP (handles proxies/load balancers)
	r.Use(custommiddleware.LoggingMiddleware(log))           // Structured logging
	r.Use(middleware.Recoverer)                              // Recover from panics and return 500
	r.Use(custommiddleware.MetricsMiddleware(m))             // Collect Prometheus metrics
	r.Use(custommiddleware.RateLimitMiddleware(rateLimiter)) // Rate limiting per IP (probe connects included)

	// Mount v1 API routes under /v1 prefix
	r.Mount("/v1", v1.SetupRoutes(handlers))

	// Root-level routes (not versioned)
	// Health check endpoint - used by load balancers and monitoring
	r.Get("/health", healthCheckHandler)

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// healthCheckHandler is a simple health check endpoint
// Returns 200 OK if the service is running
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
