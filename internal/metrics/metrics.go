package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Geolocation Metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	GeoIPLookupsTotal       *prometheus.CounterVec
	CacheRequestsTotal      *prometheus.CounterVec

	// Probe Metrics
	ProbesConnected       prometheus.Gauge
	ProbesReady           prometheus.Gauge
	ProbeConnectionsTotal prometheus.Counter
	ProbeProtocolErrors   *prometheus.CounterVec
	ProbeLocationFailures *prometheus.CounterVec
}

// New creates all metrics and registers them with the default Prometheus registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics on the given registerer
// Tests use a fresh prometheus.NewRegistry() to avoid duplicate registration panics
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "endpoint", "status"},
		),

		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geoip_provider_requests_total",
				Help: "Total number of geolocation provider requests",
			},
			[]string{"provider", "result"},
		),

		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geoip_provider_request_duration_seconds",
				Help:    "Geolocation provider latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		GeoIPLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geoip_lookups_total",
				Help: "Total number of consensus lookups by outcome",
			},
			[]string{"result"},
		),

		CacheRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geoip_cache_requests_total",
				Help: "Total number of geoip cache reads by result",
			},
			[]string{"result"},
		),

		ProbesConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "probes_connected",
				Help: "Number of probes currently tracked by the registry",
			},
		),

		ProbesReady: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "probes_ready",
				Help: "Number of probes visible to dispatch consumers",
			},
		),

		ProbeConnectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "probe_connections_total",
				Help: "Total number of accepted probe connections",
			},
		),

		ProbeProtocolErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probe_protocol_errors_total",
				Help: "Total number of probe connections terminated by a protocol error",
			},
			[]string{"reason"},
		),

		ProbeLocationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probe_location_failures_total",
				Help: "Total number of probes whose location could not be resolved",
			},
			[]string{"reason"},
		),
	}
}
