package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evyataryagoni/geoprobe/internal/cache"
	"github.com/evyataryagoni/geoprobe/internal/config"
	"github.com/evyataryagoni/geoprobe/internal/geoip"
	"github.com/evyataryagoni/geoprobe/internal/handler"
	"github.com/evyataryagoni/geoprobe/internal/limiter"
	"github.com/evyataryagoni/geoprobe/internal/logger"
	"github.com/evyataryagoni/geoprobe/internal/metrics"
	"github.com/evyataryagoni/geoprobe/internal/registry"
	"github.com/evyataryagoni/geoprobe/internal/router"
	v1 "github.com/evyataryagoni/geoprobe/internal/router/v1"
	"github.com/evyataryagoni/geoprobe/internal/socket"
	"github.com/evyataryagoni/geoprobe/internal/whitelist"
)

// shutdownTimeout bounds how long in-flight requests get on shutdown
const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	appConfig := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize components
	appLogger := setupLogger(appConfig)
	metricsCollector := setupMetrics(appLogger)
	wl := setupWhitelist(appConfig, appLogger)

	providers := setupProviders(appConfig, appLogger)
	defer providers.Close()

	geoCache := setupCache(appConfig, appLogger)

	rateLimiter := setupRateLimiter(appConfig, appLogger)
	defer rateLimiter.Close()

	// Build application layers
	resolver := geoip.NewResolver(providers, wl, metricsCollector, appLogger)
	geoClient := geoip.NewClient(resolver, geoCache, appConfig.CacheTTL, metricsCollector, appLogger)
	defer geoClient.Close()

	probes := registry.New(geoClient, metricsCollector, appLogger)
	registryDone := make(chan struct{})
	go func() {
		defer close(registryDone)
		probes.Run(ctx)
	}()

	sockets := socket.NewHandler(probes, socket.Config{
		PingInterval: appConfig.PingInterval,
		PongWait:     appConfig.PongWait,
	}, metricsCollector, appLogger)

	handlers := v1.Handlers{
		GeoIP:  handler.NewGeoIPHandler(geoClient, appLogger),
		Probes: handler.NewProbeHandler(probes),
		Stats:  handler.NewStatsHandler(probes, sockets),
		Admin:  handler.NewAdminHandler(wl, appLogger),
		Socket: sockets,
	}
	appRouter := router.SetupRouter(handlers, rateLimiter, metricsCollector, prometheus.DefaultGatherer, appLogger)

	// Start server
	runServer(ctx, appConfig, appRouter, sockets, appLogger)

	stop()
	<-registryDone
	appLogger.Info().Msg("Server stopped")
}

// setupLogger initializes the structured logger
func setupLogger(appConfig *config.Config) *logger.Logger {
	appLogger := logger.New(logger.Config{
		Level:  appConfig.LogLevel,
		Pretty: appConfig.LogPretty,
	})

	appLogger.Info().Msg("Starting geoprobe server...")
	appLogger.Info().
		Str("port", appConfig.Port).
		Str("rate_limiter_type", appConfig.RateLimitType).
		Int("rate_limit", appConfig.RateLimit).
		Int("rate_limit_window", appConfig.RateLimitWindow).
		Str("cache_type", appConfig.CacheType).
		Dur("cache_ttl", appConfig.CacheTTL).
		Bool("maxmind_local_db", appConfig.MaxMindDBPath != "").
		Msg("Configuration loaded")

	return appLogger
}

// setupMetrics initializes the Prometheus metrics collector
func setupMetrics(log *logger.Logger) *metrics.Metrics {
	metricsCollector := metrics.New()
	log.Info().Msg("Metrics initialized")
	return metricsCollector
}

// setupWhitelist loads the anonymizer whitelist
// A missing file is not fatal: the service runs with an empty whitelist
func setupWhitelist(appConfig *config.Config, log *logger.Logger) *whitelist.Whitelist {
	wl := whitelist.New(appConfig.WhitelistPath, log)
	if err := wl.Reload(); err != nil {
		log.Warn().Err(err).Str("path", appConfig.WhitelistPath).Msg("Whitelist not loaded, continuing with empty whitelist")
	}
	return wl
}

// setupProviders builds the three geolocation adapters
func setupProviders(appConfig *config.Config, log *logger.Logger) geoip.Providers {
	providers, err := geoip.NewProviders(geoip.ProvidersConfig{
		FastlyURL:         appConfig.FastlyURL,
		IPInfoURL:         appConfig.IPInfoURL,
		IPInfoToken:       appConfig.IPInfoToken,
		MaxMindURL:        appConfig.MaxMindURL,
		MaxMindAccountID:  appConfig.MaxMindAccountID,
		MaxMindLicenseKey: appConfig.MaxMindLicenseKey,
		MaxMindDBPath:     appConfig.MaxMindDBPath,
		MaxMindASNDBPath:  appConfig.MaxMindASNDBPath,
		Timeout:           appConfig.ProviderTimeout,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize geolocation providers")
	}

	log.Info().Msg("Geolocation providers initialized")
	return providers
}

// setupCache initializes the geoip cache based on configuration
// Supports none, Redis and MySQL backends
func setupCache(appConfig *config.Config, log *logger.Logger) cache.Cache {
	geoCache, err := cache.New(cache.Config{
		Type:          appConfig.CacheType,
		MySQLDSN:      appConfig.MySQLDSN,
		RedisAddr:     appConfig.RedisAddr,
		RedisPassword: appConfig.RedisPassword,
		RedisDB:       appConfig.RedisDB,
	})
	if err != nil {
		log.Fatal().Err(err).Str("type", appConfig.CacheType).Msg("Failed to initialize geoip cache")
	}

	log.Info().Str("type", appConfig.CacheType).Msg("Geoip cache initialized")
	return geoCache
}

// setupRateLimiter initializes the rate limiter
// Supports in-memory and Redis-based rate limiting
func setupRateLimiter(appConfig *config.Config, log *logger.Logger) limiter.Limiter {
	rateLimiter, err := limiter.NewLimiter(limiter.LimiterConfig{
		Type:          appConfig.RateLimitType,
		Limit:         appConfig.RateLimit,
		Window:        time.Duration(appConfig.RateLimitWindow) * time.Second,
		RedisAddr:     appConfig.RedisAddr,
		RedisPassword: appConfig.RedisPassword,
		RedisDB:       appConfig.RedisDB,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize rate limiter")
	}

	log.Info().
		Str("type", appConfig.RateLimitType).
		Int("limit", appConfig.RateLimit).
		Int("window_seconds", appConfig.RateLimitWindow).
		Msg("Rate limiter initialized")

	return rateLimiter
}

// runServer serves HTTP until ctx is cancelled, then drains connections
func runServer(ctx context.Context, appConfig *config.Config, appRouter http.Handler, sockets *socket.Handler, log *logger.Logger) {
	server := &http.Server{
		Addr:              ":" + appConfig.Port,
		Handler:           appRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Hijacked websocket connections are not tracked by Shutdown
	server.RegisterOnShutdown(sockets.CloseAll)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", appConfig.Port).
			Str("geoip_endpoint", "http://localhost:"+appConfig.Port+"/v1/geoip?ip=<ip>").
			Str("probes_endpoint", "http://localhost:"+appConfig.Port+"/v1/probes").
			Str("health_check", "http://localhost:"+appConfig.Port+"/health").
			Str("metrics", "http://localhost:"+appConfig.Port+"/metrics").
			Msg("Server is running")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
		return
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
