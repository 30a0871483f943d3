package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evyataryagoni/geoprobe/internal/cache"
	"github.com/evyataryagoni/geoprobe/internal/config"
	"github.com/evyataryagoni/geoprobe/internal/geoip"
	"github.com/evyataryagoni/geoprobe/internal/logger"
	"github.com/evyataryagoni/geoprobe/internal/whitelist"
)

// This tool resolves IPs with the same consensus as the server and warms the geoip cache
// Usage: geoip-lookup 1.1.1.1 8.8.8.8
//
//	cat ips.txt | geoip-lookup --concurrency 8
var options struct {
	concurrency int
	noCache     bool
}

var rootCmd = &cobra.Command{
	Use:   "geoip-lookup [ip...]",
	Short: "Resolve IP addresses to a consensus location",
	Long: "Resolves each IP (from arguments, or one per line on stdin) and prints one JSON line per IP.\n" +
		"Results are written to the configured geoip cache unless --no-cache is set.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ips := args
		if len(ips) == 0 {
			var err error
			if ips, err = readIPs(cmd.InOrStdin()); err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
		}

		client, closeAll, err := setupClient()
		if err != nil {
			return err
		}
		defer closeAll()

		failed, err := lookupAll(cmd.Context(), client, ips, options.concurrency, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d lookups failed", failed, len(ips))
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().IntVarP(&options.concurrency, "concurrency", "c", 4, "number of lookups in flight")
	rootCmd.Flags().BoolVar(&options.noCache, "no-cache", false, "skip the geoip cache")
}

// setupClient builds the geoip client from the same environment as the server
func setupClient() (*geoip.Client, func(), error) {
	appConfig := config.Load()

	// Logs go to stderr so stdout stays valid JSON lines
	log := logger.New(logger.Config{
		Level:  appConfig.LogLevel,
		Pretty: appConfig.LogPretty,
		Writer: os.Stderr,
	})

	wl := whitelist.New(appConfig.WhitelistPath, log)
	if err := wl.Reload(); err != nil {
		log.Warn().Err(err).Msg("Whitelist not loaded")
	}

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
		return nil, nil, err
	}

	cacheType := appConfig.CacheType
	if options.noCache {
		cacheType = "none"
	}
	geoCache, err := cache.New(cache.Config{
		Type:          cacheType,
		MySQLDSN:      appConfig.MySQLDSN,
		RedisAddr:     appConfig.RedisAddr,
		RedisPassword: appConfig.RedisPassword,
		RedisDB:       appConfig.RedisDB,
	})
	if err != nil {
		providers.Close()
		return nil, nil, fmt.Errorf("initializing geoip cache: %w", err)
	}

	resolver := geoip.NewResolver(providers, wl, nil, log)
	client := geoip.NewClient(resolver, geoCache, appConfig.CacheTTL, nil, log)

	return client, func() {
		client.Close()
		providers.Close()
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
