package geoip

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/evyataryagoni/geoprobe/internal/cache"
	"github.com/evyataryagoni/geoprobe/internal/logger"
	"github.com/evyataryagoni/geoprobe/internal/metrics"
	"github.com/evyataryagoni/geoprobe/internal/models"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
)

// resolveTimeout bounds a shared resolution once it is detached from its callers
const resolveTimeout = 30 * time.Second

// Client is the entry point for geoip lookups
// It sits in front of the Resolver:
//   - Validate input (IP format)
//   - Serve from the cache when possible
//   - Resolve once per IP even with many concurrent callers
//   - Cache successful resolutions
type Client struct {
	resolver  *Resolver
	cache     cache.Cache
	ttl       time.Duration
	validator *validator.Validate
	group     singleflight.Group
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewClient creates a new geoip client
//
// Parameters:
//   - resolver: the consensus resolver
//   - c: any implementation of the Cache interface (nil means no caching)
//   - ttl: how long resolved locations stay cached
//   - m: metrics collector (optional, can be nil)
//   - log: logger (optional, can be nil)
func NewClient(resolver *Resolver, c cache.Cache, ttl time.Duration, m *metrics.Metrics, log *logger.Logger) *Client {
	if c == nil {
		c = cache.NewNoopCache()
	}
	return &Client{
		resolver:  resolver,
		cache:     c,
		ttl:       ttl,
		validator: validator.New(),
		metrics:   m,
		logger:    logger.OrNop(log).WithComponent("GeoIPClient"),
	}
}

// Lookup returns the location of ip
//
// Flow:
//  1. Validate IP format
//  2. Return the cached location on a hit (no provider is called)
//  3. Resolve on a miss, sharing the work with concurrent callers for the same IP
//  4. Cache the result if it succeeded
//
// Returns a *LookupError (ErrInvalidIP, ErrUnresolvable, ErrAmbiguousMatch,
// ErrAnonymizerDetected) or ctx.Err() when the caller gives up first
func (c *Client) Lookup(ctx context.Context, ip string) (*models.LocationInfo, error) {
	// Step 1: Validate IP format
	if err := c.validator.Var(ip, "required,ip"); err != nil {
		c.logger.WithIP(ip).Debug().Msg("Invalid IP address format")
		c.countLookup("invalid")
		return nil, newLookupError(ip, ErrInvalidIP)
	}

	// One key per address: "::ffff:1.2.3.4" and "1.2.3.4" share cache and flight
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		c.logger.WithIP(ip).Debug().Msg("Invalid IP address format")
		c.countLookup("invalid")
		return nil, newLookupError(ip, ErrInvalidIP)
	}
	ip = addr.Unmap().WithZone("").String()
	log := c.logger.WithIP(ip)

	// Step 2: Cache
	if location := c.cached(ctx, ip, log); location != nil {
		c.countLookup("cache_hit")
		return location, nil
	}

	// Step 3: Resolve, at most once in flight per IP
	// The shared resolution outlives any single caller so one
	// disconnecting probe can't fail the lookup for everyone else
	ch := c.group.DoChan(ip, func() (any, error) {
		resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return c.resolve(resolveCtx, ip, log)
	})

	select {
	case <-ctx.Done():
		c.countLookup("canceled")
		return nil, ctx.Err()

	case res := <-ch:
		if res.Err != nil {
			c.countLookup(resultLabel(res.Err))
			return nil, res.Err
		}
		c.countLookup("success")
		// callers sharing a flight each get their own copy
		return res.Val.(*models.LocationInfo).Clone(), nil
	}
}

// cached returns the cached location, or nil on a miss
// A failing cache is logged and treated as a miss
func (c *Client) cached(ctx context.Context, ip string, log *logger.Logger) *models.LocationInfo {
	location, found, err := c.cache.Get(ctx, ip)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Cache read failed, resolving instead")
		c.countCache("error")
		return nil
	case !found:
		c.countCache("miss")
		return nil
	default:
		c.countCache("hit")
		return location
	}
}

// resolve runs the resolver and caches successful results
func (c *Client) resolve(ctx context.Context, ip string, log *logger.Logger) (*models.LocationInfo, error) {
	location, err := c.resolver.Resolve(ctx, ip)
	if err != nil {
		log.Debug().Err(err).Msg("Resolution failed")
		return nil, err
	}

	if err := c.cache.Set(ctx, ip, location, c.ttl); err != nil {
		log.Warn().Err(err).Msg("Cache write failed")
	}

	log.Info().
		Str("city", location.City).
		Str("country", location.Country).
		Int("asn", location.ASN).
		Msg("IP lookup successful")

	return location, nil
}

// Close releases the cache backend
func (c *Client) Close() error {
	return c.cache.Close()
}

func (c *Client) countLookup(result string) {
	if c.metrics != nil {
		c.metrics.GeoIPLookupsTotal.WithLabelValues(result).Inc()
	}
}

func (c *Client) countCache(result string) {
	if c.metrics != nil {
		c.metrics.CacheRequestsTotal.WithLabelValues(result).Inc()
	}
}

// resultLabel maps a lookup error to its metrics label
func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrAnonymizerDetected):
		return "anonymizer"
	case errors.Is(err, ErrAmbiguousMatch):
		return "ambiguous"
	case errors.Is(err, ErrUnresolvable):
		return "unresolvable"
	default:
		return "error"
	}
}
