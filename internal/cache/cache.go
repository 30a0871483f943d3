// Package cache stores resolved geoip locations so repeated lookups skip the providers.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/evyataryagoni/geoprobe/internal/models"
)

// Cache defines the geoip cache contract
// Allows multiple implementations (no-op, Redis, MySQL) and easy testing with mocks
type Cache interface {
	// Get returns the cached location for ip
	// found is false on a miss; err is set only when the backend failed
	Get(ctx context.Context, ip string) (loc *models.LocationInfo, found bool, err error)

	// Set stores a location for ip for the given ttl (ttl <= 0 means no expiry)
	Set(ctx context.Context, ip string, loc *models.LocationInfo, ttl time.Duration) error

	// Close cleans up resources (connections, pools)
	Close() error
}

// Config holds the settings needed to build any cache backend
type Config struct {
	Type string // "none", "redis" or "mysql"

	// MySQL
	MySQLDSN string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New creates the cache backend selected by cfg.Type
//
// Supported types:
//   - "none": NoopCache, every lookup goes to the providers
//   - "redis": RedisCache, shared across instances
//   - "mysql": MySQLCache, durable table with per-row expiry
func New(cfg Config) (Cache, error) {
	switch cfg.Type {
	case "none", "":
		return NewNoopCache(), nil

	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	case "mysql":
		if cfg.MySQLDSN == "" {
			return nil, fmt.Errorf("MYSQL_DSN is required for the mysql cache")
		}
		return NewMySQLCache(cfg.MySQLDSN)

	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: none, redis, mysql)", cfg.Type)
	}
}
