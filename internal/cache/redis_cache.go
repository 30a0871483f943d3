package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/evyataryagoni/geoprobe/internal/models"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces cache entries in a shared Redis
const keyPrefix = "geoip:"

// RedisCache implements Cache using Redis
// Entries expire on their own via the key TTL
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string if no password)
//   - db: Redis database number (0-15, default is 0)
//
// Returns:
//   - *RedisCache: pointer to the created cache
//   - error: any error that occurred during connection
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test the connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// cacheKey builds the Redis key for ip
// Example: geoip:131.255.7.26
func cacheKey(ip string) string {
	return keyPrefix + ip
}

// Get implements Cache
// Value format: JSON-encoded LocationInfo (normalized fields included)
func (c *RedisCache) Get(ctx context.Context, ip string) (*models.LocationInfo, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(ip)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Key does not exist or has expired
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var location models.LocationInfo
	if err := json.Unmarshal(data, &location); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached location: %w", err)
	}

	return &location, true, nil
}

// Set implements Cache
func (c *RedisCache) Set(ctx context.Context, ip string, loc *models.LocationInfo, ttl time.Duration) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to encode location: %w", err)
	}

	// SET key value EX ttl (0 keeps the key forever)
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, cacheKey(ip), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
