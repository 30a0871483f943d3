package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evyataryagoni/geoprobe/internal/logger"
)

// keyPrefix namespaces limiter counters away from the geoip cache
const keyPrefix = "ratelimit:"

// windowScript increments the counter for the current window atomically
// KEYS[1] = counter key, ARGV[1] = TTL in milliseconds
var windowScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])

	-- Set expiry only on the first request of the window
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end

	return current
`)

// RedisLimiter implements distributed rate limiting using Redis
// This is suitable for multi-server deployments where rate limits need to be
// shared across all instances
//
// Algorithm: fixed window counter
//   - Key format: "ratelimit:{key}:{window}"
//   - Keys expire after two windows, so Redis cleans up by itself
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	logger *logger.Logger
}

// NewRedisLimiter creates a new Redis-based rate limiter
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string if no password)
//   - db: Redis database number
//   - limit: requests allowed per window per key
//   - window: window length
//
// Returns:
//   - *RedisLimiter: new Redis rate limiter instance
//   - error: any error that occurred during connection
func NewRedisLimiter(addr, password string, db int, limit int, window time.Duration, log *logger.Logger) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis for rate limiting: %w", err)
	}

	if limit < 1 {
		limit = 1
	}
	if window < time.Second {
		window = time.Second
	}

	return &RedisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		logger: logger.OrNop(log).WithComponent("RedisLimiter"),
	}, nil
}

// Allow checks if a request for key should be allowed
// On Redis errors it fails open, so an outage never blocks legitimate traffic
func (rl *RedisLimiter) Allow(ctx context.Context, key string) bool {
	window := time.Now().UnixMilli() / rl.window.Milliseconds()
	redisKey := fmt.Sprintf("%s%s:%d", keyPrefix, key, window)

	count, err := windowScript.Run(ctx, rl.client, []string{redisKey}, (2 * rl.window).Milliseconds()).Int64()
	if err != nil {
		rl.logger.Warn().Err(err).Str("key", key).Msg("Rate limiter unavailable, allowing request")
		return true
	}

	return count <= rl.limit
}

// Close closes the Redis connection
func (rl *RedisLimiter) Close() error {
	if rl.client != nil {
		return rl.client.Close()
	}
	return nil
}
