package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port      string
	LogLevel  string
	LogPretty bool

	// Rate limiting (HTTP API and probe connection attempts)
	RateLimitType   string // "memory" or "redis"
	RateLimit       int    // number of requests allowed
	RateLimitWindow int    // time window in seconds (default: 1)

	// Geoip cache
	CacheType string        // "none", "redis" or "mysql"
	CacheTTL  time.Duration // how long a resolved location stays cached

	// MySQL configuration (cache backend)
	MySQLDSN string

	// Redis configuration (cache backend and distributed rate limiter)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Geolocation providers
	FastlyURL         string
	IPInfoURL         string
	IPInfoToken       string
	MaxMindURL        string
	MaxMindAccountID  string
	MaxMindLicenseKey string
	MaxMindDBPath     string // optional local city mmdb file, replaces the web service
	MaxMindASNDBPath  string // optional local ASN mmdb file, paired with MaxMindDBPath
	ProviderTimeout   time.Duration

	// Anonymizer whitelist
	WhitelistPath string

	// Probe websocket keepalive
	PingInterval time.Duration
	PongWait     time.Duration
}

// Load reads configuration from environment variables
// with sensible defaults
func Load() *Config {
	// Load .env file if it exists (for local development)
	// In production/Docker, environment variables are set directly
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using environment variables or defaults")
	}

	return &Config{
		Port:      getEnv("PORT", "3000"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),

		RateLimitType:   getEnv("RATE_LIMITER_TYPE", "memory"),
		RateLimit:       getEnvAsInt("RATE_LIMIT", 20),
		RateLimitWindow: getEnvAsInt("RATE_LIMIT_WINDOW", 1),

		CacheType: getEnv("CACHE_TYPE", "redis"),
		CacheTTL:  getEnvAsDuration("GEOIP_CACHE_TTL", 72*time.Hour),

		MySQLDSN: getEnv("MYSQL_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		FastlyURL:         getEnv("FASTLY_URL", "https://globalping-geoip.global.ssl.fastly.net"),
		IPInfoURL:         getEnv("IPINFO_URL", "https://ipinfo.io"),
		IPInfoToken:       getEnv("IPINFO_TOKEN", ""),
		MaxMindURL:        getEnv("MAXMIND_URL", "https://geoip.maxmind.com"),
		MaxMindAccountID:  getEnv("MAXMIND_ACCOUNT_ID", ""),
		MaxMindLicenseKey: getEnv("MAXMIND_LICENSE_KEY", ""),
		MaxMindDBPath:     getEnv("MAXMIND_DB_PATH", ""),
		MaxMindASNDBPath:  getEnv("MAXMIND_ASN_DB_PATH", ""),
		ProviderTimeout:   getEnvAsDuration("PROVIDER_TIMEOUT", 5*time.Second),

		WhitelistPath: getEnv("WHITELIST_PATH", "./data/whitelist.txt"),

		PingInterval: getEnvAsDuration("WS_PING_INTERVAL", 25*time.Second),
		PongWait:     getEnvAsDuration("WS_PONG_WAIT", 60*time.Second),
	}
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt reads an environment variable as an integer
// Returns default if not set or invalid
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBool reads an environment variable as a boolean ("true", "1", "false", "0", ...)
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDuration reads an environment variable as a Go duration ("5s", "72h")
// Returns default if not set, invalid or not positive
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}

	return value
}
