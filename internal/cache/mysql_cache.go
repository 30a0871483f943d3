package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/evyataryagoni/geoprobe/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// noExpiry is stored for entries written with ttl <= 0
var noExpiry = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// CacheEntry is the GORM model for the geoip_cache table
type CacheEntry struct {
	IP        string    `gorm:"column:ip;primaryKey;size:45"`
	Payload   string    `gorm:"column:payload;type:text;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;index;not null"`
}

// TableName overrides GORM's default pluralized name
func (CacheEntry) TableName() string {
	return "geoip_cache"
}

// MySQLCache implements Cache using MySQL with GORM
// Expired rows are left in place and treated as misses; Set overwrites them
type MySQLCache struct {
	db *gorm.DB
}

// NewMySQLCache connects to MySQL and makes sure the cache table exists
//
// Parameters:
//   - dsn: Data Source Name (connection string)
//     Format: user:password@tcp(host:port)/dbname?parseTime=true
//
// Returns:
//   - *MySQLCache: pointer to the created cache
//   - error: any error that occurred during connection or migration
func NewMySQLCache(dsn string) (*MySQLCache, error) {
	config := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	db, err := gorm.Open(mysql.Open(dsn), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL with GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	if err := db.AutoMigrate(&CacheEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate geoip_cache table: %w", err)
	}

	return &MySQLCache{db: db}, nil
}

// Get implements Cache
// GORM query: SELECT * FROM geoip_cache WHERE ip = ? AND expires_at > ? LIMIT 1
func (c *MySQLCache) Get(ctx context.Context, ip string) (*models.LocationInfo, bool, error) {
	var entry CacheEntry

	result := c.db.WithContext(ctx).
		Where("ip = ? AND expires_at > ?", ip, time.Now().UTC()).
		First(&entry)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("database query failed: %w", result.Error)
	}

	var location models.LocationInfo
	if err := json.Unmarshal([]byte(entry.Payload), &location); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached location: %w", err)
	}

	return &location, true, nil
}

// Set implements Cache
// Uses INSERT ... ON DUPLICATE KEY UPDATE so a refresh replaces the old row
func (c *MySQLCache) Set(ctx context.Context, ip string, loc *models.LocationInfo, ttl time.Duration) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to encode location: %w", err)
	}

	expiresAt := noExpiry
	if ttl > 0 {
		expiresAt = time.Now().UTC().Add(ttl)
	}

	entry := CacheEntry{
		IP:        ip,
		Payload:   string(data),
		ExpiresAt: expiresAt,
	}

	result := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ip"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "expires_at"}),
		}).
		Create(&entry)
	if result.Error != nil {
		return fmt.Errorf("database upsert failed: %w", result.Error)
	}

	return nil
}

// Close closes the database connection
func (c *MySQLCache) Close() error {
	if c.db != nil {
		sqlDB, err := c.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
