package cache

import (
	"context"
	"time"

	apperrors "deltayield/internal/errors"
)

// Store is a byte oriented key/value cache with per-key TTL
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss is returned by Get when the key is absent or expired
var ErrCacheMiss = apperrors.NewAppError(apperrors.ErrCodeCacheMiss, "cache miss", nil)

// Config represents cache layer configuration
type Config struct {
	Enabled             bool          `yaml:"enabled" json:"enabled"`
	MemoryMaxSize       int           `yaml:"memory_max_size" json:"memory_max_size"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	FailureThreshold    int           `yaml:"failure_threshold" json:"failure_threshold"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	Addr        string        `yaml:"addr" json:"addr"`
	Password    string        `yaml:"password" json:"-"`
	DB          int           `yaml:"db" json:"db"`
	PoolSize    int           `yaml:"pool_size" json:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	KeyPrefix   string        `yaml:"key_prefix" json:"key_prefix"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		MemoryMaxSize:       512,
		CleanupInterval:     5 * time.Minute,
		FailureThreshold:    3,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultRedisConfig returns default Redis configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:     false,
		Addr:        "localhost:6379",
		PoolSize:    10,
		DialTimeout: 5 * time.Second,
		KeyPrefix:   "dnyield:",
	}
}
