package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/vjranagit/framepivot/internal/logging"
	"github.com/vjranagit/framepivot/pkg/storage"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Cache   CacheConfig
	Query   QueryConfig
	Logging LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `envconfig:"LISTEN_ADDR" default:":9090"`
	Timeout    time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Path             string `envconfig:"STORAGE_PATH" default:"./data"`
	RetentionDays    int    `envconfig:"RETENTION_DAYS" default:"30"`
	CompressionLevel int    `envconfig:"COMPRESSION_LEVEL" default:"3"`
	EnableWAL        bool   `envconfig:"ENABLE_WAL" default:"true"`
	QueryConcurrency int    `envconfig:"QUERY_CONCURRENCY" default:"8"`
}

// CacheConfig controls the query result cache
type CacheConfig struct {
	Enabled  bool          `envconfig:"CACHE_ENABLED" default:"true"`
	Capacity int           `envconfig:"CACHE_CAPACITY" default:"1000"`
	TTL      time.Duration `envconfig:"CACHE_TTL" default:"1m"`
}

// QueryConfig holds defaults for table queries
type QueryConfig struct {
	Lookback time.Duration `envconfig:"QUERY_LOOKBACK" default:"5m"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load reads the configuration from environment variables and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9090",
			Timeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			Path:             "./data",
			RetentionDays:    30,
			CompressionLevel: 3,
			EnableWAL:        true,
			QueryConcurrency: 8,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Capacity: 1000,
			TTL:      time.Minute,
		},
		Query: QueryConfig{
			Lookback: 5 * time.Minute,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		RetentionDays:    c.Storage.RetentionDays,
		CompressionLevel: c.Storage.CompressionLevel,
		EnableWAL:        c.Storage.EnableWAL,
		QueryConcurrency: c.Storage.QueryConcurrency,
	}
}

// ToLoggingConfig converts to logging.Config
func (c *Config) ToLoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Development = c.Logging.Development
	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	if c.Storage.RetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if c.Storage.QueryConcurrency < 1 {
		return fmt.Errorf("query concurrency must be at least 1")
	}

	if c.Cache.Enabled && c.Cache.Capacity < 1 {
		return fmt.Errorf("cache capacity must be at least 1 when the cache is enabled")
	}

	if c.Query.Lookback < 0 {
		return fmt.Errorf("query lookback must not be negative")
	}

	return nil
}
