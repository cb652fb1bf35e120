// Package config loads gridcastd configuration: defaults, then a YAML
// file, then environment variable overrides (GRIDCAST_* via envconfig).
// Command-line flags in cmd/ override all three.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Backend kinds selectable at configuration time.
const (
	KindParquet = "parquet"
	KindDuckDB  = "duckdb"
	KindS3      = "s3"
	KindSample  = "sample"
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP serving surface.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	APIKey          string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackendConfig selects and configures the storage backend.
type BackendConfig struct {
	Kind    string        `yaml:"kind"`
	Parquet ParquetConfig `yaml:"parquet"`
	DuckDB  DuckDBConfig  `yaml:"duckdb"`
	S3      S3Config      `yaml:"s3"`
}

// ParquetConfig configures the columnar-file backend.
type ParquetConfig struct {
	Dir string `yaml:"dir"`
}

// DuckDBConfig configures the relational backend.
type DuckDBConfig struct {
	Path         string        `yaml:"path"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// S3Config configures the remote-object backend.
type S3Config struct {
	Bucket        string        `yaml:"bucket"`
	Prefix        string        `yaml:"prefix"`
	Key           string        `yaml:"key"`
	Region        string        `yaml:"region"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryBaseWait time.Duration `yaml:"retry_base_wait"`
	OpTimeout     time.Duration `yaml:"op_timeout"`
}

// CacheConfig configures the snapshot cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LoggingConfig configures the slog setup.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the built-in defaults: sample backend on the
// loopback port, 15 minute cache, text logging at info.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:          ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Backend: BackendConfig{
			Kind:    KindSample,
			Parquet: ParquetConfig{Dir: "data"},
			DuckDB:  DuckDBConfig{QueryTimeout: 30 * time.Second},
			S3: S3Config{
				MaxAttempts:   3,
				RetryBaseWait: 500 * time.Millisecond,
				OpTimeout:     30 * time.Second,
			},
		},
		Cache:   CacheConfig{TTL: 15 * time.Minute},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the effective configuration: defaults, overlaid by the YAML
// file at path (optional, empty path skips), overlaid by GRIDCAST_*
// environment variables.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("gridcast", &cfg); err != nil {
		return cfg, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions before any backend
// is opened.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case KindParquet:
		if c.Backend.Parquet.Dir == "" {
			return fmt.Errorf("backend.parquet.dir is required for the parquet backend")
		}
	case KindDuckDB:
		// Empty path means in-memory, which is valid.
	case KindS3:
		if c.Backend.S3.Bucket == "" {
			return fmt.Errorf("backend.s3.bucket is required for the s3 backend")
		}
		if c.Backend.S3.Prefix == "" && c.Backend.S3.Key == "" {
			return fmt.Errorf("backend.s3 needs a prefix or a key")
		}
	case KindSample:
	default:
		return fmt.Errorf("unknown backend kind %q (want parquet, duckdb, s3 or sample)", c.Backend.Kind)
	}

	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}

	return nil
}
