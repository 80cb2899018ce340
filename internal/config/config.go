// Package config provides configuration for the protoq tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arkilian/protoq/internal/storage"
	"github.com/arkilian/protoq/pkg/codec"
	"github.com/arkilian/protoq/pkg/protoq"
)

// Config holds the configuration for the protoq command-line tools.
type Config struct {
	// Query controls how streams are framed and decoded
	Query QueryConfig `json:"query" yaml:"query"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Stats configuration
	Stats StatsConfig `json:"stats" yaml:"stats"`
}

// QueryConfig holds stream decoding configuration.
type QueryConfig struct {
	// Framing is the length-prefix convention: base128, fixed32, fixed32be
	Framing string `json:"framing" yaml:"framing"`

	// Compression is the per-frame compression: none, snappy
	Compression string `json:"compression" yaml:"compression"`

	// Reuse decodes every record into a single instance
	Reuse bool `json:"reuse" yaml:"reuse"`

	// MaxFrameSize bounds a single frame in bytes
	MaxFrameSize int `json:"max_frame_size" yaml:"max_frame_size"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type and s3:// locations)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// StatsConfig controls query statistics collection.
type StatsConfig struct {
	// Enabled turns on per-field access tracking
	Enabled bool `json:"enabled" yaml:"enabled"`

	// TopFields is how many fields the stats report lists
	TopFields int `json:"top_fields" yaml:"top_fields"`

	// Window is how long a field access is remembered
	Window time.Duration `json:"window" yaml:"window"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Query: QueryConfig{
			Framing:      "base128",
			Compression:  "none",
			MaxFrameSize: codec.DefaultMaxFrameSize,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "./data",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Stats: StatsConfig{
			Enabled:   true,
			TopFields: 10,
			Window:    time.Hour,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := codec.ParseFraming(c.Query.Framing); err != nil {
		return fmt.Errorf("query.framing: %w", err)
	}
	if _, err := codec.ParseCompression(c.Query.Compression); err != nil {
		return fmt.Errorf("query.compression: %w", err)
	}
	if c.Query.MaxFrameSize < 0 {
		return fmt.Errorf("query.max_frame_size must not be negative, got %d", c.Query.MaxFrameSize)
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Stats.TopFields < 0 {
		return fmt.Errorf("stats.top_fields must not be negative, got %d", c.Stats.TopFields)
	}
	return nil
}

// QueryOptions converts the query section into protoq options.
func (c *Config) QueryOptions() (protoq.Options, error) {
	framing, err := codec.ParseFraming(c.Query.Framing)
	if err != nil {
		return protoq.Options{}, err
	}
	compression, err := codec.ParseCompression(c.Query.Compression)
	if err != nil {
		return protoq.Options{}, err
	}

	opts := protoq.DefaultOptions()
	opts.Framing = framing
	opts.Compression = compression
	opts.Reuse = c.Query.Reuse
	opts.MaxFrameSize = c.Query.MaxFrameSize
	return opts, nil
}

// S3 returns the storage-layer S3 configuration.
func (c *Config) S3() storage.S3Config {
	cfg := storage.DefaultS3Config()
	if c.Storage.S3.Region != "" {
		cfg.Region = c.Storage.S3.Region
	}
	cfg.Endpoint = c.Storage.S3.Endpoint
	cfg.UsePathStyle = c.Storage.S3.UsePathStyle
	return cfg
}

// Location resolves a stream argument against the storage configuration.
// Absolute paths and URIs are returned unchanged, and a trailing slash that
// marks a prefix is kept.
func (c *Config) Location(stream string) string {
	if strings.Contains(stream, "://") || filepath.IsAbs(stream) {
		return stream
	}
	switch c.Storage.Type {
	case "s3":
		return "s3://" + c.Storage.S3.Bucket + "/" + strings.TrimPrefix(stream, "/")
	default:
		if c.Storage.Path == "" {
			return stream
		}
		loc := filepath.Join(c.Storage.Path, stream)
		if strings.HasSuffix(stream, "/") {
			loc += "/"
		}
		return loc
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the PROTOQ_ prefix.
func LoadFromEnv(cfg *Config) {
	// Query configuration
	if v := os.Getenv("PROTOQ_QUERY_FRAMING"); v != "" {
		cfg.Query.Framing = v
	}
	if v := os.Getenv("PROTOQ_QUERY_COMPRESSION"); v != "" {
		cfg.Query.Compression = v
	}
	if v := os.Getenv("PROTOQ_QUERY_REUSE"); v != "" {
		cfg.Query.Reuse = v == "true" || v == "1"
	}
	if v := os.Getenv("PROTOQ_QUERY_MAX_FRAME_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Query.MaxFrameSize = n
		}
	}

	// Storage configuration
	if v := os.Getenv("PROTOQ_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("PROTOQ_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("PROTOQ_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("PROTOQ_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("PROTOQ_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("PROTOQ_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}

	// Stats configuration
	if v := os.Getenv("PROTOQ_STATS_ENABLED"); v != "" {
		cfg.Stats.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PROTOQ_STATS_TOP_FIELDS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Stats.TopFields)
	}
	if v := os.Getenv("PROTOQ_STATS_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Stats.Window = d
		}
	}
}
