// Package config loads the face index service configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the service configuration.
type Config struct {
	Port      int             `json:"port"`
	DataDir   string          `json:"data_dir,omitempty"`
	Database  DatabaseConfig  `json:"database"`
	Index     IndexConfig     `json:"index"`
	Extractor ExtractorConfig `json:"extractor"`
	Images    ImagesConfig    `json:"images"`
	Sweeper   SweeperConfig   `json:"sweeper"`
}

// DatabaseConfig contains metadata ledger settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// IndexConfig contains vector index settings.
type IndexConfig struct {
	// Path to the index database file. If empty, derives from the ledger
	// path (e.g. "faceindex.db" becomes "faceindex.vector.db"). "memory"
	// disables persistence entirely.
	Path      string `json:"path,omitempty"`
	Dimension int    `json:"dimension,omitempty"` // informational; collections size to the extractor output
	Metric    string `json:"metric,omitempty"`    // "cosine" (default), "euclidean", "dot"
}

// ExtractorConfig contains embedding sidecar settings.
type ExtractorConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Timeout returns the extractor request timeout.
func (e ExtractorConfig) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// ImagesConfig contains image blob store settings.
type ImagesConfig struct {
	Backend string       `json:"backend,omitempty"` // "local" (default) or "minio"
	Dir     string       `json:"dir,omitempty"`     // local backend directory
	Minio   *MinioConfig `json:"minio,omitempty"`
}

// MinioConfig contains settings for the MinIO image backend. AccessKey and
// SecretKey support ${ENV_VAR} expansion.
type MinioConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix,omitempty"`
	UseSSL    bool   `json:"use_ssl,omitempty"`
}

// SweeperConfig contains reconciliation sweeper settings.
type SweeperConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`  // defaults to true
	Schedule     string `json:"schedule,omitempty"` // cron expression, default "@every 5m"
	GraceMinutes int    `json:"grace_minutes,omitempty"`
}

// IsEnabled returns whether the sweeper runs on a schedule. Defaults to
// true if not explicitly set.
func (s SweeperConfig) IsEnabled() bool {
	if s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// Grace returns the orphan grace period.
func (s SweeperConfig) Grace() time.Duration {
	if s.GraceMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.GraceMinutes) * time.Minute
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:     8080,
		Database: DatabaseConfig{Path: "faceindex.db"},
		Index:    IndexConfig{Metric: "cosine"},
		Extractor: ExtractorConfig{
			URL:            "http://localhost:9000",
			TimeoutSeconds: 30,
		},
		Images:  ImagesConfig{Backend: "local", Dir: "images"},
		Sweeper: SweeperConfig{Schedule: "@every 5m", GraceMinutes: 5},
	}
}

// Load reads the configuration file, applying defaults for missing fields.
// A missing file returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Images.Minio != nil {
		cfg.Images.Minio.AccessKey = expandEnv(cfg.Images.Minio.AccessKey)
		cfg.Images.Minio.SecretKey = expandEnv(cfg.Images.Minio.SecretKey)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	switch c.Images.Backend {
	case "", "local":
	case "minio":
		if c.Images.Minio == nil {
			return fmt.Errorf("config: images.minio settings are required for the minio backend")
		}
	default:
		return fmt.Errorf("config: unknown images backend %q", c.Images.Backend)
	}
	return nil
}

// IndexDBPath returns the vector index database path, deriving it from the
// ledger path when unset. For example, "faceindex.db" becomes
// "faceindex.vector.db".
func (c *Config) IndexDBPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	ext := filepath.Ext(c.Database.Path)
	base := strings.TrimSuffix(c.Database.Path, ext)
	if ext == "" {
		ext = ".db"
	}
	return base + ".vector" + ext
}

// expandEnv expands ${VAR} references against the environment, leaving
// unresolved references intact for clearer errors downstream.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "${" + name + "}"
	})
}
