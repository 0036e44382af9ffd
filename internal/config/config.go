package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/drivefs/drivefs/internal/buffer"
	"github.com/drivefs/drivefs/internal/cache"
	"github.com/drivefs/drivefs/internal/circuit"
	"github.com/drivefs/drivefs/internal/mount"
	"github.com/drivefs/drivefs/internal/storage/s3"
	"github.com/drivefs/drivefs/pkg/api"
)

// Config is the complete drivefs configuration tree. Sections reuse the
// Config types of the packages they feed, so a loaded file can be handed
// to those packages without translation. Zero values fall back to the
// per-package defaults; a partial YAML file only names what it changes.
type Config struct {
	Logging Logging        `yaml:"logging"`
	Mount   mount.Options  `yaml:"mount"`
	Drive   DriveConfig    `yaml:"drive"`
	Cache   cache.Config   `yaml:"cache"`
	Buffer  buffer.Config  `yaml:"buffer"`
	Circuit circuit.Config `yaml:"circuit"`
	API     APIConfig      `yaml:"api"`
}

// Logging configures the process-wide logger.
type Logging struct {
	// Level is any level name logrus understands (trace through panic).
	Level string `yaml:"level"`

	// File receives log output when set. Empty means stderr.
	File string `yaml:"file"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DriveConfig selects and configures the storage backend behind the mount.
type DriveConfig struct {
	// Backend is "mem" or "s3".
	Backend string `yaml:"backend"`

	// S3 applies when Backend is "s3".
	S3 s3.Config `yaml:"s3"`
}

// APIConfig configures the monitoring HTTP server.
type APIConfig struct {
	// Enabled starts the server alongside the mount.
	Enabled bool `yaml:"enabled"`

	api.ServerConfig `yaml:",inline"`
}

// NewDefault returns a configuration with sensible defaults: an in-memory
// drive, info-level text logging, and the monitoring server disabled.
func NewDefault() *Config {
	return &Config{
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Mount: mount.Options{
			FSName:       "drivefs",
			Subtype:      "drive",
			AttrTimeout:  time.Second,
			EntryTimeout: time.Second,
			MaxWrite:     128 * 1024,
		},
		Drive: DriveConfig{
			Backend: "mem",
			S3:      *s3.NewDefaultConfig(),
		},
		Cache: cache.Config{
			MaxSize:         256 * 1024 * 1024,
			TTL:             5 * time.Minute,
			CleanupInterval: time.Minute,
		},
		Buffer: buffer.Config{
			MaxObject:     512 * 1024 * 1024,
			MaxTotal:      1024 * 1024 * 1024,
			FlushInterval: 30 * time.Second,
			IdleAfter:     5 * time.Second,
		},
		Circuit: circuit.Config{
			MaxProbes: 1,
			Window:    time.Minute,
			Cooldown:  30 * time.Second,
		},
		API: APIConfig{
			Enabled:      false,
			ServerConfig: api.DefaultServerConfig(),
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path when non-empty, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv applies DRIVEFS_* environment variable overrides.
func (c *Config) LoadFromEnv() error {
	// Logging
	if val := os.Getenv("DRIVEFS_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("DRIVEFS_LOG_FILE"); val != "" {
		c.Logging.File = val
	}
	if val := os.Getenv("DRIVEFS_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}

	// Mount
	if val := os.Getenv("DRIVEFS_ALLOW_OTHER"); val != "" {
		c.Mount.AllowOther = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DRIVEFS_FORCE_OWNERSHIP"); val != "" {
		c.Mount.ForceOwnership = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DRIVEFS_DEBUG"); val != "" {
		c.Mount.Debug = strings.ToLower(val) == "true"
	}

	// Drive
	if val := os.Getenv("DRIVEFS_DRIVE_BACKEND"); val != "" {
		c.Drive.Backend = val
	}
	if val := os.Getenv("DRIVEFS_S3_REGION"); val != "" {
		c.Drive.S3.Region = val
	}
	if val := os.Getenv("DRIVEFS_S3_ENDPOINT"); val != "" {
		c.Drive.S3.Endpoint = val
	}
	if val := os.Getenv("DRIVEFS_S3_PATH_STYLE"); val != "" {
		c.Drive.S3.ForcePathStyle = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DRIVEFS_S3_POOL_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.Drive.S3.PoolSize = size
		}
	}
	if val := os.Getenv("DRIVEFS_S3_STORAGE_TIER"); val != "" {
		c.Drive.S3.StorageTier = val
	}

	// Cache
	if val := os.Getenv("DRIVEFS_CACHE_MAX_SIZE"); val != "" {
		if size, err := ParseSize(val); err == nil {
			c.Cache.MaxSize = size
		}
	}
	if val := os.Getenv("DRIVEFS_CACHE_TTL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Cache.TTL = duration
		}
	}

	// Buffer
	if val := os.Getenv("DRIVEFS_BUFFER_FLUSH_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Buffer.FlushInterval = duration
		}
	}

	// API
	if val := os.Getenv("DRIVEFS_API_ENABLED"); val != "" {
		c.API.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DRIVEFS_API_ADDRESS"); val != "" {
		c.API.Address = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for inconsistencies a mount would
// trip over later.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level %q: %w", c.Logging.Level, err)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format %q (must be text or json)", c.Logging.Format)
	}

	switch c.Drive.Backend {
	case "mem":
	case "s3":
		if c.Drive.S3.Bucket == "" {
			return fmt.Errorf("s3 drive requires a bucket")
		}
		if c.Drive.S3.PoolSize < 0 {
			return fmt.Errorf("s3 pool_size cannot be negative")
		}
		if c.Drive.S3.StorageTier != "" {
			if err := s3.ValidateTier(c.Drive.S3.StorageTier); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown drive backend %q (must be mem or s3)", c.Drive.Backend)
	}

	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache max_size cannot be negative")
	}

	if c.Buffer.MaxObject > 0 && c.Buffer.MaxTotal > 0 && c.Buffer.MaxObject > c.Buffer.MaxTotal {
		return fmt.Errorf("buffer max_object (%d) exceeds max_total (%d)", c.Buffer.MaxObject, c.Buffer.MaxTotal)
	}

	if c.API.Enabled && c.API.Address == "" {
		return fmt.Errorf("api server enabled without an address")
	}

	return nil
}

// Apply configures the given logrus logger from the Logging section. The
// returned closer is non-nil when a log file was opened.
func (l Logging) Apply(logger *log.Logger) (func() error, error) {
	level, err := log.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level %q: %w", l.Level, err)
	}
	logger.SetLevel(level)

	switch l.Format {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if l.File == "" {
		return nil, nil
	}
	f, err := os.OpenFile(l.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(f)
	return f.Close, nil
}

// ParseSize parses a human-readable byte size such as "256MB", "1GiB" or a
// plain integer byte count.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	units := []struct {
		suffix string
		factor int64
	}{
		{"GIB", 1 << 30}, {"GB", 1 << 30}, {"G", 1 << 30},
		{"MIB", 1 << 20}, {"MB", 1 << 20}, {"M", 1 << 20},
		{"KIB", 1 << 10}, {"KB", 1 << 10}, {"K", 1 << 10},
		{"B", 1},
	}

	upper := strings.ToUpper(s)
	for _, u := range units {
		if strings.HasSuffix(upper, u.suffix) {
			num := strings.TrimSpace(upper[:len(upper)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q: %w", s, err)
			}
			if val < 0 {
				return 0, fmt.Errorf("invalid size %q: negative", s)
			}
			return int64(val * float64(u.factor)), nil
		}
	}

	val, err := strconv.ParseInt(upper, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", s)
	}
	return val, nil
}
