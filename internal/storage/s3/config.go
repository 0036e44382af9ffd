package s3

import (
	"time"
)

// Config represents S3 drive configuration.
type Config struct {
	// Bucket and Prefix place the drive inside a bucket. Every object key
	// the drive touches is Prefix + the mount-relative path.
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// Performance settings
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PoolSize       int           `yaml:"pool_size"`

	// BlockSize is the ranged-GET granularity. Reads are served block by
	// block through the LRU cache.
	BlockSize int64 `yaml:"block_size"`

	// Advanced settings
	UseAccelerate bool `yaml:"use_accelerate"`
	UseDualStack  bool `yaml:"use_dual_stack"`

	// CargoShip transporter settings for large uploads
	EnableTransporter  bool  `yaml:"enable_transporter"`
	MultipartThreshold int64 `yaml:"multipart_threshold"`
	MultipartChunkSize int64 `yaml:"multipart_chunk_size"`
	UploadConcurrency  int   `yaml:"upload_concurrency"`

	// S3 storage tier configuration
	StorageTier     string          `yaml:"storage_tier"`
	TierConstraints TierConstraints `yaml:"tier_constraints"`
}

// TierConstraints overrides tier-specific constraints. Zero values defer
// to the AWS defaults in the tier table.
type TierConstraints struct {
	MinObjectSize      int64         `yaml:"min_object_size"`
	DeletionEmbargo    time.Duration `yaml:"deletion_embargo"`
	MinimumStorageDays int           `yaml:"minimum_storage_days"`
}

// NewDefaultConfig returns a configuration with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		MaxRetries:         3,
		RetryBaseDelay:     200 * time.Millisecond,
		RetryMaxDelay:      5 * time.Second,
		ConnectTimeout:     10 * time.Second,
		RequestTimeout:     30 * time.Second,
		PoolSize:           8,
		BlockSize:          4 * 1024 * 1024,
		EnableTransporter:  true,
		MultipartThreshold: 32 * 1024 * 1024,
		MultipartChunkSize: 16 * 1024 * 1024,
		StorageTier:        TierStandard,
	}
}

func (c *Config) withDefaults() *Config {
	def := NewDefaultConfig()
	out := *c
	if out.MaxRetries == 0 {
		out.MaxRetries = def.MaxRetries
	}
	if out.RetryBaseDelay == 0 {
		out.RetryBaseDelay = def.RetryBaseDelay
	}
	if out.RetryMaxDelay == 0 {
		out.RetryMaxDelay = def.RetryMaxDelay
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = def.ConnectTimeout
	}
	if out.RequestTimeout == 0 {
		out.RequestTimeout = def.RequestTimeout
	}
	if out.PoolSize == 0 {
		out.PoolSize = def.PoolSize
	}
	if out.BlockSize == 0 {
		out.BlockSize = def.BlockSize
	}
	if out.MultipartThreshold == 0 {
		out.MultipartThreshold = def.MultipartThreshold
	}
	if out.MultipartChunkSize == 0 {
		out.MultipartChunkSize = def.MultipartChunkSize
	}
	if out.UploadConcurrency == 0 {
		out.UploadConcurrency = out.PoolSize
	}
	if out.StorageTier == "" {
		out.StorageTier = def.StorageTier
	}
	return &out
}
