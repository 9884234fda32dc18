// Package objectstore stores image bytes in an S3-compatible bucket
// through minio-go and hands out presigned GET URLs.
package objectstore

import (
	"fmt"
	"time"

	"github.com/xmx0632/photoshow/errors"
)

// Config holds the object store connection and quota settings.
type Config struct {
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey string `json:"access_key" mapstructure:"access_key"`
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	UseSSL    bool   `json:"use_ssl" mapstructure:"use_ssl"`
	// Region skips the bucket location lookup when set.
	Region string `json:"region" mapstructure:"region"`
	// Prefix is prepended to every object key, e.g. "images/".
	Prefix string `json:"prefix" mapstructure:"prefix"`

	// URLExpiry is the validity of presigned URLs.
	URLExpiry time.Duration `json:"url_expiry" mapstructure:"url_expiry"`
	// URLCacheSize bounds the presigned URL cache.
	URLCacheSize int `json:"url_cache_size" mapstructure:"url_cache_size"`

	QuotaBytes   int64   `json:"quota_bytes" mapstructure:"quota_bytes"`
	WarnFraction float64 `json:"warn_fraction" mapstructure:"warn_fraction"`
}

// DefaultConfig returns the settings of a local MinIO server.
func DefaultConfig() Config {
	return Config{
		Endpoint:     "localhost:9000",
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		Bucket:       "images",
		Region:       "us-east-1",
		Prefix:       "images/",
		URLExpiry:    time.Hour,
		URLCacheSize: 4096,
		QuotaBytes:   5 << 30,
		WarnFraction: 0.8,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Endpoint == "" || c.Bucket == "" {
		return fmt.Errorf("%w: object store endpoint and bucket are required", errors.ErrMissingConfig)
	}
	if c.URLExpiry < time.Second || c.URLExpiry > 7*24*time.Hour {
		return fmt.Errorf("%w: url_expiry must be between 1s and 7 days", errors.ErrInvalidConfig)
	}
	if c.WarnFraction < 0 || c.WarnFraction > 1 {
		return fmt.Errorf("%w: warn_fraction must be within [0, 1]", errors.ErrInvalidConfig)
	}
	if c.QuotaBytes < 0 {
		return fmt.Errorf("%w: quota_bytes cannot be negative", errors.ErrInvalidConfig)
	}
	return nil
}

// urlCacheTTL keeps cached URLs well inside their validity.
func (c Config) urlCacheTTL() time.Duration {
	ttl := c.URLExpiry * 4 / 5
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}
