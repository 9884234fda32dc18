package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/gateway"
	"github.com/xmx0632/photoshow/generation"
	"github.com/xmx0632/photoshow/imagecache"
	"github.com/xmx0632/photoshow/pkg/retry"
	"github.com/xmx0632/photoshow/storage/cachestore"
	"github.com/xmx0632/photoshow/storage/objectstore"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PHOTOSHOW"

// Config is the complete photoshow configuration.
type Config struct {
	Cache      CacheConfig        `json:"cache" mapstructure:"cache"`
	NATS       NATSConfig         `json:"nats" mapstructure:"nats"`
	Generation GenerationConfig   `json:"generation" mapstructure:"generation"`
	Storage    objectstore.Config `json:"storage" mapstructure:"storage"`
	Database   DatabaseConfig     `json:"database" mapstructure:"database"`
	Server     gateway.Config     `json:"server" mapstructure:"server"`
	Log        LogConfig          `json:"log" mapstructure:"log"`
}

// CacheConfig configures the image cache and its backing store.
type CacheConfig struct {
	// Backend is "file" or "external-kv".
	Backend         string        `json:"backend" mapstructure:"backend"`
	SnapshotPath    string        `json:"snapshot_path" mapstructure:"snapshot_path"`
	MemoryTTL       time.Duration `json:"memory_ttl" mapstructure:"memory_ttl"`
	KVTTL           time.Duration `json:"kv_ttl" mapstructure:"kv_ttl"`
	ExpireMinutes   int           `json:"expire_minutes" mapstructure:"expire_minutes"`
	RefreshInterval time.Duration `json:"refresh_interval" mapstructure:"refresh_interval"`
	RefreshTimeout  time.Duration `json:"refresh_timeout" mapstructure:"refresh_timeout"`
}

// NATSConfig configures the connection used by the external-kv backend.
type NATSConfig struct {
	URL               string        `json:"url" mapstructure:"url"`
	Bucket            string        `json:"bucket" mapstructure:"bucket"`
	CounterBucket     string        `json:"counter_bucket" mapstructure:"counter_bucket"`
	Prefix            string        `json:"prefix" mapstructure:"prefix"`
	ConnectTimeout    time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	ConnectAttempts   int           `json:"connect_attempts" mapstructure:"connect_attempts"`
	ReconnectCooldown time.Duration `json:"reconnect_cooldown" mapstructure:"reconnect_cooldown"`
	Username          string        `json:"username" mapstructure:"username"`
	Password          string        `json:"password" mapstructure:"password"`
	Token             string        `json:"token" mapstructure:"token"`
}

// GenerationConfig configures the daily quota and the image provider.
type GenerationConfig struct {
	DailyLimit int64         `json:"daily_limit" mapstructure:"daily_limit"`
	Retention  time.Duration `json:"retention" mapstructure:"retention"`
	// Timezone names the location where a quota day starts, e.g.
	// "Asia/Tokyo". Empty means the local zone.
	Timezone string `json:"timezone" mapstructure:"timezone"`
	// Endpoint is the base URL of an OpenAI-compatible image API.
	Endpoint string        `json:"endpoint" mapstructure:"endpoint"`
	APIKey   string        `json:"api_key" mapstructure:"api_key"`
	Model    string        `json:"model" mapstructure:"model"`
	Size     string        `json:"size" mapstructure:"size"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxBytes int64         `json:"max_bytes" mapstructure:"max_bytes"`
	Attempts int           `json:"attempts" mapstructure:"attempts"`
}

// DatabaseConfig configures the metadata database. An empty path disables
// it.
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	store := cachestore.DefaultConfig()
	return &Config{
		Cache: CacheConfig{
			Backend:         store.Backend,
			SnapshotPath:    store.SnapshotPath,
			MemoryTTL:       imagecache.DefaultMemoryTTL,
			KVTTL:           store.EnvelopeTTL,
			ExpireMinutes:   60,
			RefreshInterval: imagecache.DefaultRefreshInterval,
			RefreshTimeout:  time.Minute,
		},
		NATS: NATSConfig{
			URL:               "nats://localhost:4222",
			Bucket:            store.Bucket,
			CounterBucket:     store.CounterBucket,
			Prefix:            store.Prefix,
			ConnectTimeout:    store.ConnectTimeout,
			ConnectAttempts:   store.ConnectAttempts,
			ReconnectCooldown: store.ReconnectCooldown,
		},
		Generation: GenerationConfig{
			DailyLimit: generation.DefaultDailyLimit,
			Retention:  generation.DefaultRetention,
			Timeout:    90 * time.Second,
			MaxBytes:   20 << 20,
			Attempts:   3,
		},
		Storage:  objectstore.DefaultConfig(),
		Database: DatabaseConfig{Path: "data/metadata.db"},
		Server:   gateway.DefaultConfig(),
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := c.CacheStore().Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "cache")
	}
	if c.Cache.ExpireMinutes <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "cache.expire_minutes must be positive")
	}
	if c.Cache.MemoryTTL < 0 || c.Cache.RefreshInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "cache durations cannot be negative")
	}
	if c.Cache.Backend == cachestore.BackendExternalKV && c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats.url is required for external-kv")
	}
	if c.Generation.DailyLimit <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "generation.daily_limit must be positive")
	}
	if _, err := c.Location(); err != nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("generation.timezone: %v", err))
	}
	if err := c.Storage.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "storage")
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", err.Error())
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}
	return nil
}

// CacheStore returns the backing store configuration.
func (c *Config) CacheStore() cachestore.Config {
	store := cachestore.DefaultConfig()
	store.Backend = c.Cache.Backend
	store.SnapshotPath = c.Cache.SnapshotPath
	store.EnvelopeTTL = c.Cache.KVTTL
	store.CounterTTL = c.Generation.Retention
	store.Bucket = c.NATS.Bucket
	store.CounterBucket = c.NATS.CounterBucket
	store.Prefix = c.NATS.Prefix
	store.ConnectTimeout = c.NATS.ConnectTimeout
	store.ConnectAttempts = c.NATS.ConnectAttempts
	store.ReconnectCooldown = c.NATS.ReconnectCooldown
	return store
}

// Location returns the location where a quota day starts.
func (c *Config) Location() (*time.Location, error) {
	if c.Generation.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Generation.Timezone)
}

// Provider returns the HTTP provider configuration. It reports false when
// no endpoint is configured.
func (c *Config) Provider() (generation.HTTPConfig, bool) {
	if c.Generation.Endpoint == "" {
		return generation.HTTPConfig{}, false
	}
	rc := retry.DefaultConfig()
	if c.Generation.Attempts > 0 {
		rc.MaxAttempts = c.Generation.Attempts
	}
	return generation.HTTPConfig{
		Endpoint: c.Generation.Endpoint,
		APIKey:   c.Generation.APIKey,
		Model:    c.Generation.Model,
		Size:     c.Generation.Size,
		Timeout:  c.Generation.Timeout,
		MaxBytes: c.Generation.MaxBytes,
		Retry:    rc,
	}, true
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", l.Level)
}

// String renders the configuration with secrets masked.
func (c *Config) String() string {
	masked := *c
	masked.Storage.SecretKey = mask(masked.Storage.SecretKey)
	masked.Generation.APIKey = mask(masked.Generation.APIKey)
	masked.NATS.Password = mask(masked.NATS.Password)
	masked.NATS.Token = mask(masked.NATS.Token)
	return fmt.Sprintf("%+v", masked)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// setDefaults registers every default with v so that environment variables
// can override keys no file mentions.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.snapshot_path", d.Cache.SnapshotPath)
	v.SetDefault("cache.memory_ttl", d.Cache.MemoryTTL)
	v.SetDefault("cache.kv_ttl", d.Cache.KVTTL)
	v.SetDefault("cache.expire_minutes", d.Cache.ExpireMinutes)
	v.SetDefault("cache.refresh_interval", d.Cache.RefreshInterval)
	v.SetDefault("cache.refresh_timeout", d.Cache.RefreshTimeout)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.bucket", d.NATS.Bucket)
	v.SetDefault("nats.counter_bucket", d.NATS.CounterBucket)
	v.SetDefault("nats.prefix", d.NATS.Prefix)
	v.SetDefault("nats.connect_timeout", d.NATS.ConnectTimeout)
	v.SetDefault("nats.connect_attempts", d.NATS.ConnectAttempts)
	v.SetDefault("nats.reconnect_cooldown", d.NATS.ReconnectCooldown)
	v.SetDefault("nats.username", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.token", "")

	v.SetDefault("generation.daily_limit", d.Generation.DailyLimit)
	v.SetDefault("generation.retention", d.Generation.Retention)
	v.SetDefault("generation.timezone", d.Generation.Timezone)
	v.SetDefault("generation.endpoint", d.Generation.Endpoint)
	v.SetDefault("generation.api_key", d.Generation.APIKey)
	v.SetDefault("generation.model", d.Generation.Model)
	v.SetDefault("generation.size", d.Generation.Size)
	v.SetDefault("generation.timeout", d.Generation.Timeout)
	v.SetDefault("generation.max_bytes", d.Generation.MaxBytes)
	v.SetDefault("generation.attempts", d.Generation.Attempts)

	v.SetDefault("storage.endpoint", d.Storage.Endpoint)
	v.SetDefault("storage.access_key", d.Storage.AccessKey)
	v.SetDefault("storage.secret_key", d.Storage.SecretKey)
	v.SetDefault("storage.bucket", d.Storage.Bucket)
	v.SetDefault("storage.use_ssl", d.Storage.UseSSL)
	v.SetDefault("storage.region", d.Storage.Region)
	v.SetDefault("storage.prefix", d.Storage.Prefix)
	v.SetDefault("storage.url_expiry", d.Storage.URLExpiry)
	v.SetDefault("storage.url_cache_size", d.Storage.URLCacheSize)
	v.SetDefault("storage.quota_bytes", d.Storage.QuotaBytes)
	v.SetDefault("storage.warn_fraction", d.Storage.WarnFraction)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.enable_cors", d.Server.EnableCORS)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.max_request_size", d.Server.MaxRequestSize)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.generate_timeout", d.Server.GenerateTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	v.SetDefault("server.rate_limit.requests", d.Server.RateLimit.Requests)
	v.SetDefault("server.rate_limit.window", d.Server.RateLimit.Window)
	v.SetDefault("server.rate_limit.burst", d.Server.RateLimit.Burst)
	v.SetDefault("server.rate_limit.max_clients", d.Server.RateLimit.MaxClients)
	v.SetDefault("server.rate_limit.idle_ttl", d.Server.RateLimit.IdleTTL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
