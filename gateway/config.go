// Package gateway holds the configuration of the HTTP API. The server
// itself lives in gateway/http.
package gateway

import (
	"time"

	"github.com/xmx0632/photoshow/errors"
)

// RateLimit configures the per-client request limit.
type RateLimit struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// Requests are allowed per Window once the burst is spent.
	Requests int           `json:"requests" mapstructure:"requests"`
	Window   time.Duration `json:"window" mapstructure:"window"`
	Burst    int           `json:"burst" mapstructure:"burst"`
	// MaxClients bounds the number of tracked client addresses.
	MaxClients int `json:"max_clients" mapstructure:"max_clients"`
	// IdleTTL drops limiters of clients not seen for this long.
	IdleTTL time.Duration `json:"idle_ttl" mapstructure:"idle_ttl"`
}

// PerSecond returns the steady request rate.
func (r RateLimit) PerSecond() float64 {
	if r.Window <= 0 {
		return float64(r.Requests)
	}
	return float64(r.Requests) / r.Window.Seconds()
}

// Config holds configuration for the HTTP API.
type Config struct {
	Addr string `json:"addr" mapstructure:"addr"`

	// EnableCORS enables CORS headers; it requires explicit CORSOrigins.
	EnableCORS  bool     `json:"enable_cors" mapstructure:"enable_cors"`
	CORSOrigins []string `json:"cors_origins,omitempty" mapstructure:"cors_origins"`

	// MaxRequestSize limits request body size in bytes.
	MaxRequestSize int64 `json:"max_request_size,omitempty" mapstructure:"max_request_size"`
	// RequestTimeout bounds handler work; generation gets GenerateTimeout.
	RequestTimeout  time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	GenerateTimeout time.Duration `json:"generate_timeout" mapstructure:"generate_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	RateLimit RateLimit `json:"rate_limit" mapstructure:"rate_limit"`
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		CORSOrigins:     []string{},
		MaxRequestSize:  10 * 1024 * 1024,
		RequestTimeout:  15 * time.Second,
		GenerateTimeout: 2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		RateLimit: RateLimit{
			Enabled:    true,
			Requests:   20,
			Window:     time.Second,
			Burst:      50,
			MaxClients: 10000,
			IdleTTL:    5 * time.Minute,
		},
	}
}

// Validate ensures the gateway configuration is valid
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "server addr is required")
	}
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 10 * 1024 * 1024
	}
	if c.MaxRequestSize > 100*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 100MB")
	}
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Burst <= 0) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit requests and burst must be positive")
	}
	return nil
}
