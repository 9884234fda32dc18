package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xmx0632/photoshow/errors"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults", func(*Config) {}, nil},
		{"no addr", func(c *Config) { c.Addr = "" }, errors.ErrMissingConfig},
		{"negative size", func(c *Config) { c.MaxRequestSize = -1 }, errors.ErrInvalidConfig},
		{"huge size", func(c *Config) { c.MaxRequestSize = 200 << 20 }, errors.ErrInvalidConfig},
		{"cors without origins", func(c *Config) { c.EnableCORS = true }, errors.ErrInvalidConfig},
		{"zero burst", func(c *Config) { c.RateLimit.Burst = 0 }, errors.ErrInvalidConfig},
		{"rate limit disabled", func(c *Config) { c.RateLimit = RateLimit{} }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestZeroSizeGetsDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRequestSize = 0
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, int64(10<<20), cfg.MaxRequestSize)
}

func TestPerSecond(t *testing.T) {
	assert.Equal(t, 2.0, RateLimit{Requests: 120, Window: time.Minute}.PerSecond())
	assert.Equal(t, 5.0, RateLimit{Requests: 5}.PerSecond())
}
