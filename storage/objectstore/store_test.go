package objectstore

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmx0632/photoshow/errors"
	"github.com/xmx0632/photoshow/metric"
)

func newOfflineStore(t *testing.T, registry *metric.MetricsRegistry) *Store {
	t.Helper()
	cfg := DefaultConfig()
	client, err := NewClient(cfg)
	require.NoError(t, err)
	s, err := New(client, cfg, nil, registry)
	require.NoError(t, err)
	return s
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults", func(*Config) {}, nil},
		{"missing bucket", func(c *Config) { c.Bucket = "" }, errors.ErrMissingConfig},
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }, errors.ErrMissingConfig},
		{"expiry too short", func(c *Config) { c.URLExpiry = time.Millisecond }, errors.ErrInvalidConfig},
		{"expiry too long", func(c *Config) { c.URLExpiry = 8 * 24 * time.Hour }, errors.ErrInvalidConfig},
		{"warn fraction", func(c *Config) { c.WarnFraction = 1.5 }, errors.ErrInvalidConfig},
		{"negative quota", func(c *Config) { c.QuotaBytes = -1 }, errors.ErrInvalidConfig},
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

func TestKeyAddsPrefixOnce(t *testing.T) {
	s := newOfflineStore(t, nil)

	assert.Equal(t, "images/a.png", s.Key("a.png"))
	assert.Equal(t, "images/a.png", s.Key("images/a.png"))
	assert.Equal(t, "images/", s.Prefix())
}

func TestURLIsPresignedAndCached(t *testing.T) {
	s := newOfflineStore(t, nil)
	ctx := context.Background()

	first, err := s.URL(ctx, "cat.png")
	require.NoError(t, err)

	u, err := url.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, "/images/images/cat.png", u.Path)
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))

	second, err := s.URL(ctx, "images/cat.png")
	require.NoError(t, err)
	assert.Equal(t, first, second, "cached URL should be reused")
}

func TestMetadataEncoding(t *testing.T) {
	encoded := encodeMetadata(map[string]string{"Prompt": "a cat, 猫", "tags": "a,b"})
	assert.Equal(t, "a+cat%2C+%E7%8C%AB", encoded["prompt"])

	headers := map[string]string{
		"X-Amz-Meta-Prompt": encoded["prompt"],
		"X-Amz-Meta-Tags":   encoded["tags"],
		"Content-Type":      "image/png",
	}
	decoded := decodeMetadata(headers)
	assert.Equal(t, "a cat, 猫", decoded["prompt"])
	assert.Equal(t, "a,b", decoded["tags"])
	assert.Equal(t, "image/png", decoded["content-type"])

	assert.Nil(t, encodeMetadata(nil))
}

func TestMetricsRegistration(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s := newOfflineStore(t, registry)

	s.metrics.observe("put", time.Now(), nil)
	s.metrics.observe("put", time.Now(), errors.ErrStorageUnavailable)

	count, err := testutil.GatherAndCount(registry.PrometheusRegistry(), "photoshow_objectstore_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	cfg := DefaultConfig()
	client, err := NewClient(cfg)
	require.NoError(t, err)
	_, err = New(client, cfg, nil, registry)
	assert.Error(t, err, "same bucket registers twice")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	client, err := NewClient(cfg)
	require.NoError(t, err)

	cfg.Bucket = ""
	_, err = New(client, cfg, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.True(t, strings.Contains(err.Error(), "objectstore"))
}
