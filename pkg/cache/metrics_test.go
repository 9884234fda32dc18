package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmx0632/photoshow/metric"
)

func TestCacheMetricsIntegration(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	c, err := NewTTL[string](context.Background(), time.Minute, 0,
		WithMetrics[string](registry, "images"))
	require.NoError(t, err)
	defer c.Close()

	_, _ = c.Set("key1", "value1")
	_, _ = c.Get("key1")
	_, _ = c.Get("key3")

	count, err := testutil.GatherAndCount(registry.PrometheusRegistry(),
		"photoshow_memory_cache_hits_total", "photoshow_memory_cache_misses_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A second layer with a distinct prefix registers cleanly
	c2, err := NewTTL[bool](context.Background(), time.Minute, 0,
		WithMetrics[bool](registry, "initialized"))
	require.NoError(t, err)
	defer c2.Close()

	// Reusing a prefix is rejected
	_, err = NewTTL[string](context.Background(), time.Minute, 0,
		WithMetrics[string](registry, "images"))
	assert.Error(t, err)
}

func TestWithMetrics_NilRegistryIgnored(t *testing.T) {
	c, err := NewTTL[string](context.Background(), time.Minute, 0,
		WithMetrics[string](nil, "images"))
	require.NoError(t, err)
	defer c.Close()

	_, _ = c.Set("k", "v")
	assert.Equal(t, 1, c.Size())
}
