package metric

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmx0632/photoshow/errors"
)

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total", Help: "test"})
	require.NoError(t, registry.RegisterCounter("limiter", "test_counter", counter))

	err := registry.RegisterCounter("limiter", "test_counter", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, registry.Unregister("limiter", "test_counter"))
	assert.False(t, registry.Unregister("limiter", "test_counter"))
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	g1 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "test"})
	g2 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "test"})

	require.NoError(t, registry.RegisterGauge("a", "dup", g1))
	err := registry.RegisterGauge("b", "dup", g2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestCoreMetrics_Record(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordCacheRead(TierMemory)
	m.RecordCacheRead(TierMemory)
	m.RecordStoreFallback("external-kv", "get_all")
	m.RecordRefresh(true, 10*time.Millisecond)
	m.RecordLimitRejection()
	m.RecordNATSStatus(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheReads.WithLabelValues(TierMemory)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreFallbacks.WithLabelValues("external-kv", "get_all")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshRuns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LimitRejections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
}

func TestCoreMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCacheRead(TierStore)
		m.RecordGeneration("ok")
		m.RecordHTTPRequest("/x", "200", time.Second)
	})

	var registry *MetricsRegistry
	assert.Nil(t, registry.CoreMetrics())
}

func TestMetricsRegistry_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordGeneration("ok")

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "photoshow_generation_total")
}
