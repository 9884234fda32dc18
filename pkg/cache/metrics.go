package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xmx0632/photoshow/metric"
)

// cacheMetrics mirrors Statistics into Prometheus. The prefix becomes the
// "layer" const label so several memory layers can share one registry.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "photoshow",
			Subsystem:   "memory_cache",
			Name:        name,
			ConstLabels: prometheus.Labels{"layer": prefix},
			Help:        help,
		})
	}

	m := &cacheMetrics{
		hits:      counter("hits_total", "Total number of memory cache hits"),
		misses:    counter("misses_total", "Total number of memory cache misses"),
		sets:      counter("sets_total", "Total number of memory cache set operations"),
		deletes:   counter("deletes_total", "Total number of memory cache delete operations"),
		evictions: counter("evictions_total", "Total number of memory cache expiries"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "photoshow",
			Subsystem:   "memory_cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"layer": prefix},
			Help:        "Current number of entries in the memory cache",
		}),
	}

	counters := map[string]prometheus.Counter{
		"cache_hits":      m.hits,
		"cache_misses":    m.misses,
		"cache_sets":      m.sets,
		"cache_deletes":   m.deletes,
		"cache_evictions": m.evictions,
	}
	for name, c := range counters {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *cacheMetrics) recordHit()       { m.hits.Inc() }
func (m *cacheMetrics) recordMiss()      { m.misses.Inc() }
func (m *cacheMetrics) recordSet()       { m.sets.Inc() }
func (m *cacheMetrics) recordDelete()    { m.deletes.Inc() }
func (m *cacheMetrics) recordEviction()  { m.evictions.Inc() }
func (m *cacheMetrics) updateSize(n int) { m.size.Set(float64(n)) }
