package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Read tiers reported by CacheReads.
const (
	TierMemory  = "memory"
	TierStore   = "store"
	TierStale   = "stale"
	TierDefault = "default"
)

// Metrics contains the photoshow core metrics. All Record methods are safe
// on a nil receiver so components can run without a registry.
type Metrics struct {
	CacheReads       *prometheus.CounterVec
	StoreFallbacks   *prometheus.CounterVec
	StoreWriteErrors *prometheus.CounterVec
	RefreshRuns      *prometheus.CounterVec
	RefreshDuration  prometheus.Histogram
	Generations      *prometheus.CounterVec
	LimitRejections  prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	NATSConnected    prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		CacheReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "photoshow",
				Subsystem: "cache",
				Name:      "reads_total",
				Help:      "Cache status reads by the tier that served them",
			},
			[]string{"tier"},
		),

		StoreFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "photoshow",
				Subsystem: "store",
				Name:      "fallbacks_total",
				Help:      "Backing store operations served by the memory mirror",
			},
			[]string{"backend", "operation"},
		),

		StoreWriteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "photoshow",
				Subsystem: "store",
				Name:      "write_errors_total",
				Help:      "Backing store writes that failed against the primary tier",
			},
			[]string{"backend", "operation"},
		),

		RefreshRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "photoshow",
				Subsystem: "refresh",
				Name:      "runs_total",
				Help:      "Cache refresh runs by outcome",
			},
			[]string{"status"},
		),

		RefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "photoshow",
				Subsystem: "refresh",
				Name:      "duration_seconds",
				Help:      "Cache refresh duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		Generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "photoshow",
				Subsystem: "generation",
				Name:      "total",
				Help:      "Image generation attempts by outcome",
			},
			[]string{"status"},
		),

		LimitRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "photoshow",
				Subsystem: "generation",
				Name:      "limit_rejections_total",
				Help:      "Generation requests rejected by the daily quota",
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "photoshow",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "photoshow",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "photoshow",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

func (c *Metrics) register(reg *prometheus.Registry) {
	reg.MustRegister(
		c.CacheReads,
		c.StoreFallbacks,
		c.StoreWriteErrors,
		c.RefreshRuns,
		c.RefreshDuration,
		c.Generations,
		c.LimitRejections,
		c.HTTPRequests,
		c.HTTPDuration,
		c.NATSConnected,
	)
}

// RecordCacheRead counts a status read served by tier
func (c *Metrics) RecordCacheRead(tier string) {
	if c == nil {
		return
	}
	c.CacheReads.WithLabelValues(tier).Inc()
}

// RecordStoreFallback counts an operation answered by the memory mirror
func (c *Metrics) RecordStoreFallback(backend, operation string) {
	if c == nil {
		return
	}
	c.StoreFallbacks.WithLabelValues(backend, operation).Inc()
}

// RecordStoreWriteError counts a failed primary write
func (c *Metrics) RecordStoreWriteError(backend, operation string) {
	if c == nil {
		return
	}
	c.StoreWriteErrors.WithLabelValues(backend, operation).Inc()
}

// RecordRefresh records one refresh run
func (c *Metrics) RecordRefresh(ok bool, duration time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	c.RefreshRuns.WithLabelValues(status).Inc()
	c.RefreshDuration.Observe(duration.Seconds())
}

// RecordGeneration records a generation attempt outcome
func (c *Metrics) RecordGeneration(status string) {
	if c == nil {
		return
	}
	c.Generations.WithLabelValues(status).Inc()
}

// RecordLimitRejection counts a request refused by the daily quota
func (c *Metrics) RecordLimitRejection() {
	if c == nil {
		return
	}
	c.LimitRejections.Inc()
}

// RecordHTTPRequest records an HTTP request
func (c *Metrics) RecordHTTPRequest(route, code string, duration time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(route, code).Inc()
	c.HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}
