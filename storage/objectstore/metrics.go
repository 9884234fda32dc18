package objectstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xmx0632/photoshow/metric"
)

// storeMetrics holds Prometheus metrics for object store operations.
type storeMetrics struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func newStoreMetrics(registry *metric.MetricsRegistry, bucket string) (*storeMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &storeMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "photoshow",
			Subsystem:   "objectstore",
			Name:        "operations_total",
			Help:        "Object store operations by outcome",
			ConstLabels: prometheus.Labels{"bucket": bucket},
		}, []string{"operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "photoshow",
			Subsystem:   "objectstore",
			Name:        "operation_duration_seconds",
			Help:        "Object store operation latency",
			ConstLabels: prometheus.Labels{"bucket": bucket},
			Buckets:     prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	if err := registry.RegisterCounterVec("objectstore", bucket+"_operations", m.ops); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("objectstore", bucket+"_latency", m.latency); err != nil {
		registry.Unregister("objectstore", bucket+"_operations")
		return nil, err
	}
	return m, nil
}

func (m *storeMetrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ops.WithLabelValues(operation, status).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
