package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HealthMonitor tracks the metric pipeline's own health and exports it
// through Prometheus.
type HealthMonitor struct {
	bufferUsage  prometheus.Gauge
	droppedTotal prometheus.Gauge
	writeLatency prometheus.Histogram
	writeErrors  prometheus.Counter

	lastFlushNanos atomic.Int64
	errorCount     atomic.Uint64
}

// NewHealthMonitor creates a monitor and registers its collectors. A nil
// registerer uses the default registry.
func NewHealthMonitor(reg prometheus.Registerer) *HealthMonitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &HealthMonitor{
		bufferUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "servo_metric_buffer_usage_ratio",
			Help: "Fraction of the metric ring buffer currently occupied",
		}),
		droppedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "servo_metric_events_dropped_total",
			Help: "Cumulative metric events dropped due to a full buffer",
		}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "servo_metric_write_latency_seconds",
			Help:    "Latency of metric batch persistence",
			Buckets: prometheus.DefBuckets,
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servo_metric_write_errors_total",
			Help: "Cumulative metric batch persistence failures",
		}),
	}

	reg.MustRegister(m.bufferUsage, m.droppedTotal, m.writeLatency, m.writeErrors)
	return m
}

// ObserveBuffer records current buffer occupancy and drop count.
func (m *HealthMonitor) ObserveBuffer(usage float64, dropped uint64) {
	m.bufferUsage.Set(usage)
	m.droppedTotal.Set(float64(dropped))
}

// ObserveFlush records a successful batch persistence.
func (m *HealthMonitor) ObserveFlush(latency time.Duration) {
	m.writeLatency.Observe(latency.Seconds())
	m.lastFlushNanos.Store(time.Now().UnixNano())
}

// ObserveError records a persistence failure.
func (m *HealthMonitor) ObserveError() {
	m.writeErrors.Inc()
	m.errorCount.Add(1)
}

// ErrorCount returns cumulative persistence failures.
func (m *HealthMonitor) ErrorCount() uint64 {
	return m.errorCount.Load()
}

// LastFlush returns the time of the most recent successful flush.
func (m *HealthMonitor) LastFlush() time.Time {
	nanos := m.lastFlushNanos.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
