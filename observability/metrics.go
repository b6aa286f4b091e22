package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FarmMetrics records ledger operation activity for the Prometheus endpoint.
type FarmMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	farmMetricsOnce sync.Once
	farmRegistry    *FarmMetrics
)

// Metrics returns the lazily-initialised farm metrics registry.
func Metrics() *FarmMetrics {
	farmMetricsOnce.Do(func() {
		farmRegistry = &FarmMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gemfarm",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "gemfarm",
				Subsystem: "ledger",
				Name:      "operation_errors_total",
				Help:      "Total failed ledger operations segmented by method.",
			}, []string{"method"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "gemfarm",
				Subsystem: "ledger",
				Name:      "operation_seconds",
				Help:      "Ledger operation latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(farmRegistry.requests, farmRegistry.errors, farmRegistry.latency)
	})
	return farmRegistry
}

// Observe records one completed operation.
func (m *FarmMetrics) Observe(method string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(method).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
