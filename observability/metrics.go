package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"poolchain/native/common"
)

type runtimeMetrics struct {
	calls   *prometheus.CounterVec
	errors  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

var (
	runtimeMetricsOnce sync.Once
	runtimeRegistry    *runtimeMetrics
)

// Runtime returns the lazily-initialised registry recording calls executed by
// the runtime.
func Runtime() *runtimeMetrics {
	runtimeMetricsOnce.Do(func() {
		runtimeRegistry = &runtimeMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "poolchain",
				Subsystem: "runtime",
				Name:      "calls_total",
				Help:      "Total executed operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "poolchain",
				Subsystem: "runtime",
				Name:      "errors_total",
				Help:      "Rejected operations segmented by operation and reason code.",
			}, []string{"operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "poolchain",
				Subsystem: "runtime",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for executed operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			runtimeRegistry.calls,
			runtimeRegistry.errors,
			runtimeRegistry.latency,
		)
	})
	return runtimeRegistry
}

// Observe records the outcome of one operation. Errors are labelled with
// their reason code, or "internal" when they carry none.
func (m *runtimeMetrics) Observe(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		code := common.Code(err)
		if code == "" {
			code = "internal"
		}
		m.errors.WithLabelValues(operation, code).Inc()
	}
	m.calls.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}
