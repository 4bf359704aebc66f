package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"poolchain/core/events"
)

type eventMetrics struct {
	events *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed events. It satisfies
// events.Emitter so it can be attached directly to the state manager.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "poolchain",
				Subsystem: "events",
				Name:      "committed_total",
				Help:      "Count of committed events segmented by module and type.",
			}, []string{"module", "type"}),
		}
		prometheus.MustRegister(eventRegistry.events)
	})
	return eventRegistry
}

// Emit counts a committed event.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	typ := strings.TrimSpace(evt.EventType())
	if typ == "" {
		typ = "unknown"
	}
	module := typ
	if idx := strings.Index(typ, "."); idx > 0 {
		module = typ[:idx]
	}
	m.events.WithLabelValues(module, typ).Inc()
}

var _ events.Emitter = (*eventMetrics)(nil)
