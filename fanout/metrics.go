package fanout

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
)

type hubMetrics struct {
	subscriberCount  prometheus.Gauge
	broadcasts       prometheus.Counter
	deliveryFailures prometheus.Counter
	droppedEvents    *prometheus.CounterVec
	upgradeFailures  prometheus.Counter
}

func newHubMetrics(registry *metric.MetricsRegistry) *hubMetrics {
	if registry == nil {
		return nil
	}

	m := &hubMetrics{
		subscriberCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Connected realtime clients",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "broadcasts_total",
			Help:      "Status events broadcast",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "delivery_failures_total",
			Help:      "Failed deliveries, each removing a subscriber",
		}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "dropped_events_total",
			Help:      "Status events dropped before broadcast",
		}, []string{"reason"}),
		upgradeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "upgrade_failures_total",
			Help:      "WebSocket handshakes that failed",
		}),
	}

	_ = registry.Register("fanout", "subscribers", m.subscriberCount)
	_ = registry.Register("fanout", "broadcasts_total", m.broadcasts)
	_ = registry.Register("fanout", "delivery_failures_total", m.deliveryFailures)
	_ = registry.Register("fanout", "dropped_events_total", m.droppedEvents)
	_ = registry.Register("fanout", "upgrade_failures_total", m.upgradeFailures)
	return m
}

func (m *hubMetrics) subscribers(n int) {
	if m != nil {
		m.subscriberCount.Set(float64(n))
	}
}

func (m *hubMetrics) broadcast() {
	if m != nil {
		m.broadcasts.Inc()
	}
}

func (m *hubMetrics) deliveryFailed() {
	if m != nil {
		m.deliveryFailures.Inc()
	}
}

func (m *hubMetrics) dropped(reason string) {
	if m != nil {
		m.droppedEvents.WithLabelValues(reason).Inc()
	}
}

func (m *hubMetrics) upgradeFailed() {
	if m != nil {
		m.upgradeFailures.Inc()
	}
}
