package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
)

type bridgeMetrics struct {
	commands         *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	deviceStates     *prometheus.GaugeVec
	publishFailures  prometheus.Counter
	saveFailures     prometheus.Counter
}

func newBridgeMetrics(registry *metric.MetricsRegistry) *bridgeMetrics {
	if registry == nil {
		return nil
	}

	m := &bridgeMetrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "bridge",
			Name:      "commands_total",
			Help:      "Commands handled, by pump and outcome",
		}, []string{"pump", "outcome"}),
		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "bridge",
			Name:      "exchange_duration_seconds",
			Help:      "Serial exchange latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"pump"}),
		deviceStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "bridge",
			Name:      "device_state",
			Help:      "Exchange state per pump (0 idle, 1 sending, 2 awaiting ack, 3 acknowledged, 4 failed)",
		}, []string{"pump"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "bridge",
			Name:      "status_publish_failures_total",
			Help:      "Status events that could not be published",
		}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "bridge",
			Name:      "state_save_failures_total",
			Help:      "Device state writes that failed or were skipped after a failed load",
		}),
	}

	_ = registry.Register("bridge", "commands_total", m.commands)
	_ = registry.Register("bridge", "exchange_duration_seconds", m.exchangeDuration)
	_ = registry.Register("bridge", "device_state", m.deviceStates)
	_ = registry.Register("bridge", "status_publish_failures_total", m.publishFailures)
	_ = registry.Register("bridge", "state_save_failures_total", m.saveFailures)
	return m
}

func (m *bridgeMetrics) command(pump, outcome string) {
	if m != nil {
		m.commands.WithLabelValues(pump, outcome).Inc()
	}
}

func (m *bridgeMetrics) exchanged(pump string, d time.Duration) {
	if m != nil {
		m.exchangeDuration.WithLabelValues(pump).Observe(d.Seconds())
	}
}

func (m *bridgeMetrics) deviceState(pump string, s DeviceState) {
	if m != nil {
		m.deviceStates.WithLabelValues(pump).Set(float64(s))
	}
}

func (m *bridgeMetrics) publishFailed() {
	if m != nil {
		m.publishFailures.Inc()
	}
}

func (m *bridgeMetrics) saveFailed() {
	if m != nil {
		m.saveFailures.Inc()
	}
}
