package metric

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds process level metrics shared by both binaries. Component
// metrics (bridge, serial, fanout, gateway, profile) live with their components.
type Metrics struct {
	BuildInfo       *prometheus.GaugeVec
	ComponentHealth *prometheus.GaugeVec

	NATSConnected   prometheus.Gauge
	NATSRTT         prometheus.Gauge
	NATSReconnects  prometheus.Counter
	NATSCircuitOpen prometheus.Gauge
}

// NewMetrics creates the process metrics
func NewMetrics() *Metrics {
	return &Metrics{
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "build_info",
			Help:      "Always 1, labelled with the running binary and its version",
		}, []string{"service", "version", "go_version"}),
		ComponentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Component health (0=unhealthy, 1=healthy)",
		}, []string{"component"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "1 while the bus connection is up",
		}),
		NATSRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "rtt_seconds",
			Help:      "Last measured round trip to the NATS server",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Reconnections after a lost bus connection",
		}),
		NATSCircuitOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "circuit_open",
			Help:      "1 while the connect circuit breaker is open",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.BuildInfo,
		m.ComponentHealth,
		m.NATSConnected,
		m.NATSRTT,
		m.NATSReconnects,
		m.NATSCircuitOpen,
	}
}

// RecordBuildInfo publishes the build_info series for service.
func (m *Metrics) RecordBuildInfo(service, version string) {
	m.BuildInfo.WithLabelValues(service, version, runtime.Version()).Set(1)
}

// RecordHealthStatus sets the health gauge of component.
func (m *Metrics) RecordHealthStatus(component string, healthy bool) {
	m.ComponentHealth.WithLabelValues(component).Set(boolToFloat(healthy))
}

func (m *Metrics) RecordNATSStatus(connected bool) {
	m.NATSConnected.Set(boolToFloat(connected))
}

func (m *Metrics) RecordNATSRTT(rtt time.Duration) {
	m.NATSRTT.Set(rtt.Seconds())
}

func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}

func (m *Metrics) RecordCircuitOpen(open bool) {
	m.NATSCircuitOpen.Set(boolToFloat(open))
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
