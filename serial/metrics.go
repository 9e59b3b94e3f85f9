package serial

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
)

type channelMetrics struct {
	bytesWritten   prometheus.Counter
	linesRead      prometheus.Counter
	linesDiscarded prometheus.Counter
}

// newChannelMetrics returns nil for a nil registry; every recorder is nil safe.
func newChannelMetrics(registry *metric.MetricsRegistry) *channelMetrics {
	if registry == nil {
		return nil
	}

	m := &channelMetrics{
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "serial",
			Name:      "bytes_written_total",
			Help:      "Bytes written to the serial port",
		}),
		linesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "serial",
			Name:      "lines_read_total",
			Help:      "Non-empty lines read from the serial port",
		}),
		linesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "serial",
			Name:      "discarded_lines_total",
			Help:      "Unsolicited or oversized lines dropped before an exchange",
		}),
	}

	_ = registry.Register("serial", "bytes_written_total", m.bytesWritten)
	_ = registry.Register("serial", "lines_read_total", m.linesRead)
	_ = registry.Register("serial", "discarded_lines_total", m.linesDiscarded)
	return m
}

func (m *channelMetrics) written(n int) {
	if m != nil {
		m.bytesWritten.Add(float64(n))
	}
}

func (m *channelMetrics) lineRead() {
	if m != nil {
		m.linesRead.Inc()
	}
}

func (m *channelMetrics) discarded() {
	if m != nil {
		m.linesDiscarded.Inc()
	}
}
