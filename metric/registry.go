package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
)

// Namespace prefixes every metric exported by the bridge and the API.
const Namespace = "pumpbridge"

// MetricsRegistry owns the Prometheus registry of one process. Components
// register their collectors under a service name.
type MetricsRegistry struct {
	prom *prometheus.Registry
	core *Metrics

	mu   sync.Mutex
	keys map[string]struct{}
}

// NewMetricsRegistry creates a registry holding the core process metrics
// and the Go runtime and process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom: prometheus.NewRegistry(),
		core: NewMetrics(),
		keys: make(map[string]struct{}),
	}
	r.prom.MustRegister(r.core.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying registry, for handlers and tests.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prom
}

// CoreMetrics returns the process metrics.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.core
}

// Register adds c as metric name of service. A second registration of the
// same service and name is an invalid error, as is a collision with another
// service's collector reported by Prometheus.
func (r *MetricsRegistry) Register(service, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := service + "." + name
	if _, ok := r.keys[key]; ok {
		return errors.WrapInvalid(fmt.Errorf("%s already registered", key),
			"MetricsRegistry", "Register", "check duplicate")
	}

	if err := r.prom.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register",
				fmt.Sprintf("register %s: name taken by another service", key))
		}
		return errors.WrapInvalid(err, "MetricsRegistry", "Register", fmt.Sprintf("register %s", key))
	}

	r.keys[key] = struct{}{}
	return nil
}
