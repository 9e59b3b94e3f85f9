// Package metric provides the Prometheus registry and metrics HTTP server
// used by the pumpbridge and pumpapi processes.
//
// A MetricsRegistry carries the process metrics (build info, component
// health, NATS connection state) and lets components register their own
// collectors under a service name:
//
//	registry := metric.NewMetricsRegistry()
//	if err := registry.Register("bridge", "commands_total", commands); err != nil {
//	    return err
//	}
//
//	srv := metric.NewServer(":9090", "/metrics", registry)
//	srv.Handle("/healthz", monitor.Handler())
//	go srv.Start()
//
// Components accept a nil registry and then skip metrics entirely.
package metric
