// Components expose a Health method returning a Status. A Monitor collects
// them per process and serves the aggregate:
//
//	monitor := health.NewMonitor("pumpbridge")
//	monitor.Register("serial", channel)
//	monitor.Register("nats", health.CheckerFunc(natsHealth))
//	mux.Handle("/healthz", monitor.Handler())
package health
