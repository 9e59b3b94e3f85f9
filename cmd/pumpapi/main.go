// Package main runs pumpapi, the external face of the pump rig: the HTTP
// command gateway, the realtime status WebSocket and the profile runner.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/config"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/fanout"
	gatewayhttp "github.com/sunon4/CGM-test-rig-ICL-Bioeng/gateway/http"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/health"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/natsclient"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/profile"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "pumpapi"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(args)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cli.apply(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.Log.NewLogger(os.Stdout, "service", appName, "version", Version, "pid", os.Getpid())
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	logger.Info("Starting pumpapi", "config_path", cli.ConfigPath, "http_addr", cfg.HTTP.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	registry.CoreMetrics().RecordBuildInfo(appName, Version)
	monitor := health.NewMonitor(appName)

	client, err := connectToNATS(ctx, cfg, logger, registry)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()
	monitor.Register("nats", client)

	hub := fanout.NewHub(fanout.Config{
		QueueSize:   cfg.Fanout.QueueSize,
		SendTimeout: cfg.Fanout.SendTimeout,
	}, fanout.WithLogger(logger), fanout.WithMetrics(registry))
	defer hub.Close()
	if _, err := hub.Attach(ctx, client); err != nil {
		return fmt.Errorf("attach fanout: %w", err)
	}
	monitor.Register("fanout", hub)

	runner, err := newRunner(cfg, client, logger, registry)
	if err != nil {
		return err
	}

	origins := cfg.Fanout.AllowedOrigins
	if len(origins) == 0 && cfg.Gateway.EnableCORS {
		origins = cfg.Gateway.CORSOrigins
	}
	realtime := fanout.NewHandler(hub,
		fanout.WithPingInterval(cfg.Fanout.PingInterval),
		fanout.WithWriteTimeout(cfg.Fanout.WriteTimeout),
		fanout.WithAllowedOrigins(origins))

	gwOpts := []gatewayhttp.Option{
		gatewayhttp.WithLogger(logger),
		gatewayhttp.WithMetrics(registry),
		gatewayhttp.WithProfiles(runner),
		gatewayhttp.WithRealtime(realtime),
		gatewayhttp.WithHealth(monitor.Handler()),
	}
	if store, err := natsclient.OpenStateStore(ctx, client, cfg.NATS.StateBucket); err != nil {
		logger.Warn("Device state store unavailable, /pump/{id}/state disabled",
			"error", err, "kind", errors.Kind(err))
	} else {
		gwOpts = append(gwOpts, gatewayhttp.WithStateReader(store))
	}

	gw, err := gatewayhttp.NewGateway(cfg.Gateway, client, cfg.PumpDevices(), gwOpts...)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.WrapFatal(err, "pumpapi", "run", "listen on "+cfg.HTTP.Addr)
		}
		return nil
	})

	var metricsServer *metric.Server
	if cfg.Metrics.Addr != "" {
		metricsServer = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
		metricsServer.Handle("/healthz", monitor.Handler())
		g.Go(metricsServer.Start)
	}

	<-gctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
	defer cancel()

	if name, active := runner.Active(); active {
		logger.Info("Stopping active profile", "profile", name)
		if err := runner.Stop(shutdownCtx); err != nil {
			logger.Warn("Profile stop did not reach every pump", "error", err)
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server stop failed", "error", err)
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("pumpapi shutdown complete")
	return nil
}

func newRunner(
	cfg *config.Config,
	client *natsclient.Client,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*profile.Runner, error) {
	runner := profile.NewRunner(client, cfg.PumpDevices(),
		profile.WithLogger(logger),
		profile.WithMetrics(registry),
		profile.WithPublishTimeout(cfg.Gateway.PublishTimeout))

	profiles, err := cfg.BuildProfiles()
	if err != nil {
		return nil, fmt.Errorf("build profiles: %w", err)
	}
	for _, p := range profiles {
		if err := runner.Register(p); err != nil {
			return nil, fmt.Errorf("register profile %s: %w", p.Name, err)
		}
	}
	return runner, nil
}

// connectToNATS dials the bus, retrying per nats.connect_retry while the
// broker comes up.
func connectToNATS(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*natsclient.Client, error) {
	core := registry.CoreMetrics()
	client, err := natsclient.Dial(ctx, cfg.NATS.URL, cfg.NATS.ConnectRetry.Policy(),
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(registry),
		natsclient.WithReconnect(cfg.NATS.MaxReconnects, cfg.NATS.ReconnectWait),
		natsclient.WithTimeout(cfg.NATS.ConnectTimeout),
		natsclient.WithAuth(natsclient.Auth{
			User:     cfg.NATS.Username,
			Password: cfg.NATS.Password,
			Token:    cfg.NATS.Token,
		}),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			core.RecordHealthStatus("nats", healthy)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return client, nil
}
