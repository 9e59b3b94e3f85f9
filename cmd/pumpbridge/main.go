// Package main runs pumpbridge, the process attached to the pump controller's
// serial port. It consumes commands from the bus, exchanges them with the
// device one at a time and republishes acknowledged commands as status.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/bridge"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/config"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/health"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/natsclient"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/serial"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "pumpbridge"
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
	if cli.ListPorts {
		return printPorts(os.Stdout)
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

	logger.Info("Starting pumpbridge",
		"config_path", cli.ConfigPath,
		"serial_port", cfg.Serial.Port,
		"devices", cfg.Devices)

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

	ch, err := serial.Open(ctx, serial.Config{
		Port:        cfg.Serial.Port,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
		SettleDelay: cfg.Serial.SettleDelay,
	}, serial.WithLogger(logger), serial.WithMetrics(registry))
	if err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}
	defer ch.Close()

	opts := []bridge.Option{bridge.WithLogger(logger), bridge.WithMetrics(registry)}
	if store := openStateStore(ctx, client, cfg.NATS.StateBucket, logger); store != nil {
		opts = append(opts, bridge.WithStateStore(store))
	}

	b, err := bridge.New(bridge.Config{
		Devices:         cfg.PumpDevices(),
		ExchangeTimeout: cfg.Bridge.ExchangeTimeout,
		QueueSize:       cfg.Bridge.QueueSize,
		StopTimeout:     cfg.Bridge.StopTimeout,
		StateTimeout:    cfg.Bridge.StateTimeout,
	}, client, ch, opts...)
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	monitor.Register("bridge", b)

	g, gctx := errgroup.WithContext(ctx)

	var server *metric.Server
	if cfg.Metrics.Addr != "" {
		server = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
		server.Handle("/healthz", monitor.Handler())
		g.Go(server.Start)
		logger.Info("Metrics server listening", "url", server.Address())
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-ch.Failed():
			return fmt.Errorf("serial channel failed: %w", ch.Err())
		}
	})

	logger.Info("pumpbridge ready", "command_topic", pump.CommandPattern)

	<-gctx.Done()
	logger.Info("Shutting down")

	// closing the port fails a pending exchange so the worker can drain
	if err := ch.Close(); err != nil {
		logger.Warn("Serial close failed", "error", err)
	}
	if err := b.Stop(cfg.Bridge.StopTimeout); err != nil {
		logger.Warn("Bridge stop failed", "error", err)
	}
	if server != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
		defer cancel()
		if err := server.Stop(stopCtx); err != nil {
			logger.Warn("Metrics server stop failed", "error", err)
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("pumpbridge shutdown complete")
	return nil
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

// openStateStore returns nil when JetStream is unavailable; the bridge then
// runs without recording device state.
func openStateStore(ctx context.Context, client *natsclient.Client, bucket string, logger *slog.Logger) pump.StateStore {
	store, err := natsclient.OpenStateStore(ctx, client, bucket)
	if err != nil {
		logger.Warn("Device state store unavailable, continuing without it",
			"bucket", bucket, "error", err, "kind", errors.Kind(err))
		return nil
	}
	return store
}
