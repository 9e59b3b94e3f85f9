package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	HTTPAddr        string
	NATSURL         string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool

	set map[string]bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config", os.Getenv("PUMPBRIDGE_CONFIG"),
		"Path to YAML or JSON configuration file (env: PUMPBRIDGE_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", os.Getenv("PUMPBRIDGE_CONFIG"),
		"Path to configuration file (shorthand)")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "Log format: json, text")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", "", "HTTP listen address, e.g. :8000")
	fs.StringVar(&cfg.NATSURL, "nats-url", "", "NATS server URL")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })
	return cfg, nil
}

// apply overrides file and environment values with flags given explicitly.
func (c *CLIConfig) apply(cfg *config.Config) error {
	if c.set["log-level"] {
		cfg.Log.Level = c.LogLevel
	}
	if c.set["log-format"] {
		cfg.Log.Format = c.LogFormat
	}
	if c.set["http-addr"] {
		cfg.HTTP.Addr = c.HTTPAddr
	}
	if c.set["nats-url"] {
		cfg.NATS.URL = c.NATSURL
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", c.ShutdownTimeout)
	}
	return cfg.Validate()
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - HTTP and WebSocket front for the pump rig

Accepts pump commands over HTTP and publishes them on pump/<id>/command.
Streams pump/<id>/status events to WebSocket clients on /ws.

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  %s --config=configs/pumpbridge.yaml
  %s --http-addr=:8080 --log-format=text
  curl -X POST localhost:8000/pump/1/command -d '{"enable":true,"rpm":100}'

Version: %s
`, os.Args[0], os.Args[0], Version)
}
