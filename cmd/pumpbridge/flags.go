package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/config"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/serial"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	SerialPort      string
	NATSURL         string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
	ListPorts       bool

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
	fs.StringVar(&cfg.SerialPort, "serial-port", "", "Serial device, e.g. /dev/ttyUSB0")
	fs.StringVar(&cfg.NATSURL, "nats-url", "", "NATS server URL")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.ListPorts, "list-ports", false, "List serial ports on this host and exit")

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
	if c.set["serial-port"] {
		cfg.Serial.Port = c.SerialPort
	}
	if c.set["nats-url"] {
		cfg.NATS.URL = c.NATSURL
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", c.ShutdownTimeout)
	}
	return cfg.Validate()
}

// printPorts writes one "port<TAB>description" line per serial port.
func printPorts(w io.Writer) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		_, err := fmt.Fprintln(w, "no serial ports found")
		return err
	}
	for _, p := range ports {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Description); err != nil {
			return err
		}
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - serial bridge for the pump rig

Owns the serial line to the pump controller. Commands arrive on
pump/<id>/command, are exchanged with the device one at a time, and
acknowledged commands are republished on pump/<id>/status.

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  %s --config=configs/pumpbridge.yaml
  PUMPBRIDGE_SERIAL_PORT=/dev/ttyACM0 %s --log-format=text
  %s --validate -c configs/pumpbridge.yaml
  %s --list-ports

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version)
}
