package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/gateway"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pkg/retry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PUMPBRIDGE"

// Config is the configuration shared by pumpbridge and pumpapi. Each process
// reads only the sections it needs.
type Config struct {
	Version  string          `yaml:"version,omitempty"`
	Devices  []int           `yaml:"devices"`
	NATS     NATSConfig      `yaml:"nats"`
	Serial   SerialConfig    `yaml:"serial"`
	Bridge   BridgeConfig    `yaml:"bridge"`
	HTTP     HTTPConfig      `yaml:"http"`
	Gateway  gateway.Config  `yaml:"gateway"`
	Fanout   FanoutConfig    `yaml:"fanout"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Log      LogConfig       `yaml:"log"`
	Profiles []ProfileConfig `yaml:"profiles,omitempty"`
}

// NATSConfig is the bus connection.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	Token          string        `yaml:"token,omitempty"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	StateBucket    string        `yaml:"state_bucket"`
	ConnectRetry   RetryConfig   `yaml:"connect_retry"`
}

// RetryConfig is the backoff used while the broker is unreachable at
// startup. MaxRetries counts attempts after the first.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// Policy returns the retry policy for natsclient.Dial. Only transient
// connect errors are retried.
func (r RetryConfig) Policy() retry.Config {
	return errors.RetryConfig{
		MaxRetries:    r.MaxRetries,
		InitialDelay:  r.InitialDelay,
		MaxDelay:      r.MaxDelay,
		BackoffFactor: r.BackoffFactor,
	}.ToRetryConfig()
}

func defaultRetryConfig() RetryConfig {
	d := errors.DefaultRetryConfig()
	return RetryConfig{
		MaxRetries:    d.MaxRetries,
		InitialDelay:  d.InitialDelay,
		MaxDelay:      d.MaxDelay,
		BackoffFactor: d.BackoffFactor,
	}
}

// SerialConfig is the device port, used by pumpbridge only.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// BridgeConfig tunes the command worker.
type BridgeConfig struct {
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"`
	QueueSize       int           `yaml:"queue_size"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`
	StateTimeout    time.Duration `yaml:"state_timeout"`
}

// HTTPConfig is the pumpapi listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// FanoutConfig tunes the realtime hub and its WebSocket clients.
type FanoutConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins,omitempty"`
}

// MetricsConfig is the Prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration of the two pump rig.
func Default() *Config {
	return &Config{
		Devices: []int{1, 2},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			ConnectTimeout: 5 * time.Second,
			StateBucket:    "PUMP_STATE",
			ConnectRetry:   defaultRetryConfig(),
		},
		Serial: SerialConfig{
			Port:        "/dev/ttyUSB0",
			Baud:        115200,
			ReadTimeout: 100 * time.Millisecond,
			SettleDelay: 2 * time.Second,
		},
		Bridge: BridgeConfig{
			ExchangeTimeout: 2 * time.Second,
			QueueSize:       64,
			StopTimeout:     5 * time.Second,
			StateTimeout:    500 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Addr:            ":8000",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Gateway: gateway.DefaultConfig(),
		Fanout: FanoutConfig{
			QueueSize:    256,
			SendTimeout:  5 * time.Second,
			PingInterval: 30 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Addr: ":9090", Path: "/metrics"},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path means defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := readConfigFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read file")
		}
		if err := cfg.merge(data); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", fmt.Sprintf("parse %s", path))
		}
	}

	if err := cfg.ApplyEnv(envLookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML or JSON over the defaults and validates it. Environment
// variables are not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.merge(data); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge decodes data onto c. Keys absent from data keep their current value.
func (c *Config) merge(data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return nil
}

// Validate checks every section and fills zero values left by a sparse file.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return invalid("devices cannot be empty")
	}
	seen := make(map[int]bool, len(c.Devices))
	for _, id := range c.Devices {
		if id <= 0 {
			return invalid(fmt.Sprintf("device id must be positive: %d", id))
		}
		if seen[id] {
			return invalid(fmt.Sprintf("duplicate device id: %d", id))
		}
		seen[id] = true
	}

	u, err := url.Parse(c.NATS.URL)
	if err != nil || u.Host == "" {
		return invalid(fmt.Sprintf("nats.url is not a valid URL: %q", redactURL(c.NATS.URL)))
	}
	switch u.Scheme {
	case "nats", "tls", "ws", "wss":
	default:
		return invalid(fmt.Sprintf("nats.url scheme must be nats, tls, ws or wss: %q", u.Scheme))
	}
	if c.NATS.ConnectTimeout <= 0 {
		return invalid(fmt.Sprintf("nats.connect_timeout must be positive: %s", c.NATS.ConnectTimeout))
	}
	if c.NATS.ReconnectWait < 0 {
		return invalid("nats.reconnect_wait cannot be negative")
	}
	if c.NATS.StateBucket == "" {
		return invalid("nats.state_bucket cannot be empty")
	}
	retryCfg := c.NATS.ConnectRetry
	if retryCfg.MaxRetries < 0 {
		return invalid(fmt.Sprintf("nats.connect_retry.max_retries cannot be negative: %d", retryCfg.MaxRetries))
	}
	if retryCfg.InitialDelay < 0 || retryCfg.MaxDelay < retryCfg.InitialDelay {
		return invalid("nats.connect_retry needs 0 <= initial_delay <= max_delay")
	}
	if retryCfg.BackoffFactor < 1 {
		return invalid(fmt.Sprintf("nats.connect_retry.backoff_factor must be at least 1: %g", retryCfg.BackoffFactor))
	}

	if c.Serial.Port == "" {
		return invalid("serial.port cannot be empty")
	}
	if c.Serial.Baud <= 0 {
		return invalid(fmt.Sprintf("serial.baud must be positive: %d", c.Serial.Baud))
	}
	if c.Serial.SettleDelay < 0 {
		return invalid("serial.settle_delay cannot be negative")
	}

	if c.Bridge.ExchangeTimeout <= 0 {
		return invalid("bridge.exchange_timeout must be positive")
	}
	if c.Bridge.QueueSize <= 0 {
		return invalid(fmt.Sprintf("bridge.queue_size must be positive: %d", c.Bridge.QueueSize))
	}
	if c.Bridge.StateTimeout <= 0 {
		return invalid("bridge.state_timeout must be positive")
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr cannot be empty")
	}
	if err := c.Gateway.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "gateway section")
	}

	if c.Fanout.QueueSize <= 0 {
		return invalid(fmt.Sprintf("fanout.queue_size must be positive: %d", c.Fanout.QueueSize))
	}
	if c.Metrics.Addr != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid(fmt.Sprintf("metrics.path must start with /: %q", c.Metrics.Path))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level must be debug, info, warn or error: %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid(fmt.Sprintf("log.format must be json or text: %q", c.Log.Format))
	}

	if _, err := c.BuildProfiles(); err != nil {
		return err
	}
	return nil
}

func invalid(action string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", action)
}

// String renders the config as YAML with credentials removed.
func (c *Config) String() string {
	redacted := *c
	redacted.NATS.URL = redactURL(c.NATS.URL)
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "[REDACTED]"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// redactURL masks any credentials in a broker URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User("[REDACTED]")
	return u.String()
}
