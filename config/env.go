package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
)

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

func envLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// ApplyEnv overrides c from PUMPBRIDGE_* variables read through lookup.
// NATS_URL wins over NATS_HOST and NATS_PORT.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(name string) (string, bool, error) {
		key := EnvPrefix + "_" + name
		val, ok := lookup(key)
		if !ok || val == "" {
			return "", false, nil
		}
		if err := checkEnvValue(key, val); err != nil {
			return "", false, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"Config", "ApplyEnv", key)
		}
		return val, true, nil
	}
	parseErr := func(name string, err error) error {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Config", "ApplyEnv", EnvPrefix+"_"+name)
	}

	str := func(name string, dst *string) error {
		val, ok, err := get(name)
		if ok {
			*dst = val
		}
		return err
	}
	integer := func(name string, dst *int) error {
		val, ok, err := get(name)
		if err != nil || !ok {
			return err
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return parseErr(name, err)
		}
		*dst = n
		return nil
	}
	duration := func(name string, dst *time.Duration) error {
		val, ok, err := get(name)
		if err != nil || !ok {
			return err
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return parseErr(name, err)
		}
		*dst = d
		return nil
	}

	host, hasHost, err := get("NATS_HOST")
	if err != nil {
		return err
	}
	port, hasPort, err := get("NATS_PORT")
	if err != nil {
		return err
	}
	if hasHost || hasPort {
		if !hasHost {
			host = "localhost"
		}
		if !hasPort {
			port = "4222"
		}
		if _, err := strconv.Atoi(port); err != nil {
			return parseErr("NATS_PORT", err)
		}
		c.NATS.URL = "nats://" + net.JoinHostPort(host, port)
	}

	var devices string
	steps := []error{
		str("NATS_URL", &c.NATS.URL),
		str("NATS_USERNAME", &c.NATS.Username),
		str("NATS_PASSWORD", &c.NATS.Password),
		str("NATS_TOKEN", &c.NATS.Token),
		str("NATS_STATE_BUCKET", &c.NATS.StateBucket),
		integer("NATS_CONNECT_RETRIES", &c.NATS.ConnectRetry.MaxRetries),
		str("SERIAL_PORT", &c.Serial.Port),
		integer("SERIAL_BAUD", &c.Serial.Baud),
		duration("SETTLE_DELAY", &c.Serial.SettleDelay),
		duration("EXCHANGE_TIMEOUT", &c.Bridge.ExchangeTimeout),
		str("DEVICES", &devices),
		str("HTTP_ADDR", &c.HTTP.Addr),
		str("METRICS_ADDR", &c.Metrics.Addr),
		str("LOG_LEVEL", &c.Log.Level),
		str("LOG_FORMAT", &c.Log.Format),
	}
	for _, err := range steps {
		if err != nil {
			return err
		}
	}

	if devices != "" {
		ids, err := ParseDevices(devices)
		if err != nil {
			return parseErr("DEVICES", err)
		}
		c.Devices = ids
	}
	return nil
}

// ParseDevices parses a comma separated list of pump ids such as "1,2".
func ParseDevices(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("device id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no device ids in %q", s)
	}
	return ids, nil
}
