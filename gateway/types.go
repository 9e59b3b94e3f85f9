package gateway

import (
	"fmt"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
)

const (
	// DefaultMaxRequestSize bounds a command body.
	DefaultMaxRequestSize = 64 * 1024
	// DefaultRateLimit is the sustained commands per second allowed per pump.
	DefaultRateLimit = 10.0
	// DefaultRateBurst is the per pump burst above the sustained rate.
	DefaultRateBurst = 20
	// DefaultPublishTimeout bounds the bus publish of one command.
	DefaultPublishTimeout = 2 * time.Second
)

// Config holds configuration for the command gateway
type Config struct {
	// EnableCORS adds CORS headers for CORSOrigins.
	EnableCORS bool `json:"enable_cors" yaml:"enable_cors"`

	// CORSOrigins lists allowed origins. ["*"] allows any origin.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes (default: 64KB)
	MaxRequestSize int64 `json:"max_request_size,omitempty" yaml:"max_request_size,omitempty"`

	// RateLimit is commands per second per pump. Zero disables limiting.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// RateBurst is the token bucket size per pump.
	RateBurst int `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty"`

	// PublishTimeout bounds each bus publish.
	PublishTimeout time.Duration `json:"publish_timeout,omitempty" yaml:"publish_timeout,omitempty"`
}

// Validate ensures the gateway configuration is valid and fills zero values
// with defaults.
func (c *Config) Validate() error {
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = DefaultMaxRequestSize
	}
	if c.MaxRequestSize > 10*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 10MB")
	}

	if c.RateLimit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("rate_limit cannot be negative: %v", c.RateLimit))
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = max(1, int(c.RateLimit))
	}

	if c.PublishTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"publish_timeout cannot be negative")
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}

	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires cors_origins")
	}
	return nil
}

// DefaultConfig returns default gateway configuration. Browsers are served
// from anywhere, matching the lab dashboard deployment.
func DefaultConfig() Config {
	return Config{
		EnableCORS:     true,
		CORSOrigins:    []string{"*"},
		MaxRequestSize: DefaultMaxRequestSize,
		RateLimit:      DefaultRateLimit,
		RateBurst:      DefaultRateBurst,
		PublishTimeout: DefaultPublishTimeout,
	}
}
