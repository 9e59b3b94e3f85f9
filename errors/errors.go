// Package errors provides the error taxonomy shared by the pump bridge components.
// Errors carry a class (transient, invalid, fatal) that drives how each boundary
// reacts: invalid input is dropped or rejected, transient failures are reported,
// fatal failures stop the owning component.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may succeed later
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Pump command taxonomy.
var (
	// ErrValidation marks a command that failed field validation.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownDevice marks a pump id outside the known device set.
	ErrUnknownDevice = fmt.Errorf("unknown device: %w", ErrValidation)
	// ErrDecode marks a malformed device reply or bus payload.
	ErrDecode = errors.New("decode failed")
	// ErrExchangeTimeout marks a device that did not answer in time.
	ErrExchangeTimeout = errors.New("exchange timed out")
	// ErrTransport marks a bus or serial connection failure.
	ErrTransport = errors.New("transport failure")
	// ErrDeviceRejected marks a reply whose status was not "ok".
	ErrDeviceRejected = errors.New("device rejected command")
)

// Lifecycle and resource conditions.
var (
	ErrAlreadyStarted = errors.New("component already started")

	ErrNoConnection  = errors.New("no connection available")
	ErrChannelClosed = errors.New("channel closed")

	ErrKeyNotFound        = errors.New("key not found")
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrInvalidConfig = errors.New("invalid configuration")
	ErrRateLimited   = errors.New("rate limited")
	ErrQueueFull     = errors.New("queue full")
	ErrCircuitOpen   = errors.New("circuit breaker open")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

// IsTransient reports whether err is a temporary condition.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}

	if errors.Is(err, ErrExchangeTimeout) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err should stop the owning component.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrChannelClosed)
}

// IsInvalid reports whether err is caused by bad input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrDeviceRejected)
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}

// Kind names the taxonomy bucket of err for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnknownDevice):
		return "unknown_device"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrDecode):
		return "decode_error"
	case errors.Is(err, ErrExchangeTimeout):
		return "timeout"
	case errors.Is(err, ErrDeviceRejected):
		return "rejected"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	default:
		return "error"
	}
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the broker connect policy: retry.Persistent
// expressed as additional attempts.
func DefaultRetryConfig() RetryConfig {
	p := retry.Persistent()
	return RetryConfig{
		MaxRetries:    p.MaxAttempts - 1,
		InitialDelay:  p.InitialDelay,
		MaxDelay:      p.MaxDelay,
		BackoffFactor: p.Multiplier,
	}
}

// ToRetryConfig converts to the retry package's Config. MaxRetries counts
// additional attempts, so one is added for the first try. Only transient
// errors are retried.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
		Retryable:    IsTransient,
	}
}
