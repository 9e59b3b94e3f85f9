// Package serial owns the single serial link to the pump controller and
// exposes a synchronous frame/reply exchange over it.
package serial

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/health"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
)

const (
	// DefaultSettleDelay covers the controller reset triggered by opening the port.
	DefaultSettleDelay = 2 * time.Second
	// DefaultReadTimeout bounds each OS level read so the reader can notice Close.
	DefaultReadTimeout = 100 * time.Millisecond

	maxLineLength = 4096
	lineBuffer    = 16
)

// Config describes the physical port.
type Config struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	SettleDelay time.Duration
}

// Channel is the exclusive connection to the device. Exchange holds a mutex
// for its whole duration, so at most one frame is ever on the wire.
type Channel struct {
	mu sync.Mutex

	port        io.ReadWriteCloser
	name        string
	settleDelay time.Duration
	logger      *slog.Logger
	metrics     *channelMetrics

	lines     chan []byte
	done      chan struct{}
	failed    chan struct{}
	closeOnce sync.Once
	failOnce  sync.Once

	errMu sync.RWMutex
	err   error
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSettleDelay overrides the post-open settle delay. Zero disables it.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Channel) {
		c.settleDelay = d
	}
}

// WithMetrics registers channel metrics with registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Channel) {
		c.metrics = newChannelMetrics(registry)
	}
}

// WithName labels the channel in logs and health output.
func WithName(name string) Option {
	return func(c *Channel) {
		c.name = name
	}
}

// Open opens the configured port and waits out the settle delay.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Channel, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		Parity:      serial.ParityNone,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrTransport, err),
			"Channel", "Open", fmt.Sprintf("open %s", cfg.Port))
	}

	opts = append([]Option{WithName(cfg.Port), WithSettleDelay(cfg.SettleDelay)}, opts...)
	return New(ctx, port, opts...)
}

// New builds a channel over an already open port, starts the line reader
// and waits out the settle delay. Cancelling ctx during the delay closes
// the port.
func New(ctx context.Context, port io.ReadWriteCloser, opts ...Option) (*Channel, error) {
	c := &Channel{
		port:        port,
		name:        "serial",
		settleDelay: DefaultSettleDelay,
		logger:      slog.Default(),
		lines:       make(chan []byte, lineBuffer),
		done:        make(chan struct{}),
		failed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "serial", "port", c.name)

	go c.readLoop()

	if c.settleDelay > 0 {
		c.logger.Debug("Waiting for device to settle", "delay", c.settleDelay)
		timer := time.NewTimer(c.settleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			_ = c.Close()
			return nil, errors.WrapTransient(ctx.Err(), "Channel", "New", "settle")
		}
	}

	c.logger.Info("Serial channel ready")
	return c, nil
}

// Exchange writes frame and waits for one reply line or the timeout.
//
// Lines received before the write (boot banners, late replies to an
// earlier timed out exchange) are discarded first. A write or read failure
// marks the channel failed and every later call fails fast.
//
// Replies carry no correlation id. A late reply that arrives after the
// discard but before the device answers this frame is taken as this
// frame's reply.
func (c *Channel) Exchange(frame pump.Frame, timeout time.Duration) (pump.Ack, error) {
	return c.ExchangeNotify(frame, timeout, nil)
}

// ExchangeNotify is Exchange with written called once the frame has been
// handed to the port, before the reply wait starts. written is not called
// when the write fails.
func (c *Channel) ExchangeNotify(frame pump.Frame, timeout time.Duration, written func()) (pump.Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Err(); err != nil {
		return pump.Ack{}, errors.WrapFatal(err, "Channel", "Exchange", "check channel")
	}

	c.discardPending()

	if len(frame) == 0 || frame[len(frame)-1] != '\n' {
		frame = append(append(pump.Frame(nil), frame...), '\n')
	}
	if _, err := c.port.Write(frame); err != nil {
		c.fail(err)
		return pump.Ack{}, errors.WrapFatal(c.Err(), "Channel", "Exchange", "write frame")
	}
	c.metrics.written(len(frame))
	if written != nil {
		written()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line := <-c.lines:
		ack, err := pump.Decode(line)
		if err != nil {
			c.logger.Warn("Malformed reply from device", "reply", string(line), "error", err)
			return pump.Ack{}, err
		}
		return ack, nil
	case <-c.failed:
		return pump.Ack{}, errors.WrapFatal(c.Err(), "Channel", "Exchange", "await reply")
	case <-c.done:
		return pump.Ack{}, errors.WrapFatal(c.Err(), "Channel", "Exchange", "await reply")
	case <-timer.C:
		return pump.Ack{}, errors.WrapTransient(
			fmt.Errorf("%w: no reply within %s", errors.ErrExchangeTimeout, timeout),
			"Channel", "Exchange", "await reply")
	}
}

func (c *Channel) discardPending() {
	for {
		select {
		case line := <-c.lines:
			c.metrics.discarded()
			c.logger.Debug("Discarding unsolicited line", "line", string(line))
		default:
			return
		}
	}
}

// readLoop splits inbound bytes into lines. Zero length reads and io.EOF
// are what the OS read timeout produces and mean "no data yet".
func (c *Channel) readLoop() {
	buf := make([]byte, 256)
	var pending []byte

	for {
		n, err := c.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := append([]byte(nil), bytes.TrimRight(pending[:idx], "\r")...)
				pending = pending[idx+1:]
				if len(bytes.TrimSpace(line)) == 0 {
					continue
				}
				c.metrics.lineRead()
				select {
				case c.lines <- line:
				case <-c.done:
					return
				}
			}
			if len(pending) > maxLineLength {
				c.logger.Warn("Dropping oversized partial line", "bytes", len(pending))
				pending = nil
				c.metrics.discarded()
			}
		}

		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if stderrors.Is(err, io.EOF) {
				continue
			}
			c.fail(err)
			return
		}
	}
}

func (c *Channel) fail(cause error) {
	c.failOnce.Do(func() {
		c.errMu.Lock()
		if c.err == nil {
			c.err = fmt.Errorf("%w: %v", errors.ErrTransport, cause)
		}
		c.errMu.Unlock()
		c.logger.Error("Serial channel failed", "error", cause)
		close(c.failed)
	})
}

// Err returns the error that made the channel unusable, or nil.
func (c *Channel) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

// Failed is closed when the channel hits a fatal I/O error.
func (c *Channel) Failed() <-chan struct{} {
	return c.failed
}

// Close releases the port. It is safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		if c.err == nil {
			c.err = fmt.Errorf("%w: %w", errors.ErrTransport, errors.ErrChannelClosed)
		}
		c.errMu.Unlock()
		close(c.done)
		err = c.port.Close()
	})
	if err != nil {
		return errors.WrapTransient(err, "Channel", "Close", "close port")
	}
	return nil
}

// Health reports whether exchanges can still be attempted.
func (c *Channel) Health() health.Status {
	select {
	case <-c.done:
		return health.NewUnhealthy("serial", "channel closed")
	default:
	}
	return health.FromError("serial", c.Err(), "port open")
}
