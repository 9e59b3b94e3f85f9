package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/health"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/natsclient"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pkg/worker"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/serial"
)

// Bus is the part of the message bus the bridge uses.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, pattern string, handler natsclient.MsgHandler) (natsclient.Subscription, error)
}

// Exchanger performs one synchronous frame/reply exchange with the device.
// *serial.Channel implements it.
type Exchanger interface {
	Exchange(frame pump.Frame, timeout time.Duration) (pump.Ack, error)
}

// writeNotifier is an Exchanger that reports when the frame has left the
// host, which moves the device from Sending to AwaitingAck.
type writeNotifier interface {
	ExchangeNotify(frame pump.Frame, timeout time.Duration, written func()) (pump.Ack, error)
}

// Config holds bridge settings
type Config struct {
	Devices         pump.Devices
	ExchangeTimeout time.Duration
	QueueSize       int
	StopTimeout     time.Duration
	// StateTimeout bounds the state load and save that follow an ack. They
	// run on the serial worker, so they delay the next exchange.
	StateTimeout time.Duration
}

// DefaultConfig returns the settings for the two pump rig.
func DefaultConfig() Config {
	return Config{
		Devices:         pump.DefaultDevices(),
		ExchangeTimeout: 2 * time.Second,
		QueueSize:       64,
		StopTimeout:     5 * time.Second,
		StateTimeout:    500 * time.Millisecond,
	}
}

type job struct {
	topic   string
	payload []byte
}

// Bridge relays commands from the bus to the serial device and republishes
// acknowledged commands as status events. All exchanges run on a single
// worker goroutine in arrival order.
type Bridge struct {
	cfg       Config
	bus       Bus
	exchanger Exchanger
	store     pump.StateStore
	logger    *slog.Logger
	registry  *metric.MetricsRegistry
	metrics   *bridgeMetrics
	now       func() time.Time

	queue *worker.Queue[job]

	mu      sync.Mutex
	sub     natsclient.Subscription
	started bool

	devices *deviceTracker

	errMu        sync.RWMutex
	transportErr error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics registers bridge metrics with registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Bridge) {
		b.registry = registry
	}
}

// WithStateStore records the merged state of every acknowledged command.
func WithStateStore(store pump.StateStore) Option {
	return func(b *Bridge) {
		b.store = store
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a bridge. Nothing is subscribed until Start.
func New(cfg Config, bus Bus, exchanger Exchanger, opts ...Option) (*Bridge, error) {
	if bus == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "New", "bus is required")
	}
	if exchanger == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "New", "exchanger is required")
	}
	defaults := DefaultConfig()
	if cfg.Devices.Len() == 0 {
		cfg.Devices = defaults.Devices
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = defaults.ExchangeTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaults.StopTimeout
	}
	if cfg.StateTimeout <= 0 {
		cfg.StateTimeout = defaults.StateTimeout
	}

	b := &Bridge{
		cfg:       cfg,
		bus:       bus,
		exchanger: exchanger,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bridge")
	b.metrics = newBridgeMetrics(b.registry)
	b.devices = newDeviceTracker(cfg.Devices, b.metrics)

	queueOpts := []worker.Option[job]{
		worker.WithPanicHandler(func(j job, r any) {
			b.logger.Error("Command handler panicked", "topic", j.topic, "panic", r)
		}),
	}
	if b.registry != nil {
		queueOpts = append(queueOpts, worker.WithMetricsRegistry[job](b.registry, "bridge"))
	}
	b.queue = worker.NewQueue(cfg.QueueSize, func(ctx context.Context, j job) error {
		return b.Handle(ctx, j.topic, j.payload)
	}, queueOpts...)

	return b, nil
}

// Start launches the worker and subscribes to every command topic.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Start", "check state")
	}

	if err := b.queue.Start(ctx); err != nil {
		return errors.Wrap(err, "Bridge", "Start", "start worker")
	}

	sub, err := b.bus.Subscribe(ctx, pump.CommandPattern, b.onCommand)
	if err != nil {
		_ = b.queue.Stop(b.cfg.StopTimeout)
		return errors.Wrap(err, "Bridge", "Start", fmt.Sprintf("subscribe %s", pump.CommandPattern))
	}
	b.sub = sub
	b.started = true

	b.logger.Info("Bridge started", "pattern", pump.CommandPattern, "devices", b.cfg.Devices.IDs(),
		"exchange_timeout", b.cfg.ExchangeTimeout)
	return nil
}

// Stop unsubscribes and lets queued commands finish, bounded by timeout.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}
	b.started = false

	var errs []error
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Bridge", "Stop", "unsubscribe"))
		}
		b.sub = nil
	}
	if err := b.queue.Stop(timeout); err != nil {
		errs = append(errs, errors.Wrap(err, "Bridge", "Stop", "drain queue"))
	}

	b.logger.Info("Bridge stopped", "stats", b.queue.Stats())
	return stderrors.Join(errs...)
}

// onCommand runs on the bus delivery goroutine and must not block.
func (b *Bridge) onCommand(_ context.Context, topic string, payload []byte) {
	id, err := pump.DeviceFromTopic(topic)
	if err != nil {
		b.logger.Warn("Dropping message on unparseable topic", "topic", topic, "error", err)
		b.metrics.command("unknown", errors.Kind(err))
		return
	}

	j := job{topic: topic, payload: append([]byte(nil), payload...)}
	if err := b.queue.Submit(j); err != nil {
		b.logger.Warn("Dropping command, queue unavailable", "pump_id", id, "error", err)
		b.metrics.command(pumpLabel(id), "dropped")
	}
}

// Handle processes one command message end to end. It is what the worker
// runs for every queued message and returns the command's failure, if any.
func (b *Bridge) Handle(ctx context.Context, topic string, payload []byte) error {
	id, err := pump.DeviceFromTopic(topic)
	if err != nil {
		b.logger.Warn("Dropping message on unparseable topic", "topic", topic, "error", err)
		b.metrics.command("unknown", errors.Kind(err))
		return err
	}
	label := pumpLabel(id)

	cmd, err := pump.ParseCommand(id, payload)
	if err == nil {
		err = cmd.Validate(b.cfg.Devices)
	}
	if err != nil {
		b.logger.Warn("Rejected command", "pump_id", id, "payload", string(payload), "error", err)
		b.metrics.command(label, errors.Kind(err))
		return err
	}

	frame, err := pump.Encode(cmd)
	if err != nil {
		b.logger.Error("Failed to encode command", "pump_id", id, "error", err)
		b.metrics.command(label, errors.Kind(err))
		return err
	}

	b.devices.set(id, StateSending)
	defer b.devices.set(id, StateIdle)

	start := time.Now()
	ack, err := b.exchange(id, frame)
	b.metrics.exchanged(label, time.Since(start))

	if err != nil {
		b.devices.set(id, StateFailed)
		b.metrics.command(label, errors.Kind(err))
		outcome := serial.OutcomeOf(err)
		if outcome == serial.Failed {
			b.recordTransportError(err)
			b.logger.Error("Serial exchange failed", "pump_id", id, "frame", frame.String(), "error", err)
		} else {
			b.logger.Warn("Exchange did not complete", "pump_id", id, "frame", frame.String(),
				"outcome", outcome.String(), "error", err)
		}
		return err
	}

	if !ack.OK() {
		b.devices.set(id, StateFailed)
		err := errors.WrapInvalid(fmt.Errorf("%w: status %q", errors.ErrDeviceRejected, ack.Status),
			"Bridge", "Handle", "check acknowledgment")
		b.metrics.command(label, errors.Kind(err))
		b.logger.Warn("Device rejected command", "pump_id", id, "frame", frame.String(), "status", ack.Status)
		return err
	}

	b.devices.set(id, StateAcknowledged)
	b.metrics.command(label, "ok")
	b.logger.Debug("Command acknowledged", "pump_id", id, "command", cmd.String())

	status := payload
	if len(status) == 0 {
		status = []byte("{}")
	}
	if err := b.bus.Publish(ctx, pump.StatusTopic(id), status); err != nil {
		b.metrics.publishFailed()
		b.logger.Error("Failed to publish status", "pump_id", id, "error", err)
	}

	b.saveState(ctx, cmd)
	return nil
}

func (b *Bridge) exchange(id int, frame pump.Frame) (pump.Ack, error) {
	awaiting := func() { b.devices.set(id, StateAwaitingAck) }
	if n, ok := b.exchanger.(writeNotifier); ok {
		return n.ExchangeNotify(frame, b.cfg.ExchangeTimeout, awaiting)
	}
	awaiting()
	return b.exchanger.Exchange(frame, b.cfg.ExchangeTimeout)
}

// saveState merges cmd onto the stored state. A pump with no stored state
// starts from zero values; any other load failure skips the save so fields
// from earlier commands are not overwritten. Failures are logged only.
func (b *Bridge) saveState(ctx context.Context, cmd pump.Command) {
	if b.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.StateTimeout)
	defer cancel()

	prev, err := b.store.Load(ctx, cmd.PumpID)
	switch {
	case err == nil:
	case stderrors.Is(err, errors.ErrKeyNotFound):
		prev = pump.State{PumpID: cmd.PumpID}
	default:
		b.metrics.saveFailed()
		b.logger.Warn("Failed to load device state, not saving", "pump_id", cmd.PumpID, "error", err)
		return
	}

	if err := b.store.Save(ctx, prev.Apply(cmd, b.now().UTC())); err != nil {
		b.metrics.saveFailed()
		b.logger.Warn("Failed to save device state", "pump_id", cmd.PumpID, "error", err)
	}
}

func (b *Bridge) recordTransportError(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.transportErr == nil {
		b.transportErr = err
	}
}

// DeviceState returns the exchange state of pump id.
func (b *Bridge) DeviceState(id int) DeviceState {
	return b.devices.get(id)
}

// LastResult returns StateAcknowledged or StateFailed for the most recent
// exchange with pump id, or StateIdle if there has been none.
func (b *Bridge) LastResult(id int) DeviceState {
	return b.devices.lastResult(id)
}

// Stats returns the command queue statistics.
func (b *Bridge) Stats() worker.Stats {
	return b.queue.Stats()
}

// Health is unhealthy once the serial link has failed or before Start.
func (b *Bridge) Health() health.Status {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()

	b.errMu.RLock()
	transportErr := b.transportErr
	b.errMu.RUnlock()

	var subs []health.Status
	switch {
	case transportErr != nil:
		subs = append(subs, health.FromError("exchange", transportErr, ""))
	case !started:
		subs = append(subs, health.NewUnhealthy("exchange", "not started"))
	default:
		subs = append(subs, health.NewHealthy("exchange", "running"))
	}
	if checker, ok := b.exchanger.(health.Checker); ok {
		subs = append(subs, checker.Health())
	}
	return health.Aggregate("bridge", subs)
}
