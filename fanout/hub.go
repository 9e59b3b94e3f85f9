package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/health"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/natsclient"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
)

// Subscriber is one live realtime client.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Config holds hub settings
type Config struct {
	// QueueSize bounds events waiting for Run.
	QueueSize int
	// SendTimeout bounds one delivery to one subscriber.
	SendTimeout time.Duration
}

// DefaultConfig returns the hub defaults
func DefaultConfig() Config {
	return Config{
		QueueSize:   256,
		SendTimeout: 5 * time.Second,
	}
}

// Hub holds the subscriber set and broadcasts status events to it.
type Hub struct {
	cfg     Config
	logger  *slog.Logger
	metrics *hubMetrics
	now     func() time.Time

	mu   sync.RWMutex
	subs map[string]Subscriber

	events chan pump.StatusEvent
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics registers hub metrics with registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(h *Hub) {
		h.metrics = newHubMetrics(registry)
	}
}

// NewHub creates an empty hub.
func NewHub(cfg Config, opts ...Option) *Hub {
	defaults := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaults.SendTimeout
	}

	h := &Hub{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		subs:   make(map[string]Subscriber),
		events: make(chan pump.StatusEvent, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "fanout")
	return h
}

// Register adds sub to the set.
func (h *Hub) Register(sub Subscriber) {
	h.mu.Lock()
	h.subs[sub.ID()] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.subscribers(n)
	h.logger.Debug("Subscriber registered", "subscriber", sub.ID(), "subscribers", n)
}

// Unregister removes and closes the subscriber with id, if present.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	n := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = sub.Close()
	h.metrics.subscribers(n)
	h.logger.Debug("Subscriber removed", "subscriber", id, "subscribers", n)
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) snapshot() []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		out = append(out, sub)
	}
	return out
}

// Enqueue hands ev to Run without blocking. It reports false when the
// queue is full and the event was dropped.
func (h *Hub) Enqueue(ev pump.StatusEvent) bool {
	select {
	case h.events <- ev:
		return true
	default:
		h.metrics.dropped("queue_full")
		h.logger.Warn("Dropping status event, queue full", "topic", ev.Topic)
		return false
	}
}

// Run broadcasts queued events until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.events:
			h.Broadcast(ctx, ev)
		}
	}
}

// Broadcast delivers ev to every subscriber registered when it starts.
// Sends run concurrently on a snapshot of the set, each bounded by the send
// timeout. Subscribers that fail are removed once every send has finished.
func (h *Hub) Broadcast(ctx context.Context, ev pump.StatusEvent) {
	msg, err := ev.Message()
	if err != nil {
		h.metrics.dropped("decode_error")
		h.logger.Warn("Dropping status event", "topic", ev.Topic, "error", err)
		return
	}

	subs := h.snapshot()
	h.metrics.broadcast()
	if len(subs) == 0 {
		return
	}

	var (
		wg       sync.WaitGroup
		failedMu sync.Mutex
		failed   []string
	)
	for _, sub := range subs {
		wg.Add(1)
		go func(sub Subscriber) {
			defer wg.Done()
			if err := h.send(ctx, sub, msg); err != nil {
				h.logger.Debug("Delivery failed", "subscriber", sub.ID(), "error", err)
				failedMu.Lock()
				failed = append(failed, sub.ID())
				failedMu.Unlock()
			}
		}(sub)
	}
	wg.Wait()

	for _, id := range failed {
		h.metrics.deliveryFailed()
		h.Unregister(id)
	}
}

func (h *Hub) send(ctx context.Context, sub Subscriber, msg []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, h.cfg.SendTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sub.Send(sendCtx, msg)
	}()

	select {
	case err := <-errCh:
		return err
	case <-sendCtx.Done():
		return errors.WrapTransient(sendCtx.Err(), "Hub", "Broadcast", "send to "+sub.ID())
	}
}

// Attach subscribes the hub to every pump status topic on bus.
func (h *Hub) Attach(ctx context.Context, bus natsclient.Bus) (natsclient.Subscription, error) {
	sub, err := bus.Subscribe(ctx, pump.StatusPattern, func(_ context.Context, topic string, payload []byte) {
		ev, err := pump.NewStatusEvent(topic, payload, h.now())
		if err != nil {
			h.metrics.dropped("decode_error")
			h.logger.Warn("Dropping status message", "topic", topic, "error", err)
			return
		}
		h.Enqueue(ev)
	})
	if err != nil {
		return nil, errors.Wrap(err, "Hub", "Attach", "subscribe "+pump.StatusPattern)
	}
	h.logger.Info("Fanout attached to bus", "pattern", pump.StatusPattern)
	return sub, nil
}

// Close closes and removes every subscriber.
func (h *Hub) Close() {
	for _, sub := range h.snapshot() {
		h.Unregister(sub.ID())
	}
}

// Health reports the subscriber count and queue backlog.
func (h *Hub) Health() health.Status {
	n := h.Len()
	backlog := len(h.events)
	if backlog >= cap(h.events) {
		return health.NewDegraded("fanout", "event queue full")
	}
	return health.NewHealthy("fanout", fmt.Sprintf("%d subscribers", n))
}
