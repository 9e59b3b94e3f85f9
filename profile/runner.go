package profile

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
)

// ErrProfileNotFound is returned for an unknown profile name.
var ErrProfileNotFound = fmt.Errorf("profile not found: %w", errors.ErrValidation)

// Publisher sends a command payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Runner plays one profile at a time by publishing its commands on the bus.
type Runner struct {
	publisher      Publisher
	devices        pump.Devices
	publishTimeout time.Duration
	logger         *slog.Logger
	metrics        *runnerMetrics

	mu       sync.Mutex
	profiles map[string]Profile
	active   string
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics registers runner metrics with registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Runner) {
		r.metrics = newRunnerMetrics(registry)
	}
}

// WithPublishTimeout bounds each publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.publishTimeout = d
		}
	}
}

// NewRunner creates a runner that knows the built in profile.
func NewRunner(publisher Publisher, devices pump.Devices, opts ...Option) *Runner {
	if devices.Len() == 0 {
		devices = pump.DefaultDevices()
	}
	r := &Runner{
		publisher:      publisher,
		devices:        devices,
		publishTimeout: 2 * time.Second,
		logger:         slog.Default(),
		profiles:       make(map[string]Profile),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "profile")

	builtin := AlternatingSquareProfile()
	if builtin.Validate(devices) == nil {
		r.profiles[builtin.Name] = builtin
	}
	return r
}

// Register adds or replaces a profile.
func (r *Runner) Register(p Profile) error {
	if err := p.Validate(r.devices); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
	return nil
}

// Profiles returns every known profile sorted by name.
func (r *Runner) Profiles() []Profile {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Active returns the running profile name.
func (r *Runner) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != ""
}

// Start runs the named profile, replacing any running one. The first phase
// is applied immediately.
func (r *Runner) Start(name string) error {
	r.mu.Lock()
	p, ok := r.profiles[name]
	if !ok {
		r.mu.Unlock()
		return errors.WrapInvalid(ErrProfileNotFound, "Runner", "Start", fmt.Sprintf("lookup %q", name))
	}
	previous := r.stopLoopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.active, r.cancel, r.done = name, cancel, done
	r.mu.Unlock()

	if previous != "" {
		r.logger.Info("Replacing active profile", "previous", previous, "profile", name)
	}
	r.metrics.setActive(p.Name, true)
	r.logger.Info("Profile started", "profile", name, "interval", p.Interval, "phases", len(p.Phases))

	go r.loop(ctx, p, done)
	return nil
}

// Stop ends the running profile, if any, and disables every pump.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	previous := r.stopLoopLocked()
	r.mu.Unlock()

	if previous != "" {
		r.logger.Info("Profile stopped", "profile", previous)
	}

	var errs []error
	for _, id := range r.devices.IDs() {
		cmd := pump.Command{PumpID: id, Enable: pump.Bool(false)}
		if err := r.publish(ctx, cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// stopLoopLocked cancels the loop and waits for it. Caller holds r.mu.
func (r *Runner) stopLoopLocked() string {
	if r.cancel == nil {
		return ""
	}
	previous := r.active
	r.cancel()
	<-r.done
	r.metrics.setActive(previous, false)
	r.active, r.cancel, r.done = "", nil, nil
	return previous
}

func (r *Runner) loop(ctx context.Context, p Profile, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % len(p.Phases) {
		r.applyPhase(ctx, p, i)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) applyPhase(ctx context.Context, p Profile, i int) {
	phase := p.Phases[i]
	r.logger.Debug("Applying phase", "profile", p.Name, "phase", i, "name", phase.Name)
	for _, cmd := range phase.Commands {
		if ctx.Err() != nil {
			return
		}
		if err := r.publish(ctx, cmd); err != nil {
			r.logger.Warn("Failed to publish profile command", "profile", p.Name, "pump_id", cmd.PumpID, "error", err)
		}
	}
	r.metrics.phaseApplied(p.Name)
}

func (r *Runner) publish(ctx context.Context, cmd pump.Command) error {
	payload, err := cmd.Payload()
	if err != nil {
		return errors.Wrap(err, "Runner", "publish", "encode payload")
	}
	ctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()

	if err := r.publisher.Publish(ctx, pump.CommandTopic(cmd.PumpID), payload); err != nil {
		return errors.Wrap(err, "Runner", "publish", fmt.Sprintf("publish to pump %d", cmd.PumpID))
	}
	return nil
}

type runnerMetrics struct {
	phases *prometheus.CounterVec
	active *prometheus.GaugeVec
}

func newRunnerMetrics(registry *metric.MetricsRegistry) *runnerMetrics {
	if registry == nil {
		return nil
	}
	m := &runnerMetrics{
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "profile",
			Name:      "phases_total",
			Help:      "Profile phases applied",
		}, []string{"profile"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "profile",
			Name:      "active",
			Help:      "1 while the profile is running",
		}, []string{"profile"}),
	}
	_ = registry.Register("profile", "phases_total", m.phases)
	_ = registry.Register("profile", "active", m.active)
	return m
}

func (m *runnerMetrics) phaseApplied(profile string) {
	if m != nil {
		m.phases.WithLabelValues(profile).Inc()
	}
}

func (m *runnerMetrics) setActive(profile string, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.active.WithLabelValues(profile).Set(v)
}
