package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
)

// Queue runs submitted work items one at a time, in submission order, on a
// single goroutine.
type Queue[T any] struct {
	queueSize int
	processor func(context.Context, T) error
	onPanic   func(item T, recovered any)

	workChan chan T
	metrics  *Metrics
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	closing     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64

	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Metrics holds Prometheus metrics for queue monitoring
type Metrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Queue
type Option[T any] func(*Queue[T])

// WithMetricsRegistry registers queue metrics named after prefix
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(q *Queue[T]) {
		q.metricsRegistry = registry
		q.metricsPrefix = prefix
	}
}

// WithPanicHandler is called with the item whose processing panicked.
func WithPanicHandler[T any](fn func(item T, recovered any)) Option[T] {
	return func(q *Queue[T]) {
		q.onPanic = fn
	}
}

// NewQueue creates a queue holding at most queueSize pending items.
func NewQueue[T any](queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Queue[T] {
	if queueSize <= 0 {
		queueSize = 100
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	q := &Queue[T]{
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.metricsRegistry != nil && q.metricsPrefix != "" {
		q.initializeMetrics()
	}
	return q
}

func (q *Queue[T]) initializeMetrics() {
	prefix := q.metricsPrefix

	q.metrics = &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_queue_depth",
			Help:      "Items waiting in the queue",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_submitted_total",
			Help:      "Items accepted by the queue",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_processed_total",
			Help:      "Items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_failed_total",
			Help:      "Items whose processing returned an error or panicked",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_dropped_total",
			Help:      "Items dropped because the queue was full",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Name:      prefix + "_processing_duration_seconds",
			Help:      "Time spent processing one item",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"status"}),
	}

	service := "worker_queue"
	_ = q.metricsRegistry.Register(service, prefix+"_queue_depth", q.metrics.queueDepth)
	_ = q.metricsRegistry.Register(service, prefix+"_submitted_total", q.metrics.submitted)
	_ = q.metricsRegistry.Register(service, prefix+"_processed_total", q.metrics.processed)
	_ = q.metricsRegistry.Register(service, prefix+"_failed_total", q.metrics.failed)
	_ = q.metricsRegistry.Register(service, prefix+"_dropped_total", q.metrics.dropped)
	_ = q.metricsRegistry.Register(service, prefix+"_processing_duration_seconds", q.metrics.processingTime)
}

// Submit enqueues work without blocking. Returns ErrQueueFull when full.
func (q *Queue[T]) Submit(work T) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if !q.started {
		return ErrQueueNotStarted
	}
	if q.closing {
		return ErrQueueStopped
	}

	select {
	case q.workChan <- work:
		q.submitted.Add(1)
		if q.metrics != nil {
			q.metrics.submitted.Inc()
			q.metrics.queueDepth.Set(float64(len(q.workChan)))
		}
		return nil
	default:
		q.dropped.Add(1)
		if q.metrics != nil {
			q.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the worker goroutine. Cancelling ctx abandons queued items.
func (q *Queue[T]) Start(ctx context.Context) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if q.started {
		return ErrQueueAlreadyStarted
	}

	q.wg.Add(1)
	go q.worker(ctx)

	q.started = true
	return nil
}

// Stop refuses new work and waits up to timeout for queued items to finish.
func (q *Queue[T]) Stop(timeout time.Duration) error {
	q.lifecycleMu.Lock()
	if !q.started || q.closing {
		q.lifecycleMu.Unlock()
		return nil
	}
	q.closing = true
	close(q.workChan)
	q.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current queue statistics
func (q *Queue[T]) Stats() Stats {
	return Stats{
		QueueSize:  q.queueSize,
		QueueDepth: len(q.workChan),
		Submitted:  q.submitted.Load(),
		Processed:  q.processed.Load(),
		Failed:     q.failed.Load(),
		Dropped:    q.dropped.Load(),
		Panics:     q.panics.Load(),
	}
}

// Stats represents queue statistics
type Stats struct {
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	Panics     int64 `json:"panics"`
}

func (q *Queue[T]) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-q.workChan:
			if !ok {
				return
			}

			start := time.Now()
			err := q.process(ctx, work)
			duration := time.Since(start)

			q.processed.Add(1)
			if err != nil {
				q.failed.Add(1)
			}

			if q.metrics != nil {
				q.metrics.processed.Inc()
				q.metrics.queueDepth.Set(float64(len(q.workChan)))
				status := "success"
				if err != nil {
					q.metrics.failed.Inc()
					status = "error"
				}
				q.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
			}
		}
	}
}

// process runs one item; a panic becomes an error so the worker survives.
func (q *Queue[T]) process(ctx context.Context, work T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			if q.onPanic != nil {
				q.onPanic(work, r)
			}
			err = fmt.Errorf("%w: %v\n%s", ErrProcessorPanic, r, debug.Stack())
		}
	}()
	return q.processor(ctx, work)
}
