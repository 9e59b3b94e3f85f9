package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
)

func TestNewQueue_Defaults(t *testing.T) {
	q := NewQueue(0, func(context.Context, int) error { return nil })
	if q.queueSize != 100 {
		t.Errorf("Expected default queue size 100, got %d", q.queueSize)
	}
}

func TestNewQueue_NilProcessor(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for nil processor")
		}
	}()
	NewQueue[int](10, nil)
}

func TestQueue_ProcessesInOrderOneAtATime(t *testing.T) {
	var (
		mu      sync.Mutex
		order   []int
		running atomic.Int32
		overlap atomic.Bool
	)

	q := NewQueue(100, func(_ context.Context, n int) error {
		if running.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
		running.Add(-1)
		return nil
	})

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := q.Submit(i); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}
	if err := q.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if overlap.Load() {
		t.Errorf("Items were processed concurrently")
	}
	if len(order) != 50 {
		t.Fatalf("Expected 50 items processed, got %d", len(order))
	}
	for i, n := range order {
		if n != i {
			t.Fatalf("Item %d processed out of order (got %d)", i, n)
		}
	}
}

func TestQueue_SubmitLifecycle(t *testing.T) {
	q := NewQueue(1, func(context.Context, int) error { return nil })

	if err := q.Submit(1); !errors.Is(err, ErrQueueNotStarted) {
		t.Errorf("Expected ErrQueueNotStarted, got %v", err)
	}

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := q.Start(context.Background()); !errors.Is(err, ErrQueueAlreadyStarted) {
		t.Errorf("Expected ErrQueueAlreadyStarted, got %v", err)
	}

	if err := q.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := q.Submit(1); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("Expected ErrQueueStopped, got %v", err)
	}
	if err := q.Stop(time.Second); err != nil {
		t.Errorf("Second Stop should be a no-op, got %v", err)
	}
}

func TestQueue_FullDrops(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	q := NewQueue(1, func(context.Context, int) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// first item occupies the worker, second fills the buffer
	if err := q.Submit(1); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started
	if err := q.Submit(2); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := q.Submit(3); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	close(release)
	if err := q.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	stats := q.Stats()
	if stats.Dropped != 1 || stats.Processed != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestQueue_PanicRecovered(t *testing.T) {
	var (
		panicked atomic.Int32
		handled  atomic.Int32
	)

	q := NewQueue(10, func(_ context.Context, n int) error {
		if n == 0 {
			panic("bad item")
		}
		handled.Add(1)
		return nil
	}, WithPanicHandler(func(item int, _ any) {
		if item == 0 {
			panicked.Add(1)
		}
	}))

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for _, n := range []int{1, 0, 2} {
		if err := q.Submit(n); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if err := q.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if panicked.Load() != 1 {
		t.Errorf("Expected panic handler called once, got %d", panicked.Load())
	}
	if handled.Load() != 2 {
		t.Errorf("Worker did not survive the panic, handled %d", handled.Load())
	}
	stats := q.Stats()
	if stats.Failed != 1 || stats.Panics != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestQueue_ErrorsCounted(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	q := NewQueue(10, func(_ context.Context, n int) error {
		if n%2 == 0 {
			return errors.New("even")
		}
		return nil
	}, WithMetricsRegistry[int](registry, "test"))

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		_ = q.Submit(i)
	}
	if err := q.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := testutil.ToFloat64(q.metrics.processed); got != 4 {
		t.Errorf("Expected 4 processed, got %v", got)
	}
	if got := testutil.ToFloat64(q.metrics.failed); got != 2 {
		t.Errorf("Expected 2 failed, got %v", got)
	}
}

func TestQueue_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	q := NewQueue(1, func(context.Context, int) error {
		<-block
		return nil
	})
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_ = q.Submit(1)

	if err := q.Stop(20 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("Expected ErrStopTimeout, got %v", err)
	}
}

func TestQueue_ContextCancelStopsWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(1, func(context.Context, int) error { return nil })
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	if err := q.Stop(time.Second); err != nil {
		t.Errorf("Stop after cancel failed: %v", err)
	}
}
