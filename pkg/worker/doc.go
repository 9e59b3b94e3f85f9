// Package worker provides a bounded, single-goroutine work queue.
//
// Queue processes items strictly one at a time in submission order. Callers
// that must never run two operations concurrently, such as the owner of a
// serial link, put a Queue in front of the resource instead of a lock held
// across a message handler:
//
//	q := worker.NewQueue[Job](64, func(ctx context.Context, job Job) error {
//	    return handle(ctx, job)
//	}, worker.WithMetricsRegistry[Job](registry, "bridge"))
//	_ = q.Start(ctx)
//	defer q.Stop(5 * time.Second)
//
//	if err := q.Submit(job); errors.Is(err, worker.ErrQueueFull) {
//	    // dropped
//	}
//
// Submit never blocks. A panic in the processor is recovered, counted as a
// failure and reported to the WithPanicHandler callback; the worker keeps
// going. Stop refuses new work and lets queued items finish.
//
// Statistics are always tracked with atomics. Prometheus metrics are
// registered only when WithMetricsRegistry is given a registry and prefix.
package worker
