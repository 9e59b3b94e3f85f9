package worker

import "errors"

// Sentinel errors for queue operations
var (
	// ErrQueueNotStarted indicates Submit was called before Start
	ErrQueueNotStarted = errors.New("worker queue not started")

	// ErrQueueStopped indicates the queue no longer accepts work
	ErrQueueStopped = errors.New("worker queue stopped")

	// ErrQueueAlreadyStarted indicates Start() was called twice
	ErrQueueAlreadyStarted = errors.New("worker queue already started")

	// ErrQueueFull indicates the queue is at capacity
	ErrQueueFull = errors.New("worker queue full")

	// ErrNilProcessor indicates a nil processor function was provided
	ErrNilProcessor = errors.New("processor function cannot be nil")

	// ErrStopTimeout indicates queued work did not finish within the timeout
	ErrStopTimeout = errors.New("timeout waiting for worker to stop")

	// ErrProcessorPanic wraps a recovered panic from the processor
	ErrProcessorPanic = errors.New("processor panicked")
)
