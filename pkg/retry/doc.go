// Package retry provides exponential backoff for operations that may fail
// transiently, such as the initial broker connection or opening the state
// bucket while JetStream is still starting.
//
//	cfg := retry.Persistent().WithOnRetry(func(n int, err error, d time.Duration) {
//	    logger.Warn("NATS connect failed", "attempt", n, "retry_in", d, "error", err)
//	})
//	err := retry.Do(ctx, cfg, func() error {
//	    return client.Connect(ctx)
//	})
//
// Wrap an error with NonRetryable, or set Config.Retryable, to stop early.
package retry
