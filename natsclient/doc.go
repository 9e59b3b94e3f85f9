// Topics are written with slashes ("pump/1/command") everywhere above this
// package. Client maps them onto NATS subjects ("pump.1.command"), with "+"
// becoming "*" for single level wildcards, and hands handlers the slash form
// of the concrete subject:
//
//	client, err := natsclient.Dial(ctx, url, retry.Persistent(), natsclient.WithMetrics(registry))
//	if err != nil {
//	    return err
//	}
//	sub, err := client.Subscribe(ctx, "pump/+/command", func(ctx context.Context, topic string, data []byte) {
//	    // topic == "pump/1/command"
//	})
//
// Connection failures feed a circuit breaker: after the threshold Connect
// fails fast with ErrCircuitOpen until the backoff elapses. Dial retries
// transient failures, including an open circuit, under a pkg/retry policy.
//
// StateStore keeps the last acknowledged pump.State per pump in the
// PUMP_STATE key/value bucket (history 1).
//
// NewTestClient starts a JetStream enabled NATS container through
// testcontainers and dials it, for integration tests that only run with
// INTEGRATION_TESTS set.
package natsclient
