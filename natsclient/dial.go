package natsclient

import (
	"context"
	"time"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pkg/retry"
)

// Dial creates a client for url and connects it, retrying under policy.
// Each attempt is bounded by the client's dial timeout. When policy has no
// Retryable predicate only transient errors are retried, and when it has no
// OnRetry hook each failed attempt is logged at warn level.
func Dial(ctx context.Context, url string, policy retry.Config, opts ...ClientOption) (*Client, error) {
	client, err := NewClient(url, opts...)
	if err != nil {
		return nil, err
	}

	if policy.Retryable == nil {
		policy.Retryable = errors.IsTransient
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			client.logger.Warn("NATS connect failed, retrying",
				"attempt", attempt, "retry_in", delay, "error", err)
		}
	}

	err = retry.Do(ctx, policy, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, client.timeout)
		defer cancel()
		return client.Connect(attemptCtx)
	})
	if err != nil {
		return nil, errors.Wrap(err, "Client", "Dial", "connect")
	}
	return client, nil
}
