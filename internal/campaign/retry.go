package campaign

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/patrickwarner/trackpromo/internal/observability"
)

// withRetry runs fn until it succeeds, fails permanently, or the attempt
// budget runs out. Only errors reported by IsTransient are retried.
func withRetry[T any](ctx context.Context, rc RetryConfig, metrics observability.MetricsRegistry, op string, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if rc.InitialBackoff > 0 {
		b.InitialInterval = rc.InitialBackoff
	}
	if rc.MaxBackoff > 0 {
		b.MaxInterval = rc.MaxBackoff
	}
	attempts := rc.Attempts
	if attempts < 1 {
		attempts = 1
	}

	return backoff.Retry(ctx, func() (T, error) {
		start := time.Now()
		v, err := fn(ctx)
		metrics.RecordRemoteCallLatency(op, time.Since(start))
		switch {
		case err == nil:
			metrics.IncrementRemoteCalls(op, "success")
			return v, nil
		case IsTransient(err):
			metrics.IncrementRemoteCalls(op, "retry")
			return v, err
		default:
			metrics.IncrementRemoteCalls(op, "failure")
			return v, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts)))
}
