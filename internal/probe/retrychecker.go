package probe

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hamed0406/heartbeat/internal/domain"
)

// RetryChecker repeats a failed check up to Attempts times, waiting an
// exponentially growing delay starting at Backoff. Canceled checks are not
// retried.
type RetryChecker struct {
	Inner    Checker
	Attempts int
	Backoff  time.Duration
}

func (r *RetryChecker) Check(ctx context.Context, t domain.Target) CheckResult {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.Backoff
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = 10 * r.Backoff
	eb.MaxElapsedTime = 0

	var last CheckResult
	tries := 0
	_ = backoff.Retry(func() error {
		tries++
		last = r.Inner.Check(ctx, t)
		if last.Success {
			return nil
		}
		if last.Kind == domain.KindCanceled || ctx.Err() != nil {
			return backoff.Permanent(last.Err())
		}
		return last.Err()
	}, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx))

	if !last.Success && tries > 1 {
		last.Message = last.Message + " (after retries)"
	}
	return last
}
