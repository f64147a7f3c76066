package automation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xkilldash9x/settle-cli/internal/config"
)

// Retry is a bounded retry policy with exponential backoff.
type Retry struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// RetryFromConfig builds the policy configured under automation.retry_*.
func RetryFromConfig(cfg config.AutomationConfig) Retry {
	return Retry{Attempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff, MaxBackoff: cfg.RetryMaxBackoff}
}

// Permanent marks err as not worth retrying. Retry.Do returns the wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// policy turns r into a backoff schedule bounded by the attempt count and ctx.
func (r Retry) policy(ctx context.Context) backoff.BackOff {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if r.Backoff > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = r.Backoff
		exp.RandomizationFactor = 0
		exp.Multiplier = 2
		exp.MaxElapsedTime = 0
		if r.MaxBackoff > 0 {
			exp.MaxInterval = r.MaxBackoff
		}
		b = exp
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a Permanent error, or the attempts are
// exhausted. The last error is returned. Context cancellation stops the loop.
func (r Retry) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return backoff.Retry(func() error { return op(ctx) }, r.policy(ctx))
}
