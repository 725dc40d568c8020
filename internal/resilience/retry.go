// Package resilience provides the retry policy and circuit breaker
// registry wrapped around every external call.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"marketlake/internal/errs"
	"marketlake/internal/observability"
)

// RetryPolicy bounds the retry loop around one unit of work.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// MaxElapsed caps attempts plus sleeps. Zero leaves the context
	// deadline as the only time cap.
	MaxElapsed time.Duration
}

// DefaultRetryPolicy matches the daemon defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     60 * time.Second,
		Multiplier:     2.0,
	}
}

// Retryer runs operations under a retry policy with shared logging and
// metrics.
type Retryer struct {
	Policy  RetryPolicy
	Log     zerolog.Logger
	Metrics *observability.Metrics
}

// Do runs op, retrying with jittered exponential backoff while the
// error is classified retryable. Non-retryable errors, including
// circuit-open and not-found, stop the loop immediately and are
// returned unchanged. The context deadline caps the total elapsed time.
func (r *Retryer) Do(ctx context.Context, operation string, op func() error) error {
	p := r.Policy
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = p.MaxElapsed
	b.Reset()

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !errs.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		r.Metrics.RecordRetry(operation)
		r.Log.Warn().
			Err(err).
			Str("operation", operation).
			Dur("backoff", delay).
			Msg("retrying after error")
	}

	policy := backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(p.MaxAttempts-1))
	return backoff.RetryNotify(wrapped, policy, notify)
}
