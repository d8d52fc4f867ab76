package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/tatianab/storyforge/internal/config"
	"github.com/tatianab/storyforge/internal/provider"
)

// retryPolicy bounds the attempts of one sub-call.
type retryPolicy struct {
	maxAttempts int
	settings    config.RetrySettings
}

func newRetryPolicy(s config.RetrySettings) retryPolicy {
	return retryPolicy{maxAttempts: max(1, s.MaxAttempts), settings: s}
}

func (p retryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.settings.InitialInterval > 0 {
		b.InitialInterval = p.settings.InitialInterval
	}
	if p.settings.MaxInterval > 0 {
		b.MaxInterval = p.settings.MaxInterval
	}
	if p.settings.Multiplier >= 1 {
		b.Multiplier = p.settings.Multiplier
	}
	b.Reset()
	return b
}

// retry calls fn until it succeeds, fails with a non-transient error, or the
// attempt ceiling is reached. Between attempts it enters PhaseRetrying and
// sleeps for the next backoff interval. It returns the last error and the
// number of attempts made.
func (r *run) retry(ctx context.Context, call string, fn func(attempt int) error) (int, error) {
	policy := newRetryPolicy(r.settings.Retry)
	b := policy.backOff()
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, context.Cause(ctx)
		}
		if !provider.IsTransient(err) || attempt >= policy.maxAttempts {
			return attempt, err
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return attempt, err
		}
		r.enter(PhaseRetrying, call, attempt+1)
		r.o.logger.Debug("retrying",
			zap.String("call", call),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := r.o.sleep(ctx, wait); err != nil {
			return attempt, context.Cause(ctx)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
