package source

import (
	"context"
	"math"
	"time"

	"github.com/teranos/subman/config"
	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/logger"
)

// backoffDelay returns the wait after failed attempt n (1-based):
// InitialDelay * Multiplier^(n-1), capped at MaxDelay, scaled by a jitter
// factor in [0.5, 1.5).
func backoffDelay(cfg config.RetryConfig, attempt int, jitter func() float64) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	mult := cfg.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	f := 1.0
	if jitter != nil {
		f = 0.5 + jitter()
	}
	return time.Duration(delay * f)
}

// retry runs op until it succeeds, fails with something other than a
// network failure, or the attempt budget runs out. Each attempt gets its
// own timeout.
func (r *Resolver) retry(ctx context.Context, d Descriptor, op func(context.Context) error) error {
	maxAttempts := r.retryCfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Mark(errors.Wrapf(err, "resolve %s", d.Name()), errors.ErrCancelled)
		}

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := op(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.Mark(errors.Wrapf(ctx.Err(), "resolve %s", d.Name()), errors.ErrCancelled)
		}
		if !errors.IsRetryable(err) || attempt >= maxAttempts {
			var re *ResolutionError
			if errors.As(err, &re) {
				re.Attempts = attempt
			}
			return err
		}

		delay := backoffDelay(r.retryCfg, attempt, r.jitter)
		r.logger.Warnw("transient failure, retrying",
			logger.FieldPallet, d.Name(),
			logger.FieldAttempt, attempt,
			logger.FieldDelay, delay.String(),
			logger.FieldError, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Mark(errors.Wrapf(ctx.Err(), "resolve %s", d.Name()), errors.ErrCancelled)
		case <-timer.C:
		}
	}
}
