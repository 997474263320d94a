// Package retry runs remote calls with bounded exponential backoff.
// Only transient failures are retried; expected outcomes and invariant
// violations return immediately.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/infra/metrics"
)

// Config configures backoff.
type Config struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay after the first failure (doubles each retry)
	MaxDelay    time.Duration // cap on a single delay
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    3 * time.Second,
	}
}

// Delay returns the backoff before attempt n (1-based; attempt 1 has no delay).
func (c Config) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := c.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay > c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Do calls op until it succeeds, fails with a non-transient error, attempts
// run out, or ctx ends. After exhausting attempts the last error is returned
// wrapped with domain.ErrTransient.
func Do(ctx context.Context, cfg Config, name string, op func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if d := cfg.Delay(attempt); d > 0 {
			metrics.Retries.WithLabelValues(name).Inc()
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: %w (last error: %v)", name, ctx.Err(), err)
			case <-timer.C:
			}
		}

		err = op(ctx)
		if err == nil || !domain.IsTransient(err) {
			return err
		}
		slog.Debug("transient failure", "component", "retry", "op", name, "attempt", attempt, "error", err)
	}

	slog.Warn("retries exhausted", "component", "retry", "op", name, "attempts", attempts, "error", err)
	return fmt.Errorf("%s: giving up after %d attempts: %w", name, attempts, err)
}

// Value is Do for operations that return a value.
func Value[T any](ctx context.Context, cfg Config, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
