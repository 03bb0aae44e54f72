package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Config holds retry strategy configuration
type Config struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Retryable decides whether a failed attempt is replayed. Nil retries everything.
	Retryable func(error) bool
	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns sensible retry defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:       3,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Retryable is a function that can be retried
type Retryable[T any] func(ctx context.Context) (T, error)

// Do executes fn with exponential backoff. A non-retryable error is returned
// unchanged; exhausting every attempt wraps the last error.
func Do[T any](ctx context.Context, cfg *Config, log *slog.Logger, op string, fn Retryable[T]) (T, error) {
	var zero T
	var lastErr error

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}

		lastErr = err
		if attempt < attempts {
			backoff := calculateBackoff(attempt-1, cfg)
			if log != nil {
				log.Warn("operation failed, retrying",
					slog.String("operation", op),
					slog.Int("attempt", attempt),
					slog.Int("max_attempts", attempts),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)
			}
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, err)
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return zero, fmt.Errorf("operation '%s' failed after %d attempts: %w", op, attempts, lastErr)
}

// calculateBackoff returns exponential backoff duration
func calculateBackoff(attemptNum int, cfg *Config) time.Duration {
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	backoff := time.Duration(float64(cfg.InitialBackoff) * math.Pow(multiplier, float64(attemptNum)))
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	return backoff
}
