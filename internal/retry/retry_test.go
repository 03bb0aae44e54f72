package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fastConfig() *Config {
	return &Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	retries := 0
	cfg := fastConfig()
	cfg.OnRetry = func(int, error) { retries++ }

	got, err := Do(context.Background(), cfg, nil, "test", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 3 || retries != 2 {
		t.Fatalf("got=%d calls=%d retries=%d", got, calls, retries)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := fastConfig()
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	_, err := Do(context.Background(), cfg, nil, "test", func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, permanent
	})
	if err != permanent {
		t.Fatalf("expected the original error back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDoWrapsLastErrorWhenExhausted(t *testing.T) {
	boom := errors.New("boom")
	_, err := Do(context.Background(), fastConfig(), nil, "op", func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, fastConfig(), nil, "op", func(context.Context) (int, error) {
		t.Fatal("fn must not run on a cancelled context")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCalculateBackoffCaps(t *testing.T) {
	cfg := &Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, BackoffMultiplier: 2}
	if got := calculateBackoff(0, cfg); got != 100*time.Millisecond {
		t.Fatalf("attempt 0: %v", got)
	}
	if got := calculateBackoff(1, cfg); got != 200*time.Millisecond {
		t.Fatalf("attempt 1: %v", got)
	}
	if got := calculateBackoff(5, cfg); got != 300*time.Millisecond {
		t.Fatalf("attempt 5 should cap: %v", got)
	}
}
