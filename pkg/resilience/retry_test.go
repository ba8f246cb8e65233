package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock fires immediately and records every requested delay.
type fakeClock struct {
	delays []time.Duration
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	f.delays = append(f.delays, d)
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func TestRetrySucceedsOnLastAttempt(t *testing.T) {
	clock := &fakeClock{}
	failures := 19
	attempts := 0

	err := Retry(context.Background(), "test", RetryConfig{Clock: clock}, func() error {
		attempts++
		if attempts <= failures {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 20 {
		t.Errorf("expected 20 attempts, got %d", attempts)
	}
	if len(clock.delays) != 19 {
		t.Errorf("expected 19 backoff waits, got %d", len(clock.delays))
	}
	final := clock.delays[len(clock.delays)-1]
	if final > time.Hour {
		t.Errorf("final delay %v exceeds max delay", final)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	clock := &fakeClock{}
	attempts := 0

	err := Retry(context.Background(), "test", RetryConfig{Clock: clock}, func() error {
		attempts++
		return errors.New("always failing")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 20 {
		t.Errorf("expected 20 attempts, got %d", attempts)
	}
}

func TestRetryBackoffSchedule(t *testing.T) {
	clock := &fakeClock{}
	attempts := 0

	_ = Retry(context.Background(), "test", RetryConfig{
		MaxAttempts:  6,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Clock:        clock,
	}, func() error {
		attempts++
		return errors.New("transient")
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond, // capped
		500 * time.Millisecond,
	}
	if len(clock.delays) != len(want) {
		t.Fatalf("expected %d delays, got %d", len(want), len(clock.delays))
	}
	for i, d := range want {
		if clock.delays[i] != d {
			t.Errorf("delay %d: expected %v, got %v", i, d, clock.delays[i])
		}
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	fatal := errors.New("fatal")
	attempts := 0

	err := Retry(context.Background(), "test", RetryConfig{
		Clock:   &fakeClock{},
		RetryIf: func(err error) bool { return !errors.Is(err, fatal) },
	}, func() error {
		attempts++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected no retries for a non-retryable error, got %d attempts", attempts)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Retry(ctx, "test", RetryConfig{Clock: &fakeClock{}}, func() error {
		attempts++
		cancel()
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation stopped the loop, got %d", attempts)
	}
}
