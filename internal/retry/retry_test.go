package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, Options{MaxRetries: 3, InitialDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, Options{MaxRetries: 5, InitialDelay: time.Millisecond, BackoffMultiplier: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustion(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	}, Options{MaxRetries: 2, InitialDelay: time.Millisecond, Context: "test op"})

	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if !IsExhausted(err) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatal("exhausted error must wrap the original cause")
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 3 || ex.Context != "test op" {
		t.Fatalf("unexpected exhausted error: %+v", ex)
	}
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	}, Options{
		MaxRetries:   5,
		InitialDelay: time.Millisecond,
		IsRetryable:  Never(),
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, fatal) || IsExhausted(err) {
		t.Fatalf("expected the original error unwrapped, got %v", err)
	}
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Do(ctx, func(ctx context.Context) error {
		cancel()
		return errors.New("transient")
	}, Options{MaxRetries: 5, InitialDelay: time.Hour})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDoOnRetryObservesDelays(t *testing.T) {
	var delays []time.Duration
	_ = Do(context.Background(), func(ctx context.Context) error {
		return errors.New("transient")
	}, Options{
		MaxRetries:        3,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	})
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("got %d delays, want %d", len(delays), len(want))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay[%d] = %s, want %s", i, delays[i], want[i])
		}
	}
}

func TestDelayForAttempt(t *testing.T) {
	// The reconnection schedule: 1s, 2s, 4s, 8s, 16s, then capped at 30s.
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		got := DelayForAttempt(i, time.Second, 2, 30*time.Second)
		if got != w {
			t.Fatalf("attempt %d: delay = %s, want %s", i, got, w)
		}
	}
}

func TestDelayForAttemptNoCap(t *testing.T) {
	if got := DelayForAttempt(3, time.Second, 2, 0); got != 8*time.Second {
		t.Fatalf("delay = %s, want 8s", got)
	}
}

func TestPredicates(t *testing.T) {
	e := errors.New("x")
	if !Always()(e) {
		t.Fatal("Always must accept")
	}
	if Never()(e) {
		t.Fatal("Never must reject")
	}
	if !Any(Never(), Always())(e) {
		t.Fatal("Any must accept when one accepts")
	}
	if All(Never(), Always())(e) {
		t.Fatal("All must reject when one rejects")
	}
}
