package bridge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	}, RetryOptions{Attempts: 3, DelayMs: time.Millisecond})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, RetryOptions{Attempts: 5, DelayMs: time.Millisecond})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("boom")
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return wantErr
	}, RetryOptions{Attempts: 4, DelayMs: time.Millisecond})

	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the last attempt's error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected exactly 4 calls, got %d", calls)
	}
}

func TestDo_StopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("failing")
	}, RetryOptions{Attempts: MaxAttempts, DelayMs: time.Millisecond})

	if !IsCancelled(err) {
		t.Fatalf("expected a cancelled error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call before cancellation was observed, got %d", calls)
	}
}

func TestDo_AlreadyCancelledNeverCallsFn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func(context.Context) error {
		calls++
		return nil
	}, RetryOptions{Attempts: 3, DelayMs: time.Millisecond})

	if !IsCancelled(err) {
		t.Fatalf("expected a cancelled error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected fn to never run, got %d calls", calls)
	}
}

func TestDo_ExponentialBackoffCapsAtMaxDelay(t *testing.T) {
	var timestamps []time.Time
	err := Do(context.Background(), func(context.Context) error {
		timestamps = append(timestamps, time.Now())
		if len(timestamps) < 4 {
			return errors.New("retry me")
		}
		return nil
	}, RetryOptions{Attempts: 5, DelayMs: 2 * time.Millisecond, Exponential: true, MaxDelayMs: 4 * time.Millisecond})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(timestamps) != 4 {
		t.Fatalf("expected 4 attempts, got %d", len(timestamps))
	}

	gap := timestamps[3].Sub(timestamps[2])
	if gap > 50*time.Millisecond {
		t.Fatalf("expected the final gap to stay near the capped delay, got %v", gap)
	}
}
