package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("down")
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 4}, func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	wantErr := errors.New("bad input")
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5}, func(ctx context.Context) error {
		calls++
		return Permanent(wantErr)
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected unwrapped permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single call, got %d", calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single call before cancel, got %d", calls)
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	const threshold = 3
	cb := NewCircuitBreaker(threshold, time.Hour)
	boom := errors.New("storage down")

	attempts := 0
	op := func(ctx context.Context) error {
		attempts++
		return boom
	}

	for i := 0; i < threshold; i++ {
		if err := cb.Do(context.Background(), op); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected op error, got %v", i, err)
		}
	}
	if !cb.Open() {
		t.Fatalf("expected breaker open after %d failures", threshold)
	}

	// Open breaker rejects without invoking the operation.
	if err := cb.Do(context.Background(), op); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if attempts != threshold {
		t.Fatalf("expected op untouched while open, got %d attempts", attempts)
	}
}

func TestBreakerHalfOpenTrialClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	boom := errors.New("storage down")

	if err := cb.Do(context.Background(), func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected failure, got %v", err)
	}
	if !cb.Open() {
		t.Fatalf("expected open breaker")
	}

	time.Sleep(20 * time.Millisecond)

	// One trial call is admitted and closes the breaker on success.
	if err := cb.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected trial success, got %v", err)
	}
	if cb.Open() {
		t.Fatalf("expected closed breaker after trial success")
	}
	if err := cb.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected normal admission after close, got %v", err)
	}
}

func TestBreakerHalfOpenTrialReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	boom := errors.New("storage down")

	_ = cb.Do(context.Background(), func(ctx context.Context) error { return boom })
	time.Sleep(20 * time.Millisecond)

	if err := cb.Do(context.Background(), func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected trial failure, got %v", err)
	}
	if !cb.Open() {
		t.Fatalf("expected reopened breaker after failed trial")
	}
}

func TestBreakerSingleTrialAtATime(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Millisecond)
	_ = cb.Do(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	time.Sleep(5 * time.Millisecond)

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = cb.Do(context.Background(), func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	// Second call during the pending trial is rejected.
	if err := cb.Do(context.Background(), func(ctx context.Context) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection during pending trial, got %v", err)
	}
	close(release)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Hour)
	boom := errors.New("down")

	_ = cb.Do(context.Background(), func(ctx context.Context) error { return boom })
	_ = cb.Do(context.Background(), func(ctx context.Context) error { return nil })
	_ = cb.Do(context.Background(), func(ctx context.Context) error { return boom })

	if cb.Open() {
		t.Fatalf("expected closed breaker: non-consecutive failures must not trip it")
	}
}
