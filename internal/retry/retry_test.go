package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoReturnsLastErrorAfterExhaustion(t *testing.T) {
	calls := 0
	wantErr := errors.New("upstream down")
	err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoZeroAttemptsTreatedAsOne(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, func(ctx context.Context) error {
		calls++
		return errors.New("nope")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoAttemptTimeoutBoundsEachAttempt(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Do(context.Background(), Policy{MaxAttempts: 2, Backoff: time.Millisecond, AttemptTimeout: 20 * time.Millisecond}, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if err == nil {
		t.Fatal("expected error after both attempts timed out")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (timeout cancels the attempt, not the whole run)", calls)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("took %v, attempt timeouts did not bound the attempts", elapsed)
	}
}

func TestDoStopsWhenParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, Policy{MaxAttempts: 10, Backoff: 50 * time.Millisecond}, func(ctx context.Context) error {
		calls++
		return errors.New("flaky")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls >= 10 {
		t.Errorf("calls = %d, cancellation did not stop the retries", calls)
	}
}
