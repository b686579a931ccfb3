package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	res := Do(context.Background(), fastConfig(), func() error { return nil })
	if res.Err != nil {
		t.Fatalf("Err = %v, want nil", res.Err)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if res.Err != nil {
		t.Fatalf("Err = %v, want nil", res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")
	res := Do(context.Background(), fastConfig(), func() error {
		calls++
		return Permanent(sentinel)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(res.Err, sentinel) {
		t.Errorf("Err = %v, want wrapped %v", res.Err, sentinel)
	}
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(), func() error {
		calls++
		return errors.New("still down")
	})
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (1 + 3 retries)", calls)
	}
	if res.Err == nil {
		t.Error("Err = nil, want last failure")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Do(ctx, fastConfig(), func() error { return errors.New("never tried") })
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
}

func TestDo_MaxTotalBoundsLoop(t *testing.T) {
	cfg := Config{
		MaxRetries: 100,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   50 * time.Millisecond,
		MaxTotal:   10 * time.Millisecond,
	}
	start := time.Now()
	res := Do(context.Background(), cfg, func() error { return errors.New("down") })
	if res.Err == nil {
		t.Error("Err = nil, want failure")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("loop ran %v, want well under MaxTotal slack", elapsed)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (first backoff exceeds total budget)", res.Attempts)
	}
}

func TestIsPermanent(t *testing.T) {
	if IsPermanent(errors.New("plain")) {
		t.Error("plain error reported permanent")
	}
	if !IsPermanent(Permanent(errors.New("plain"))) {
		t.Error("wrapped error not reported permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
}
