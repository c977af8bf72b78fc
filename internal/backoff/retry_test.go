package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2, Jitter: 0}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	res, err := Retry(context.Background(), fastPolicy(), 3, nil, func(attempt int) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if res.Value != 42 {
		t.Errorf("Value = %d, want 42", res.Value)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	res, err := Retry(context.Background(), fastPolicy(), 5, nil, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if res.Value != "ok" || res.Attempts != 3 || calls != 3 {
		t.Errorf("got value=%q attempts=%d calls=%d, want ok/3/3", res.Value, res.Attempts, calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	boom := errors.New("boom")
	res, err := Retry(context.Background(), fastPolicy(), 3, nil, func(int) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if !errors.Is(res.LastError, boom) {
		t.Errorf("LastError = %v, want boom", res.LastError)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(), 5, func(err error) bool {
		return !errors.Is(err, fatal)
	}, func(int) (int, error) {
		calls++
		return 0, fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, fastPolicy(), 3, nil, func(int) (int, error) {
		return 0, errors.New("never retried")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := SleepContext(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep did not abort on cancellation")
	}
}
