package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyRetriesUntilSuccess(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("busy")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	p := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond, Retryable: func(err error) bool {
		return !errors.Is(err, permanent)
	}}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, Backoff: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	calls := 0
	start := time.Now()
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("busy")
	})
	if err == nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("backoff ignored cancellation")
	}
}

func TestNewRetryPolicyDefaults(t *testing.T) {
	p := NewRetryPolicy(0, 0)
	if p.MaxRetries != 2 || p.Backoff != 200*time.Millisecond {
		t.Fatalf("defaults = %+v", p)
	}
}
