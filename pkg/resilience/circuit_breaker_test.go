package resilience

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.OnError(errors.New("bad gateway"))
	cb.OnError(RateLimitError{Provider: "openai"})
	if !cb.Allow() {
		t.Fatalf("breaker should stay closed below threshold")
	}
	cb.OnError(fmt.Errorf("chat: %w", RateLimitError{Provider: "openai"}))
	if cb.Allow() {
		t.Fatalf("breaker should open at threshold")
	}

	now = now.Add(2 * time.Minute)
	if !cb.Allow() {
		t.Fatalf("breaker should close after cooldown")
	}
}

func TestCircuitBreakerSuccessResets(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.OnError(RateLimitError{})
	cb.OnSuccess()
	cb.OnError(RateLimitError{})
	if !cb.Allow() {
		t.Fatalf("success should reset the failure count")
	}
}

func TestCircuitBreakerRetryAfter(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(1, 30*time.Second)
	cb.now = func() time.Time { return now }
	if got := cb.RetryAfter(); got != 0 {
		t.Fatalf("closed breaker RetryAfter = %v", got)
	}
	cb.OnError(RateLimitError{Provider: "openai"})
	now = now.Add(10 * time.Second)
	if got := cb.RetryAfter(); got != 20*time.Second {
		t.Fatalf("RetryAfter = %v, want 20s", got)
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	err := RateLimitError{Provider: "openai", Message: "too many requests", RetryAfter: 5 * time.Second}
	if got := err.Error(); got != "openai: too many requests (retry in 5s)" {
		t.Fatalf("Error() = %q", got)
	}
}
