package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// RateLimitError marks a backend refusal due to rate limiting, either from
// the provider itself (HTTP 429) or from an open breaker. RetryAfter is zero
// when unknown.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "rate limit"
	}
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry in %s)", msg, e.RetryAfter.Round(time.Second))
	}
	return msg
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// CircuitBreaker stops calls to a backend for a cooldown after threshold
// consecutive rate-limit failures. Other failures are ignored.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	strikes   int
	openUntil time.Time
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may go through.
func (c *CircuitBreaker) Allow() bool {
	return c.RetryAfter() == 0
}

// RetryAfter is the time left until the breaker closes, zero when closed.
func (c *CircuitBreaker) RetryAfter() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if left := c.openUntil.Sub(c.now()); left > 0 {
		return left
	}
	return 0
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.strikes = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

func (c *CircuitBreaker) OnError(err error) {
	if !IsRateLimit(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strikes++
	if c.strikes < c.threshold {
		return
	}
	c.strikes = 0
	c.openUntil = c.now().Add(c.cooldown)
}
