package translate

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/metrics"
	"github.com/harunnryd/turjumaad/pkg/resilience"
)

// Breaker wraps a Translator with rate-limit circuit breaking.
type Breaker struct {
	inner   Translator
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
	open    bool
	mu      sync.Mutex
}

// StreamingBreaker is a Breaker over a StreamingTranslator.
type StreamingBreaker struct {
	*Breaker
	stream StreamingTranslator
}

// WithBreaker wraps inner. The result streams if and only if inner streams.
func WithBreaker(inner Translator, breaker *resilience.CircuitBreaker, obs metrics.Observer) Translator {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	b := &Breaker{inner: inner, breaker: breaker, obs: metrics.OrNoop(obs)}
	if st, ok := Streaming(inner); ok {
		return &StreamingBreaker{Breaker: b, stream: st}
	}
	return b
}

func (b *Breaker) Name() string { return b.inner.Name() }

func (b *Breaker) Translate(ctx context.Context, text string) (Result, error) {
	if err := b.admit(); err != nil {
		return Result{}, err
	}
	res, err := b.inner.Translate(ctx, text)
	if err != nil {
		b.fail(err)
		return Result{}, err
	}
	b.breaker.OnSuccess()
	return res, nil
}

func (s *StreamingBreaker) Stream(ctx context.Context, text string) (<-chan Delta, error) {
	if err := s.admit(); err != nil {
		return nil, err
	}
	ch, err := s.stream.Stream(ctx, text)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	s.breaker.OnSuccess()
	return ch, nil
}

func (b *Breaker) admit() error {
	if wait := b.breaker.RetryAfter(); wait > 0 {
		b.setOpen(true)
		b.record(metrics.EventBreakerDenied)
		return errorsx.Wrap(resilience.RateLimitError{
			Provider:   b.Name(),
			Message:    "translation backend is rate limited",
			RetryAfter: wait,
		}, errorsx.ReasonTranslateRateLimit)
	}
	b.setOpen(false)
	return nil
}

func (b *Breaker) fail(err error) {
	if resilience.IsRateLimit(err) {
		b.record(metrics.EventRateLimit)
	}
	b.breaker.OnError(err)
}

func (b *Breaker) record(name string) {
	b.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			metrics.TagProvider:  b.inner.Name(),
			metrics.TagComponent: "translate",
		},
	})
}

func (b *Breaker) setOpen(open bool) {
	b.mu.Lock()
	changed := b.open != open
	b.open = open
	b.mu.Unlock()
	if !changed {
		return
	}
	if open {
		b.record(metrics.EventBreakerOpen)
		return
	}
	b.record(metrics.EventBreakerClose)
}
