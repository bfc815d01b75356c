package metrics

import (
	"hash/fnv"
	"math"
	"sync/atomic"
)

// SamplingObserver forwards a fraction of events. Events tagged with a
// request id are sampled per request, so a kept request keeps its whole
// trail. Outcome and breaker events always pass.
type SamplingObserver struct {
	inner   Observer
	every   uint64
	counter atomic.Uint64
}

var alwaysKept = map[string]bool{
	EventDelivered:           true,
	EventRequestFailed:       true,
	EventRequestUnauthorized: true,
	EventBreakerOpen:         true,
	EventBreakerClose:        true,
}

func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	rate = math.Max(0, math.Min(1, rate))
	var every uint64
	if rate > 0 {
		every = max(1, uint64(math.Round(1/rate)))
	}
	return &SamplingObserver{inner: OrNoop(inner), every: every}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if s.keep(ev) {
		s.inner.RecordEvent(ev)
	}
}

func (s *SamplingObserver) keep(ev MetricsEvent) bool {
	switch {
	case alwaysKept[ev.Name]:
		return true
	case s.every == 0:
		return false
	case s.every == 1:
		return true
	}
	if id := ev.RequestID(); id != "" {
		h := fnv.New64a()
		h.Write([]byte(id))
		return h.Sum64()%s.every == 0
	}
	return s.counter.Add(1)%s.every == 0
}
