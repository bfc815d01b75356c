package metrics

import "time"

// MetricsEvent is one step of a request (or of a backend) as seen by the
// observers. Per-request events carry TagRequestID.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// RequestID returns the request the event belongs to, or "".
func (ev MetricsEvent) RequestID() string { return ev.Tags[TagRequestID] }

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// OrNoop returns obs, or a NoopObserver when obs is nil.
func OrNoop(obs Observer) Observer {
	if obs == nil {
		return NoopObserver{}
	}
	return obs
}
