package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/turjumaad/pkg/metrics"
)

// LatencyObserver tracks per-request stage timestamps and logs one
// "latency" line when the request terminates.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	received       time.Time
	transcoded     time.Time
	transcribed    time.Time
	firstFragment  time.Time
	translated     time.Time
	finished       time.Time
	outcome        string
	transcribeKind string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	requestID := ev.RequestID()
	if requestID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.traces[requestID]
	if t == nil {
		t = &trace{}
		o.traces[requestID] = t
	}
	switch ev.Name {
	case metrics.EventRequestReceived:
		if t.received.IsZero() {
			t.received = ev.Time
		}
	case metrics.EventTranscodeDone:
		t.transcoded = ev.Time
	case metrics.EventTranscribeDone:
		t.transcribed = ev.Time
		t.transcribeKind = ev.Tags[metrics.TagProvider]
	case metrics.EventTranslateFirst:
		if t.firstFragment.IsZero() {
			t.firstFragment = ev.Time
		}
	case metrics.EventTranslateDone:
		t.translated = ev.Time
	case metrics.EventDelivered:
		t.finished = ev.Time
		t.outcome = "delivered"
	case metrics.EventRequestFailed:
		t.finished = ev.Time
		t.outcome = "failed"
	case metrics.EventRequestUnauthorized:
		t.finished = ev.Time
		t.outcome = "rejected"
	}
	if !t.finished.IsZero() {
		o.logLocked(requestID, t)
		delete(o.traces, requestID)
	}
}

// Pending reports how many requests are still being tracked.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.traces)
}

func (o *LatencyObserver) logLocked(requestID string, t *trace) {
	o.log.Info("latency",
		"request_id", requestID,
		"outcome", t.outcome,
		"transcriber", t.transcribeKind,
		"transcode_ms", durationMs(t.received, t.transcoded),
		"transcribe_ms", durationMs(firstSet(t.transcoded, t.received), t.transcribed),
		"first_fragment_ms", durationMs(t.received, t.firstFragment),
		"translate_ms", durationMs(firstSet(t.transcribed, t.received), t.translated),
		"total_ms", durationMs(t.received, t.finished),
	)
}

func firstSet(times ...time.Time) time.Time {
	for _, ts := range times {
		if !ts.IsZero() {
			return ts
		}
	}
	return time.Time{}
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
