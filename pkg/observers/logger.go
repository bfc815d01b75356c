package observers

import (
	"context"
	"log/slog"
	"sort"

	"github.com/harunnryd/turjumaad/pkg/metrics"
)

// LoggerObserver writes pipeline events to the log under their own name.
// Backend trouble is logged at warn, everything else at debug.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	ctx := context.Background()
	level := eventLevel(ev.Name)
	if !o.log.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(ev.Tags)+len(ev.Fields)+1)
	if id := ev.RequestID(); id != "" {
		attrs = append(attrs, slog.String(metrics.TagRequestID, id))
	}
	for _, k := range sortedKeys(ev.Tags) {
		if k != metrics.TagRequestID {
			attrs = append(attrs, slog.String(k, ev.Tags[k]))
		}
	}
	if ev.Value != 0 {
		attrs = append(attrs, slog.Float64("value", ev.Value))
	}
	for _, k := range sortedKeys(ev.Fields) {
		attrs = append(attrs, slog.Any(k, ev.Fields[k]))
	}
	o.log.LogAttrs(ctx, level, ev.Name, attrs...)
}

func eventLevel(name string) slog.Level {
	switch name {
	case metrics.EventBreakerOpen, metrics.EventRateLimit:
		return slog.LevelWarn
	}
	return slog.LevelDebug
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MultiObserver fans an event out to every observer in order.
type MultiObserver []metrics.Observer

func NewMultiObserver(list ...metrics.Observer) MultiObserver {
	return MultiObserver(list)
}

func (m MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}
