package observers

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/turjumaad/pkg/metrics"
)

func TestTimelineObserverWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	tags := map[string]string{metrics.TagRequestID: "req-1", metrics.TagState: "transcribing"}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventStateChanged, Time: time.Now(), Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventDelivered, Time: time.Now(), Tags: map[string]string{metrics.TagRequestID: "req-1"}})

	obs.mu.Lock()
	open := len(obs.files)
	obs.mu.Unlock()
	if open != 0 {
		t.Fatalf("expected file closed after terminal event, %d open", open)
	}
	_ = obs.Close()

	b, err := os.ReadFile(filepath.Join(dir, "req-1.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"state":"transcribing"`) {
		t.Fatalf("expected state tag in %s", lines[0])
	}
}

func TestTimelineObserverIgnoresUntagged(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventBreakerOpen, Time: time.Now()})
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files, got %d", len(entries))
	}
}

func TestLatencyObserverClearsOnTerminal(t *testing.T) {
	obs := NewLatencyObserver(nil)
	start := time.Now()
	tags := map[string]string{metrics.TagRequestID: "req-2"}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventRequestReceived, Time: start, Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventTranscribeDone, Time: start.Add(time.Second), Tags: tags})
	if obs.Pending() != 1 {
		t.Fatalf("expected one pending trace")
	}
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventRequestFailed, Time: start.Add(2 * time.Second), Tags: tags})
	if obs.Pending() != 0 {
		t.Fatalf("expected trace cleared, got %d", obs.Pending())
	}
}

func TestPurgeTimelinesRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	oldPath := filepath.Join(dir, "old.jsonl")
	newPath := filepath.Join(dir, "new.jsonl")
	otherPath := filepath.Join(dir, "notes.txt")
	for _, p := range []string{oldPath, newPath, otherPath} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	past := now.Add(-48 * time.Hour)
	for _, p := range []string{oldPath, otherPath} {
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	removed, err := PurgeTimelines(dir, 1, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(removed) != 1 || removed[0] != "old.jsonl" {
		t.Fatalf("unexpected removed %v", removed)
	}
	for _, p := range []string{newPath, otherPath} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s should survive: %v", filepath.Base(p), err)
		}
	}

	if removed, err := PurgeTimelines(filepath.Join(dir, "missing"), 1, now); err != nil || len(removed) != 0 {
		t.Fatalf("missing dir: removed=%v err=%v", removed, err)
	}
	if removed, _ := PurgeTimelines(dir, 0, now.AddDate(1, 0, 0)); len(removed) != 0 {
		t.Fatalf("retention 0 keeps everything, removed %v", removed)
	}
}

func TestLoggerObserverUsesEventName(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	obs := NewLoggerObserver(log)

	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventStateChanged, Tags: map[string]string{metrics.TagRequestID: "r1"}})
	if buf.Len() != 0 {
		t.Fatalf("debug event should be filtered at warn: %s", buf.String())
	}
	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventBreakerOpen,
		Tags: map[string]string{metrics.TagProvider: "openai", metrics.TagComponent: "translate"},
	})
	out := buf.String()
	for _, want := range []string{`"msg":"breaker_open"`, `"level":"WARN"`, `"provider":"openai"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestMultiObserverSkipsNil(t *testing.T) {
	a, b := metrics.NewMemoryObserver(), metrics.NewMemoryObserver()
	NewMultiObserver(a, nil, b).RecordEvent(metrics.MetricsEvent{Name: metrics.EventDelivered})
	if a.Count(metrics.EventDelivered) != 1 || b.Count(metrics.EventDelivered) != 1 {
		t.Fatalf("expected event fanned out to both observers")
	}
}
