package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	if lvl, ok := ParseLevel("debug"); !ok || lvl != slog.LevelDebug {
		t.Fatalf("expected debug, got %v ok=%v", lvl, ok)
	}
	if lvl, ok := ParseLevel("warning"); !ok || lvl != slog.LevelWarn {
		t.Fatalf("expected warn, got %v ok=%v", lvl, ok)
	}
	if lvl, ok := ParseLevel("loud"); ok || lvl != slog.LevelInfo {
		t.Fatalf("expected info fallback, got %v ok=%v", lvl, ok)
	}
}

func TestInitLoggerJSONWithComponent(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := InitLoggerTo(&buf, "info", "json")
	NewComponentLogger(logger, "pipeline").Info("pipeline_delivered", "request_id", "r-1")

	out := buf.String()
	if !strings.Contains(out, `"component":"pipeline"`) {
		t.Fatalf("expected component attribute, got %s", out)
	}
	if !strings.Contains(out, `"msg":"pipeline_delivered"`) {
		t.Fatalf("expected event message, got %s", out)
	}
}

func TestInitLoggerWarnsOnUnknownFormat(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	InitLoggerTo(&buf, "info", "xml")
	if !strings.Contains(buf.String(), "invalid log format") {
		t.Fatalf("expected format warning, got %s", buf.String())
	}
}
