package taskapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/metrics"
)

type fakeJobServer struct {
	statuses []statusResponse
	polls    atomic.Int32
	upload   string
}

func (f *fakeJobServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected multipart file field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(file)
		f.upload = string(b)
		_ = json.NewEncoder(w).Encode(submitResponse{TaskID: "task-7"})
	})
	mux.HandleFunc("/status/task-7", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.polls.Add(1)) - 1
		if n >= len(f.statuses) {
			n = len(f.statuses) - 1
		}
		_ = json.NewEncoder(w).Encode(f.statuses[n])
	})
	return mux
}

func audio(t *testing.T) transcribe.Audio {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voice.wav")
	if err := os.WriteFile(path, []byte("wav-bytes"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return transcribe.Audio{Path: path, Format: "wav"}
}

func newTestTranscriber(url string, attempts int, obs metrics.Observer) *Transcriber {
	return New(Config{BaseURL: url, PollInterval: 5 * time.Millisecond, MaxAttempts: attempts, Observer: obs})
}

func TestTranscribeDoneAfterPending(t *testing.T) {
	fake := &fakeJobServer{statuses: []statusResponse{
		{Status: "pending"},
		{Status: "pending"},
		{Status: "done", Result: &statusResult{Transcription: "Subax wanaagsan", English: "Good morning"}},
	}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	obs := metrics.NewMemoryObserver()
	ctx := metrics.WithRequestID(context.Background(), "req-9")
	res, err := newTestTranscriber(srv.URL, 10, obs).Transcribe(ctx, audio(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "Subax wanaagsan" || res.Translation != "Good morning" {
		t.Fatalf("unexpected result %+v", res)
	}
	if fake.upload != "wav-bytes" {
		t.Fatalf("unexpected upload %q", fake.upload)
	}
	if got := fake.polls.Load(); got != 3 {
		t.Fatalf("expected 3 polls, got %d", got)
	}
	events := obs.Snapshot()
	if len(events) != 3 || events[0].Tags[metrics.TagRequestID] != "req-9" {
		t.Fatalf("expected 3 tagged poll events, got %+v", events)
	}
}

func TestTranscribeTimesOut(t *testing.T) {
	fake := &fakeJobServer{statuses: []statusResponse{{Status: "pending"}}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	_, err := newTestTranscriber(srv.URL, 4, nil).Transcribe(context.Background(), audio(t))
	if !errorsx.HasReason(err, errorsx.ReasonTranscribeTimeout) {
		t.Fatalf("expected timeout reason, got %v", err)
	}
	if got := fake.polls.Load(); got != 4 {
		t.Fatalf("expected exactly 4 polls, got %d", got)
	}
}

func TestTranscribeFailureCarriesServerMessage(t *testing.T) {
	fake := &fakeJobServer{statuses: []statusResponse{{Status: "failure", Error: "audio too short"}}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	_, err := newTestTranscriber(srv.URL, 5, nil).Transcribe(context.Background(), audio(t))
	if !errorsx.HasReason(err, errorsx.ReasonTranscribeBackend) {
		t.Fatalf("expected backend reason, got %v", err)
	}
	if !strings.Contains(err.Error(), "audio too short") {
		t.Fatalf("expected server message, got %v", err)
	}
}

func TestTranscribePollTransportErrorIsTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"task_id":"t1"}`))
	})
	var polls atomic.Int32
	mux.HandleFunc("/status/t1", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestTranscriber(srv.URL, 5, nil).Transcribe(context.Background(), audio(t))
	if !errorsx.HasReason(err, errorsx.ReasonTranscribeTransport) {
		t.Fatalf("expected transport reason, got %v", err)
	}
	if polls.Load() != 1 {
		t.Fatalf("expected wait to stop after first failed poll, got %d", polls.Load())
	}
}

func TestAwaitStopsOnCancel(t *testing.T) {
	tr := New(Config{BaseURL: "http://127.0.0.1:1", PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.Await(ctx, NewJob("x")); err != context.Canceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestJobApplyTransitions(t *testing.T) {
	j := NewJob("a")
	if j.State != StateSubmitted {
		t.Fatalf("expected submitted")
	}
	j.Apply(statusResponse{Status: "queued"})
	if j.State != StatePending {
		t.Fatalf("unknown status should count as pending, got %s", j.State)
	}
	j.Apply(statusResponse{Status: "done", Result: &statusResult{Transcription: "x", Translation: " ", English: "y"}})
	if j.State != StateDone || j.Result.Translation != "y" {
		t.Fatalf("expected done with english fallback, got %+v", j)
	}
	j.Apply(statusResponse{Status: "failure"})
	if j.State != StateDone {
		t.Fatalf("terminal job must not change")
	}
	j.TimeOut()
	if j.State != StateDone {
		t.Fatalf("terminal job must not time out")
	}

	f := NewJob("b")
	f.Apply(statusResponse{Status: "failure"})
	if f.State != StateFailed || f.Err == "" {
		t.Fatalf("expected failed with default message, got %+v", f)
	}
}
