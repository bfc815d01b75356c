package huggingface

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/resilience"
)

func audioFile(t *testing.T) transcribe.Audio {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voice.wav")
	if err := os.WriteFile(path, []byte("RIFFfake"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return transcribe.Audio{Path: path, Format: "wav"}
}

func TestTranscribeSendsRawAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/Mustafaa4a/ASR-Somali" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer hf-token" {
			t.Errorf("unexpected auth %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "audio/wav" {
			t.Errorf("unexpected content type %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "RIFFfake" {
			t.Errorf("unexpected body %q", body)
		}
		_, _ = w.Write([]byte(`{"text":" Subax wanaagsan "}`))
	}))
	defer srv.Close()

	tr := New(Config{APIKey: "hf-token", BaseURL: srv.URL + "/models"})
	res, err := tr.Transcribe(context.Background(), audioFile(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "Subax wanaagsan" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestTranscribeNon2xxIsBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is currently loading"}`))
	}))
	defer srv.Close()

	_, err := New(Config{Endpoint: srv.URL}).Transcribe(context.Background(), audioFile(t))
	if !errorsx.HasReason(err, errorsx.ReasonTranscribeBackend) {
		t.Fatalf("expected backend reason, got %v", err)
	}
}

func TestTranscribeUnparsableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	_, err := New(Config{Endpoint: srv.URL}).Transcribe(context.Background(), audioFile(t))
	if !errorsx.HasReason(err, errorsx.ReasonTranscribeBackend) {
		t.Fatalf("expected backend reason, got %v", err)
	}
}

func TestTranscribeRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(Config{Endpoint: srv.URL}).Transcribe(context.Background(), audioFile(t))
	var rl resilience.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Fatalf("RetryAfter = %v, want 7s", rl.RetryAfter)
	}
}

func TestTranscribeTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Config{Endpoint: url}).Transcribe(context.Background(), audioFile(t))
	if !errorsx.HasReason(err, errorsx.ReasonTranscribeTransport) {
		t.Fatalf("expected transport reason, got %v", err)
	}
}

func TestTranscribeRetriesWhileModelLoads(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"Model is currently loading"}`))
			return
		}
		_, _ = w.Write([]byte(`{"text":"Mahadsanid"}`))
	}))
	defer srv.Close()

	tr := New(Config{Endpoint: srv.URL, Retries: 2, RetryBackoff: time.Millisecond})
	res, err := tr.Transcribe(context.Background(), audioFile(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "Mahadsanid" || calls != 2 {
		t.Fatalf("text=%q calls=%d", res.Text, calls)
	}
}

func TestTranscribeDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := New(Config{Endpoint: srv.URL, Retries: 2, RetryBackoff: time.Millisecond})
	if _, err := tr.Transcribe(context.Background(), audioFile(t)); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}
