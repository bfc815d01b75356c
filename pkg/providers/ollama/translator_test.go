package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/harunnryd/turjumaad/pkg/errorsx"
)

func TestTranslate(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"response":" Good morning\n","done":true}`))
	}))
	defer srv.Close()

	res, err := New(Config{URL: srv.URL, Model: "m"}).Translate(context.Background(), "Subax wanaagsan")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.Text != "Good morning" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if got.Stream || got.Model != "m" || got.Prompt != "Subax wanaagsan" || !strings.Contains(got.System, "Somali") {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestTranslateErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		reason errorsx.ReasonCode
	}{
		{"http status", http.StatusInternalServerError, `oops`, errorsx.ReasonTranslateTransport},
		{"error field", http.StatusOK, `{"error":"model not found"}`, errorsx.ReasonTranslateTransport},
		{"empty", http.StatusOK, `{"response":"  ","done":true}`, errorsx.ReasonTranslateEmpty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			_, err := New(Config{URL: srv.URL}).Translate(context.Background(), "x")
			if !errorsx.HasReason(err, tc.reason) {
				t.Fatalf("expected %s, got %v", tc.reason, err)
			}
		})
	}
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, part := range []string{"Good", " morning"} {
			fmt.Fprintf(w, "{\"response\":%q,\"done\":false}\n", part)
		}
		fmt.Fprint(w, "{\"response\":\"\",\"done\":true}\n")
		fmt.Fprint(w, "{\"response\":\"ignored\",\"done\":false}\n")
	}))
	defer srv.Close()

	ch, err := New(Config{URL: srv.URL}).Stream(context.Background(), "x")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var parts []string
	for d := range ch {
		if d.Err != nil {
			t.Fatalf("delta error: %v", d.Err)
		}
		parts = append(parts, d.Text)
	}
	if strings.Join(parts, "|") != "Good| morning" {
		t.Fatalf("unexpected parts %v", parts)
	}
}

func TestIsAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"qwen2.5:7b"},{"name":"llama3:latest"}]}`))
	}))
	defer srv.Close()

	if err := New(Config{URL: srv.URL}).IsAvailable(context.Background()); err != nil {
		t.Fatalf("default model should be available: %v", err)
	}
	if err := New(Config{URL: srv.URL, Model: "llama3"}).IsAvailable(context.Background()); err != nil {
		t.Fatalf("latest tag should match: %v", err)
	}
	if err := New(Config{URL: srv.URL, Model: "mistral"}).IsAvailable(context.Background()); err == nil {
		t.Fatalf("expected missing model error")
	}
}

func TestWarmLoadsModel(t *testing.T) {
	var (
		mu    sync.Mutex
		loads []generateRequest
	)
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(loads)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"qwen2.5:7b"}]}`))
		case "/api/generate":
			var req generateRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			mu.Lock()
			loads = append(loads, req)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"model":"qwen2.5:7b","response":"","done":true,"done_reason":"load"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	if err := New(Config{URL: srv.URL, KeepAlive: "1h"}).Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if n := count(); n != 1 {
		t.Fatalf("expected one load request, got %d", n)
	}
	if got := loads[0]; got.Prompt != "" || got.System != "" || got.Stream || got.KeepAlive != "1h" || got.Model != "qwen2.5:7b" {
		t.Fatalf("unexpected load request %+v", got)
	}

	if err := New(Config{URL: srv.URL, Model: "mistral"}).Warm(context.Background()); err == nil {
		t.Fatalf("expected missing model error")
	}
	if count() != 1 {
		t.Fatalf("missing model should not be loaded")
	}
}

func TestWarmReportsLoadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[{"name":"qwen2.5:7b"}]}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model requires more system memory"}`))
	}))
	defer srv.Close()

	err := New(Config{URL: srv.URL}).Warm(context.Background())
	if err == nil || !strings.Contains(err.Error(), "more system memory") {
		t.Fatalf("expected load failure, got %v", err)
	}
}

func TestRequestsKeepModelLoaded(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"response":"Good morning","done":true}`))
	}))
	defer srv.Close()

	if _, err := New(Config{URL: srv.URL}).Translate(context.Background(), "Subax wanaagsan"); err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got.KeepAlive != DefaultKeepAlive {
		t.Fatalf("keep_alive = %q, want %q", got.KeepAlive, DefaultKeepAlive)
	}
}
