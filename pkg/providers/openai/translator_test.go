package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/resilience"
)

type chatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestTranslateSendsInstructionAndText(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" Good morning "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	tr := New(Config{APIKey: "sk-test", BaseURL: srv.URL})
	res, err := tr.Translate(context.Background(), "Subax wanaagsan")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.Text != "Good morning" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if got.Model != DefaultModel || got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || !strings.Contains(got.Messages[0].Content, "Somali") {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
	if got.Messages[1].Content != "Subax wanaagsan" {
		t.Fatalf("unexpected user message %q", got.Messages[1].Content)
	}
}

func TestTranslateRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	_, err := New(Config{APIKey: "k", BaseURL: srv.URL}).Translate(context.Background(), "x")
	if !errorsx.HasReason(err, errorsx.ReasonTranslateRateLimit) || !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestTranslateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	_, err := New(Config{APIKey: "k", BaseURL: srv.URL}).Translate(context.Background(), "x")
	if !errorsx.HasReason(err, errorsx.ReasonTranslateTransport) {
		t.Fatalf("expected transport reason, got %v", err)
	}
}

func TestTranslateEmptyChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"  "}}]}`))
	}))
	defer srv.Close()

	_, err := New(Config{APIKey: "k", BaseURL: srv.URL}).Translate(context.Background(), "x")
	if !errorsx.HasReason(err, errorsx.ReasonTranslateEmpty) {
		t.Fatalf("expected empty reason, got %v", err)
	}
}

func TestStreamDeliversFragmentsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Errorf("expected stream request")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Good", " morning", ", friend"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	ch, err := New(Config{APIKey: "k", BaseURL: srv.URL}).Stream(context.Background(), "Subax wanaagsan saaxiib")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var sb strings.Builder
	n := 0
	for d := range ch {
		if d.Err != nil {
			t.Fatalf("delta error: %v", d.Err)
		}
		sb.WriteString(d.Text)
		n++
	}
	if sb.String() != "Good morning, friend" || n != 3 {
		t.Fatalf("unexpected stream %q in %d fragments", sb.String(), n)
	}
}

func TestStreamRateLimitBeforeFirstFragment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"requests"}}`))
	}))
	defer srv.Close()

	_, err := New(Config{APIKey: "k", BaseURL: srv.URL}).Stream(context.Background(), "x")
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}
