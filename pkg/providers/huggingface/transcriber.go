// Package huggingface calls a hosted speech-recognition endpoint that takes
// raw audio bytes and answers {"text": "..."}.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/logging"
	"github.com/harunnryd/turjumaad/pkg/resilience"
)

const (
	DefaultBaseURL = "https://api-inference.huggingface.co/models"
	DefaultModel   = "Mustafaa4a/ASR-Somali"
)

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Endpoint     string
	WaitForModel bool
	Timeout      time.Duration
	// Retries is how many extra attempts a 502/503/504 gets. Zero disables
	// retrying.
	Retries      int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
}

type Transcriber struct {
	cfg    Config
	url    string
	client *http.Client
	retry  resilience.RetryPolicy
	log    *slog.Logger
}

// errUnavailable marks responses from a model that is loading or overloaded.
var errUnavailable = errors.New("inference endpoint unavailable")

func New(cfg Config) *Transcriber {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	url := strings.TrimSpace(cfg.Endpoint)
	if url == "" {
		url = strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.Model, "/")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	retry := resilience.RetryPolicy{}
	if cfg.Retries > 0 {
		retry = resilience.NewRetryPolicy(cfg.Retries, cfg.RetryBackoff)
	}
	retry.Retryable = func(err error) bool { return errors.Is(err, errUnavailable) }
	return &Transcriber{
		cfg:    cfg,
		url:    url,
		client: client,
		retry:  retry,
		log:    logging.NewComponentLogger(slog.Default(), "huggingface_asr"),
	}
}

func (t *Transcriber) Name() string { return "huggingface" }

type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

func (t *Transcriber) Transcribe(ctx context.Context, audio transcribe.Audio) (transcribe.Result, error) {
	body, err := os.ReadFile(audio.Path)
	if err != nil {
		return transcribe.Result{}, errorsx.Wrap(fmt.Errorf("read audio: %w", err), errorsx.ReasonTranscribeTransport)
	}
	var res transcribe.Result
	attempt := 0
	err = t.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			t.log.Info("inference_retry", "attempt", attempt)
		}
		var err error
		res, err = t.infer(ctx, body, audio.Format)
		return err
	})
	return res, err
}

func (t *Transcriber) infer(ctx context.Context, body []byte, format string) (transcribe.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return transcribe.Result{}, errorsx.Wrap(err, errorsx.ReasonTranscribeTransport)
	}
	req.Header.Set("Content-Type", contentType(format))
	req.Header.Set("Accept", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
	if t.cfg.WaitForModel {
		req.Header.Set("x-wait-for-model", "true")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return transcribe.Result{}, errorsx.Wrap(fmt.Errorf("inference request: %w", err), errorsx.ReasonTranscribeTransport)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return transcribe.Result{}, errorsx.Wrap(fmt.Errorf("read response: %w", err), errorsx.ReasonTranscribeTransport)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return transcribe.Result{}, errorsx.Wrap(resilience.RateLimitError{
			Provider:   t.Name(),
			Message:    errorMessage(raw),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}, errorsx.ReasonTranscribeBackend)
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		t.log.Warn("inference_unavailable", "status", resp.StatusCode)
		return transcribe.Result{}, errorsx.Errorf(errorsx.ReasonTranscribeBackend, "%w (%d): %s", errUnavailable, resp.StatusCode, errorMessage(raw))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.log.Warn("inference_http_error", "status", resp.StatusCode)
		return transcribe.Result{}, errorsx.Errorf(errorsx.ReasonTranscribeBackend, "inference endpoint returned %d: %s", resp.StatusCode, errorMessage(raw))
	}

	var out inferenceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return transcribe.Result{}, errorsx.Wrap(fmt.Errorf("decode inference response: %w", err), errorsx.ReasonTranscribeBackend)
	}
	if out.Error != "" {
		return transcribe.Result{}, errorsx.Wrap(errors.New(out.Error), errorsx.ReasonTranscribeBackend)
	}
	return transcribe.Result{Text: strings.TrimSpace(out.Text)}, nil
}

func errorMessage(raw []byte) string {
	var out inferenceResponse
	if json.Unmarshal(raw, &out) == nil && out.Error != "" {
		return out.Error
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func contentType(format string) string {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "wav":
		return "audio/wav"
	case "ogg", "oga", "opus":
		return "audio/ogg"
	case "mp3":
		return "audio/mpeg"
	case "flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

var _ transcribe.Transcriber = (*Transcriber)(nil)

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
