// Package taskapi talks to an asynchronous transcription service: audio is
// submitted as a job and its status is polled until it finishes.
package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/logging"
	"github.com/harunnryd/turjumaad/pkg/metrics"
)

const (
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 30
)

type Config struct {
	BaseURL      string
	APIKey       string
	SubmitPath   string
	StatusPath   string
	PollInterval time.Duration
	MaxAttempts  int
	HTTPClient   *http.Client
	Observer     metrics.Observer
}

type Transcriber struct {
	cfg    Config
	client *http.Client
	obs    metrics.Observer
	log    *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.SubmitPath == "" {
		cfg.SubmitPath = "/transcribe"
	}
	if cfg.StatusPath == "" {
		cfg.StatusPath = "/status/{task_id}"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Transcriber{
		cfg:    cfg,
		client: client,
		obs:    metrics.OrNoop(cfg.Observer),
		log:    logging.NewComponentLogger(slog.Default(), "taskapi"),
	}
}

func (t *Transcriber) Name() string { return "taskapi" }

func (t *Transcriber) ProvidesTranslation() bool { return true }

// Transcribe submits the audio and waits for the job. On timeout the remote
// job is left running; only the wait is abandoned.
func (t *Transcriber) Transcribe(ctx context.Context, audio transcribe.Audio) (transcribe.Result, error) {
	id, err := t.Submit(ctx, audio.Path)
	if err != nil {
		return transcribe.Result{}, err
	}
	job := NewJob(id)
	if err := t.Await(ctx, job); err != nil {
		return transcribe.Result{}, err
	}
	return transcribe.Result{
		Text:        job.Result.Transcription,
		Translation: job.Result.Translation,
	}, nil
}

// Submit uploads the audio as multipart field "file" and returns the task id.
func (t *Transcriber) Submit(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errorsx.Wrap(fmt.Errorf("open audio: %w", err), errorsx.ReasonTranscribeTransport)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribeTransport)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", errorsx.Wrap(fmt.Errorf("copy audio: %w", err), errorsx.ReasonTranscribeTransport)
	}
	if err := mw.Close(); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribeTransport)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(t.cfg.SubmitPath), &buf)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribeTransport)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out submitResponse
	if err := t.do(req, &out); err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if strings.TrimSpace(out.TaskID) == "" {
		return "", errorsx.New(errorsx.ReasonTranscribeBackend, "submit: response has no task_id")
	}
	t.log.Debug("job_submitted", "task_id", out.TaskID)
	return out.TaskID, nil
}

// Await polls on a fixed interval until the job is terminal or the attempt
// bound is reached. A poll transport error ends the wait.
func (t *Transcriber) Await(ctx context.Context, job *Job) error {
	timer := time.NewTimer(t.cfg.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		st, err := t.Status(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("poll %s: %w", job.ID, err)
		}
		job.Apply(st)
		t.recordPoll(ctx, job)

		switch job.State {
		case StateDone:
			return nil
		case StateFailed:
			return errorsx.New(errorsx.ReasonTranscribeBackend, job.Err)
		}
		timer.Reset(t.cfg.PollInterval)
	}

	job.TimeOut()
	t.recordPoll(ctx, job)
	t.log.Warn("job_timed_out", "task_id", job.ID, "attempts", job.Attempts)
	return errorsx.New(errorsx.ReasonTranscribeTimeout,
		fmt.Sprintf("job %s not finished after %d polls", job.ID, t.cfg.MaxAttempts))
}

// Status fetches the current status of a task.
func (t *Transcriber) Status(ctx context.Context, id string) (statusResponse, error) {
	path := strings.ReplaceAll(t.cfg.StatusPath, "{task_id}", url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint(path), nil)
	if err != nil {
		return statusResponse{}, errorsx.Wrap(err, errorsx.ReasonTranscribeTransport)
	}
	var out statusResponse
	if err := t.do(req, &out); err != nil {
		return statusResponse{}, err
	}
	return out, nil
}

func (t *Transcriber) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTranscribeTransport)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTranscribeTransport)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorsx.New(errorsx.ReasonTranscribeTransport,
			fmt.Sprintf("%s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errorsx.Wrap(fmt.Errorf("decode %s: %w", req.URL.Path, err), errorsx.ReasonTranscribeBackend)
	}
	return nil
}

func (t *Transcriber) endpoint(path string) string {
	return strings.TrimRight(t.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (t *Transcriber) recordPoll(ctx context.Context, job *Job) {
	tags := map[string]string{
		metrics.TagProvider: t.Name(),
		metrics.TagState:    string(job.State),
		"task_id":           job.ID,
	}
	if id := metrics.RequestID(ctx); id != "" {
		tags[metrics.TagRequestID] = id
	}
	t.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventTranscribeJobPoll,
		Time:  time.Now(),
		Value: float64(job.Attempts),
		Tags:  tags,
	})
}

var _ transcribe.Transcriber = (*Transcriber)(nil)
var _ transcribe.Translating = (*Transcriber)(nil)
