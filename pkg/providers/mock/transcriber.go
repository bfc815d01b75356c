package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
)

type TranscriberConfig struct {
	Text        string
	Translation string
	Err         error
	Delay       time.Duration
}

// Transcriber returns a canned transcript, optionally after a delay that
// respects cancellation.
type Transcriber struct {
	cfg   TranscriberConfig
	calls atomic.Int64
}

func NewTranscriber(cfg TranscriberConfig) *Transcriber {
	return &Transcriber{cfg: cfg}
}

func (t *Transcriber) Name() string { return "mock_transcriber" }

func (t *Transcriber) Calls() int { return int(t.calls.Load()) }

func (t *Transcriber) Transcribe(ctx context.Context, _ transcribe.Audio) (transcribe.Result, error) {
	t.calls.Add(1)
	if t.cfg.Delay > 0 {
		timer := time.NewTimer(t.cfg.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return transcribe.Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	if t.cfg.Err != nil {
		return transcribe.Result{}, t.cfg.Err
	}
	return transcribe.Result{Text: t.cfg.Text, Translation: t.cfg.Translation}, nil
}

var _ transcribe.Transcriber = (*Transcriber)(nil)
