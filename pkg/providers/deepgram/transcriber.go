// Package deepgram transcribes a finished recording by replaying it over a
// Deepgram live session and collecting the final transcript segments.
package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/logging"
	"github.com/harunnryd/turjumaad/pkg/metrics"
)

type Config struct {
	APIKey         string
	Model          string
	Language       string
	UtteranceEndMS int
	// Settle is how long to wait for trailing results once the whole file has
	// been streamed and no utterance end has arrived.
	Settle time.Duration
}

// liveClient is the subset of the SDK websocket client the transcriber drives.
type liveClient interface {
	Connect() bool
	Stream(r io.Reader) error
	Stop()
}

type dialFunc func(ctx context.Context, cb msginterfaces.LiveMessageCallback) (liveClient, error)

type Transcriber struct {
	cfg    Config
	dial   dialFunc
	logger *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "so"
	}
	if cfg.UtteranceEndMS <= 0 {
		cfg.UtteranceEndMS = 1000
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 2 * time.Second
	}
	t := &Transcriber{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram"),
	}
	t.dial = t.dialSDK
	return t
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) dialSDK(ctx context.Context, cb msginterfaces.LiveMessageCallback) (liveClient, error) {
	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          t.cfg.Model,
		Language:       t.cfg.Language,
		SmartFormat:    true,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: fmt.Sprintf("%d", t.cfg.UtteranceEndMS),
	}
	return client.NewWSUsingCallback(ctx, t.cfg.APIKey, clientOptions, transcriptOptions, cb)
}

func (t *Transcriber) Transcribe(ctx context.Context, audio transcribe.Audio) (transcribe.Result, error) {
	f, err := os.Open(audio.Path)
	if err != nil {
		return transcribe.Result{}, errorsx.Wrap(err, errorsx.ReasonTranscribeBackend)
	}
	defer f.Close()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	requestID := metrics.RequestID(ctx)
	col := newCollector(t.logger.With(slog.String("request_id", requestID)))
	dg, err := t.dial(sessCtx, col)
	if err != nil {
		return transcribe.Result{}, errorsx.Wrap(err, errorsx.ReasonTranscribeTransport)
	}
	defer dg.Stop()

	if connected := dg.Connect(); !connected {
		t.logger.Error("deepgram_connect_failed", slog.String("request_id", requestID))
		return transcribe.Result{}, errorsx.New(errorsx.ReasonTranscribeTransport, "deepgram connection failed")
	}

	streamDone := make(chan error, 1)
	go func() {
		streamDone <- dg.Stream(f)
	}()

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return transcribe.Result{}, ctx.Err()
		case err := <-streamDone:
			streamDone = nil
			if err != nil && sessCtx.Err() == nil {
				return transcribe.Result{}, errorsx.Wrap(err, errorsx.ReasonTranscribeTransport)
			}
			timer := time.NewTimer(t.cfg.Settle)
			defer timer.Stop()
			settle = timer.C
		case <-settle:
			return col.result()
		case <-col.events:
			// An utterance end can arrive between two spoken phrases; only
			// trust it once the whole file has been sent.
			if streamDone == nil || col.failed() {
				return col.result()
			}
		}
	}
}

// collector implements the SDK callback and keeps final segments in order.
type collector struct {
	logger *slog.Logger

	events chan struct{}

	mu       sync.Mutex
	segments []string
	err      error
}

func newCollector(logger *slog.Logger) *collector {
	return &collector{logger: logger, events: make(chan struct{}, 1)}
}

func (c *collector) signal() {
	select {
	case c.events <- struct{}{}:
	default:
	}
}

func (c *collector) failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err != nil
}

func (c *collector) result() (transcribe.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return transcribe.Result{}, c.err
	}
	return transcribe.Result{Text: strings.Join(c.segments, " ")}, nil
}

func (c *collector) Open(*msginterfaces.OpenResponse) error {
	c.logger.Debug("deepgram_connection_opened")
	return nil
}

func (c *collector) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if transcript == "" || !(mr.IsFinal || mr.SpeechFinal) {
		return nil
	}
	c.mu.Lock()
	c.segments = append(c.segments, transcript)
	c.mu.Unlock()
	c.logger.Debug("transcript_segment", slog.Int("chars", len(transcript)))
	return nil
}

func (c *collector) Metadata(md *msginterfaces.MetadataResponse) error {
	c.logger.Debug("deepgram_metadata_received", slog.String("deepgram_request_id", md.RequestID))
	return nil
}

func (c *collector) SpeechStarted(*msginterfaces.SpeechStartedResponse) error { return nil }

func (c *collector) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.signal()
	return nil
}

func (c *collector) Close(*msginterfaces.CloseResponse) error {
	c.logger.Debug("deepgram_connection_closed")
	c.signal()
	return nil
}

func (c *collector) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.mu.Lock()
	if c.err == nil {
		c.err = errorsx.New(errorsx.ReasonTranscribeBackend, "deepgram: "+er.ErrCode+": "+er.ErrMsg)
	}
	c.mu.Unlock()
	c.signal()
	return nil
}

func (c *collector) UnhandledEvent(byData []byte) error {
	c.logger.Debug("deepgram_unhandled_event", slog.Int("bytes", len(byData)))
	return nil
}

var _ transcribe.Transcriber = (*Transcriber)(nil)
var _ msginterfaces.LiveMessageCallback = (*collector)(nil)
