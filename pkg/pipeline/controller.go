// Package pipeline turns one inbound chat message into one translated reply.
//
// A Controller is shared by all requests. Each call to Handle runs the state
// machine for a single request: authorization, routing, the voice chain
// (scratch files, transcoding, transcription) and translation. Every failure
// is caught at the Handle boundary and mapped to a single user-facing message.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
	"github.com/harunnryd/turjumaad/pkg/adapters/translate"
	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/logging"
	"github.com/harunnryd/turjumaad/pkg/metrics"
	"github.com/harunnryd/turjumaad/pkg/redact"
	"github.com/harunnryd/turjumaad/pkg/scratch"
	"github.com/harunnryd/turjumaad/pkg/workpool"
)

const (
	DefaultStreamInterval = time.Second
	canonicalSuffix       = ".wav"
	notifyTimeout         = 10 * time.Second
)

type StreamingOptions struct {
	Enabled bool
	// Interval is the minimum gap between two in-place edits.
	Interval time.Duration
}

type Options struct {
	Gate        Authorizer
	Transcoder  Transcoder
	Transcriber transcribe.Transcriber
	Translator  translate.Translator
	// Scratch builds the artifact store for one request. Defaults to a
	// scratch.Store in the OS temp dir.
	Scratch        ScratchFactory
	Pool           *workpool.Pool
	Observer       metrics.Observer
	Logger         *slog.Logger
	Messages       Messages
	Shortcuts      Shortcuts
	Streaming      StreamingOptions
	ShowTranscript bool
}

type Controller struct {
	gate           Authorizer
	transcoder     Transcoder
	transcriber    transcribe.Transcriber
	translator     translate.Translator
	scratch        ScratchFactory
	pool           *workpool.Pool
	obs            metrics.Observer
	log            *slog.Logger
	messages       Messages
	shortcuts      Shortcuts
	streaming      StreamingOptions
	showTranscript bool
	now            func() time.Time
}

func NewController(opts Options) (*Controller, error) {
	switch {
	case opts.Gate == nil:
		return nil, errors.New("pipeline: authorizer is required")
	case opts.Transcoder == nil:
		return nil, errors.New("pipeline: transcoder is required")
	case opts.Transcriber == nil:
		return nil, errors.New("pipeline: transcriber is required")
	case opts.Translator == nil:
		return nil, errors.New("pipeline: translator is required")
	}
	if opts.Scratch == nil {
		opts.Scratch = func(requestID string) Scratch { return scratch.NewStore("", requestID) }
	}
	if opts.Pool == nil {
		opts.Pool = workpool.New(0)
	}
	if opts.Streaming.Interval <= 0 {
		opts.Streaming.Interval = DefaultStreamInterval
	}
	if opts.Shortcuts == nil {
		opts.Shortcuts = DefaultShortcuts()
	}
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	return &Controller{
		gate:           opts.Gate,
		transcoder:     opts.Transcoder,
		transcriber:    opts.Transcriber,
		translator:     opts.Translator,
		scratch:        opts.Scratch,
		pool:           opts.Pool,
		obs:            metrics.OrNoop(opts.Observer),
		log:            logging.NewComponentLogger(base, "pipeline"),
		messages:       opts.Messages.withDefaults(),
		shortcuts:      opts.Shortcuts,
		streaming:      opts.Streaming,
		showTranscript: opts.ShowTranscript,
		now:            time.Now,
	}, nil
}

// Handle runs one request to a terminal state. It never returns an error and
// never panics; the Outcome says how the request ended.
func (c *Controller) Handle(ctx context.Context, req Request, sink Sink) (out Outcome) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = metrics.WithRequestID(ctx, req.ID)
	r := &run{
		c:     c,
		req:   req,
		sink:  sink,
		log:   c.log.With(slog.String("request_id", req.ID)),
		start: c.now(),
	}
	r.record(metrics.EventRequestReceived, 0, map[string]string{"kind": string(req.Kind)})
	r.log.Info("request_received",
		slog.String("kind", string(req.Kind)),
		slog.String("sender", redact.Sender(req.SenderID)))

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("pipeline_panic", slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
			out = r.fail(ctx, errorsx.Errorf(errorsx.ReasonPanic, "panic: %v", p))
		}
	}()
	return r.execute(ctx)
}

// run is the state of one Handle call. It is never shared.
type run struct {
	c     *Controller
	req   Request
	sink  Sink
	log   *slog.Logger
	start time.Time

	state         State
	trace         []State
	errorReplied  bool
	deliveryError bool
}

func (r *run) execute(ctx context.Context) Outcome {
	r.enter(StateAuthorizing)
	if !r.c.gate.IsAuthorized(r.req.SenderID) {
		r.enter(StateRejected)
		r.record(metrics.EventRequestUnauthorized, 0, nil)
		r.log.Warn("request_unauthorized", slog.String("sender", redact.Sender(r.req.SenderID)))
		r.notify(ctx, r.c.messages.Unauthorized)
		return r.outcome("")
	}

	r.enter(StateRouting)
	var err error
	switch r.req.Kind {
	case KindText:
		if reply, ok := r.c.shortcuts.lookup(r.req.Text); ok {
			r.menu(ctx, reply)
			return r.delivered()
		}
		r.enter(StateTextPath)
		err = r.text(ctx)
	case KindVoice:
		r.enter(StateVoicePath)
		err = r.voice(ctx)
	default:
		err = errorsx.Errorf(errorsx.ReasonEmptyInput, "unsupported message kind %q", r.req.Kind)
	}
	if err != nil {
		return r.fail(ctx, err)
	}
	return r.delivered()
}

func (r *run) text(ctx context.Context) error {
	text := strings.TrimSpace(r.req.Text)
	if text == "" {
		return errorsx.New(errorsx.ReasonEmptyInput, "empty text message")
	}
	return r.translate(ctx, text, "")
}

func (r *run) voice(ctx context.Context) error {
	if r.req.Audio == nil {
		return errorsx.New(errorsx.ReasonAudioFetch, "voice message carries no audio")
	}
	store := r.c.scratch(r.req.ID)
	acquired := 0
	defer func() {
		store.ReleaseAll()
		if acquired > 0 {
			r.record(metrics.EventArtifactReleased, float64(acquired), nil)
		}
	}()

	r.enter(StateAcquiring)
	acquire := func(suffix string) (string, error) {
		path, err := store.Acquire(suffix)
		if err != nil {
			return "", errorsx.Wrap(err, errorsx.ReasonAcquire)
		}
		acquired++
		r.record(metrics.EventArtifactAcquired, 0, map[string]string{"suffix": suffix})
		return path, nil
	}
	src, err := acquire(r.req.Audio.Suffix())
	if err != nil {
		return err
	}
	if err := fetchTo(ctx, r.req.Audio, src); err != nil {
		return err
	}
	dst, err := acquire(canonicalSuffix)
	if err != nil {
		return err
	}

	r.enter(StateTranscoding)
	err = r.c.pool.Run(ctx, func(ctx context.Context) error {
		return r.c.transcoder.Transcode(ctx, src, dst)
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTranscode)
	}
	r.record(metrics.EventTranscodeDone, 0, nil)

	r.enter(StateTranscribing)
	res, err := r.c.transcriber.Transcribe(ctx, transcribe.Audio{Path: dst, Format: strings.TrimPrefix(canonicalSuffix, ".")})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTranscribeBackend)
	}
	transcript := strings.TrimSpace(res.Text)
	r.record(metrics.EventTranscribeDone, float64(len(transcript)), map[string]string{metrics.TagProvider: r.c.transcriber.Name()})
	if transcript == "" {
		return errorsx.New(errorsx.ReasonTranscribeEmpty, "nothing recognized in audio")
	}
	r.log.Debug("transcript_ready", slog.String("text", redact.Preview(transcript, 80)))

	// A job that translated on its own makes the translator unnecessary.
	if translation := strings.TrimSpace(res.Translation); translation != "" {
		r.record(metrics.EventTranslateDone, float64(len(translation)), map[string]string{metrics.TagProvider: r.c.transcriber.Name()})
		return r.send(ctx, Result{SourceText: transcript, TranslatedText: translation})
	}
	if t, ok := r.c.transcriber.(transcribe.Translating); ok && t.ProvidesTranslation() {
		r.enter(StateFallback)
		r.log.Debug("translation_fallback", slog.String("transcriber", r.c.transcriber.Name()))
	}
	return r.translate(ctx, transcript, transcript)
}

func (r *run) translate(ctx context.Context, text, transcript string) error {
	r.enter(StateTranslating)
	if st, ok := translate.Streaming(r.c.translator); ok && r.c.streaming.Enabled {
		return r.stream(ctx, st, text, transcript)
	}
	res, err := r.c.translator.Translate(ctx, text)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTranslateTransport)
	}
	translated := strings.TrimSpace(res.Text)
	if translated == "" {
		return errorsx.New(errorsx.ReasonTranslateEmpty, "translation is empty")
	}
	r.record(metrics.EventTranslateDone, float64(len(translated)), map[string]string{metrics.TagProvider: r.c.translator.Name()})
	return r.send(ctx, Result{SourceText: transcript, TranslatedText: translated})
}

func (r *run) send(ctx context.Context, res Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := r.sink.Send(ctx, r.rendered(res)); err != nil {
		return r.deliveryFailed(err)
	}
	return nil
}

func (r *run) deliveryFailed(err error) error {
	r.deliveryError = true
	return errorsx.Wrap(err, errorsx.ReasonDelivery)
}

// rendered drops the transcript when the operator turned it off.
func (r *run) rendered(res Result) Result {
	if !r.c.showTranscript {
		res.SourceText = ""
	}
	return res
}

func (r *run) notify(ctx context.Context, text string) {
	r.report(r.sink.Notify(ctx, text))
}

func (r *run) menu(ctx context.Context, text string) {
	if m, ok := r.sink.(MenuSink); ok {
		r.report(m.Menu(ctx, text))
		return
	}
	r.notify(ctx, text)
}

func (r *run) report(err error) {
	if err != nil {
		r.log.Warn("delivery_failed", slog.String("error", err.Error()), slog.String("reason", string(errorsx.ReasonDelivery)))
	}
}

// fail moves the request to Failed and sends the single error reply. A
// canceled request gets no reply; a request past its deadline is told so on a
// detached context.
func (r *run) fail(ctx context.Context, err error) Outcome {
	reason := errorsx.Reason(err)
	replyCtx := ctx
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		reason = errorsx.ReasonCanceled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = errorsx.ReasonDeadline
		var cancel context.CancelFunc
		replyCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
	}
	r.enter(StateFailed)
	r.record(metrics.EventRequestFailed, 0, map[string]string{metrics.TagReason: string(reason)})
	r.log.Warn("pipeline_failed",
		slog.String("reason", string(reason)),
		slog.String("error", err.Error()),
		slog.Int64("duration_ms", r.c.now().Sub(r.start).Milliseconds()))

	// A broken sink would only fail again.
	if reason != errorsx.ReasonCanceled && !r.deliveryError && !r.errorReplied {
		r.errorReplied = true
		r.notify(replyCtx, r.c.messages.forFailure(r.req.Kind, reason))
	}
	return r.outcome(reason)
}

func (r *run) delivered() Outcome {
	r.enter(StateDelivered)
	r.record(metrics.EventDelivered, float64(r.c.now().Sub(r.start).Milliseconds()), nil)
	r.log.Info("request_delivered", slog.Int64("duration_ms", r.c.now().Sub(r.start).Milliseconds()))
	return r.outcome("")
}

func (r *run) outcome(reason errorsx.ReasonCode) Outcome {
	return Outcome{State: r.state, Reason: string(reason), Trace: append([]State(nil), r.trace...)}
}

func (r *run) enter(s State) {
	r.state = s
	r.trace = append(r.trace, s)
	r.record(metrics.EventStateChanged, 0, map[string]string{metrics.TagState: s.String()})
}

func (r *run) record(name string, value float64, tags map[string]string) {
	all := map[string]string{
		metrics.TagRequestID: r.req.ID,
		metrics.TagComponent: "pipeline",
	}
	for k, v := range tags {
		all[k] = v
	}
	r.c.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  r.c.now(),
		Value: value,
		Tags:  all,
	})
}
