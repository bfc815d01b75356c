// Package turjumaad assembles the translation bot from configuration: the
// providers, the transport, the pipeline controller and the dispatcher that
// feeds it.
package turjumaad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
	"github.com/harunnryd/turjumaad/pkg/adapters/translate"
	"github.com/harunnryd/turjumaad/pkg/auth"
	"github.com/harunnryd/turjumaad/pkg/logging"
	"github.com/harunnryd/turjumaad/pkg/metrics"
	"github.com/harunnryd/turjumaad/pkg/observers"
	"github.com/harunnryd/turjumaad/pkg/pipeline"
	"github.com/harunnryd/turjumaad/pkg/redact"
	"github.com/harunnryd/turjumaad/pkg/resilience"
	"github.com/harunnryd/turjumaad/pkg/runner"
	"github.com/harunnryd/turjumaad/pkg/scratch"
	"github.com/harunnryd/turjumaad/pkg/transcode"
	"github.com/harunnryd/turjumaad/pkg/transports"
	"github.com/harunnryd/turjumaad/pkg/workpool"
)

type Engine struct {
	cfg         Config
	log         *slog.Logger
	providers   *ProviderRegistry
	transport   transports.Transport
	transcriber transcribe.Transcriber
	translator  translate.Translator
	controller  *pipeline.Controller
	dispatcher  *Dispatcher
	runner      *runner.LifecycleRunner
	asyncObs    *metrics.AsyncObserver
	timeline    *observers.TimelineObserver

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Transport overrides the one named by transports.provider.
	Transport transports.Transport
	// Transcoder overrides the ffmpeg transcoder.
	Transcoder pipeline.Transcoder
	// Observer receives every pipeline event in addition to the built-in
	// observers.
	Observer metrics.Observer
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)
	log := logging.NewComponentLogger(slog.Default(), "engine")

	log.Info("turjumaad_init",
		"environment", cfg.Environment,
		"transcribe_provider", cfg.Vendors.Transcribe.Provider,
		"translate_provider", cfg.Vendors.Translate.Provider,
		"transport", cfg.Transports.Provider,
	)

	var eventLog metrics.Observer = observers.NewLoggerObserver(slog.Default())
	if rate := cfg.Observability.EventLogSampleRate; rate > 0 && rate < 1 {
		eventLog = metrics.NewSamplingObserver(eventLog, rate)
	}
	obsList := []metrics.Observer{
		observers.NewLatencyObserver(slog.Default()),
		eventLog,
	}
	var timeline *observers.TimelineObserver
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		removed, err := observers.PurgeTimelines(dir, cfg.Observability.RetentionDays, time.Now())
		if err != nil {
			log.Warn("timeline_purge_failed", "error", err.Error())
		}
		if len(removed) > 0 {
			log.Info("timeline_purge_done", "removed", len(removed))
		}
		timeline = observers.NewTimelineObserver(dir)
		obsList = append(obsList, timeline)
	}
	if opts.Observer != nil {
		obsList = append(obsList, opts.Observer)
	}
	asyncObs := metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)

	gate, err := auth.NewGate(cfg.Auth.AllowedSenders)
	if err != nil {
		asyncObs.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
	}
	pool := workpool.New(cfg.Pipeline.HeavyConcurrency)
	deps := Deps{Pool: pool, Observer: asyncObs}

	transcriber, err := providers.BuildTranscriber(cfg.Vendors.Transcribe.Provider, cfg, deps)
	if err != nil {
		asyncObs.Close()
		return nil, fmt.Errorf("transcriber: %w", err)
	}
	release := func() {
		closeTranscriber(transcriber, log)
		asyncObs.Close()
	}
	translator, err := providers.BuildTranslator(cfg.Vendors.Translate.Provider, cfg, deps)
	if err != nil {
		release()
		return nil, fmt.Errorf("translator: %w", err)
	}
	breaker := resilience.NewCircuitBreaker(cfg.Breaker.Threshold, time.Duration(cfg.Breaker.CooldownMS)*time.Millisecond)
	translator = translate.WithBreaker(translator, breaker, asyncObs)

	transcoder := opts.Transcoder
	if transcoder == nil {
		ff := transcode.NewFFmpeg(transcode.Config{
			Binary:     cfg.Transcode.Binary,
			SampleRate: cfg.Transcode.SampleRate,
			Channels:   cfg.Transcode.Channels,
		})
		if err := ff.Check(); err != nil {
			release()
			return nil, err
		}
		transcoder = ff
	}

	scratchDir := cfg.Scratch.Dir
	controller, err := pipeline.NewController(pipeline.Options{
		Gate:        gate,
		Transcoder:  transcoder,
		Transcriber: transcriber,
		Translator:  translator,
		Scratch: func(requestID string) pipeline.Scratch {
			return scratch.NewStore(scratchDir, requestID)
		},
		Pool:      pool,
		Observer:  asyncObs,
		Messages:  cfg.Messages,
		Shortcuts: cfg.ShortcutMap(),
		Streaming: pipeline.StreamingOptions{
			Enabled:  cfg.Pipeline.Streaming,
			Interval: cfg.Pipeline.StreamInterval(),
		},
		ShowTranscript: cfg.Pipeline.ShowTranscript,
	})
	if err != nil {
		release()
		return nil, err
	}

	transport := opts.Transport
	if transport == nil {
		transport, err = providers.BuildTransport(cfg.Transports.Provider, cfg)
		if err != nil {
			release()
			return nil, fmt.Errorf("transport: %w", err)
		}
	}

	e := &Engine{
		cfg:         cfg,
		log:         log,
		providers:   providers,
		transport:   transport,
		transcriber: transcriber,
		translator:  translator,
		controller:  controller,
		dispatcher:  NewDispatcher(controller, pipeline.NewRegistry(), DispatcherOptions{Timeout: cfg.Pipeline.RequestTimeout()}),
		asyncObs:    asyncObs,
		timeline:    timeline,
	}
	e.runner = runner.NewLifecycleRunner(runner.DrainerFunc(e.drain), runner.Hooks{
		OnStart: e.logReady,
		OnStop:  e.logStopped,
	}, cfg.Pipeline.DrainTimeout())
	return e, nil
}

// Start sweeps stale scratch files, starts the transport and begins
// dispatching. It returns once the transport is accepting messages.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if n, err := scratch.Sweep(e.cfg.Scratch.Dir, e.cfg.Scratch.StaleAfter()); err != nil {
		e.log.Warn("scratch_sweep_failed", "error", err.Error())
	} else if n > 0 {
		e.log.Info("scratch_sweep_done", "removed", n)
	}

	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(ctx)
	runCtx := e.ctx
	e.mu.Unlock()

	if err := e.transport.Start(runCtx); err != nil {
		return fmt.Errorf("start transport %s: %w", e.transport.Name(), err)
	}
	go e.dispatcher.Run(runCtx, e.transport.Recv())
	go func() {
		if err := e.runner.Run(runCtx); err != nil {
			e.log.Error("engine_stopped_with_error", "error", err.Error())
		}
	}()
	return nil
}

// Stop drains the engine. It is safe to call more than once.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return e.runner.Stop()
}

// drain stops intake first, then waits for in-flight requests, then releases
// process-wide resources.
func (e *Engine) drain(ctx context.Context) error {
	var errs error
	if err := e.transport.Stop(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("stop transport: %w", err))
	}
	if err := e.dispatcher.Drain(ctx); err != nil {
		errs = errors.Join(errs, err)
	}
	if c, ok := e.transcriber.(transcribe.Closer); ok {
		e.log.Info("transcriber_closing", "transcriber", e.transcriber.Name())
		if err := c.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("close transcriber: %w", err))
		}
	}
	e.asyncObs.Close()
	if e.timeline != nil {
		_ = e.timeline.Close()
	}
	return errs
}

func (e *Engine) logStopped(drained time.Duration, err error) {
	if err != nil {
		e.log.Warn("turjumaad_stopped", "drain_ms", drained.Milliseconds(), "error", err.Error())
		return
	}
	e.log.Info("turjumaad_stopped", "drain_ms", drained.Milliseconds())
}

func (e *Engine) logReady() {
	attrs := []any{"transport", e.transport.Name()}
	if rr, ok := e.transport.(transports.ReadyReporter); ok {
		for k, v := range rr.ReadyFields() {
			attrs = append(attrs, k, v)
		}
	}
	e.log.Info("turjumaad_ready", attrs...)
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Controller() *pipeline.Controller { return e.controller }

func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

func (e *Engine) State() runner.State { return e.runner.State() }

// Done is closed once the engine has fully stopped.
func (e *Engine) Done() <-chan struct{} { return e.runner.Done() }

func (e *Engine) Health() error {
	if e.transport == nil {
		return fmt.Errorf("missing transport")
	}
	if e.dispatcher.Registry().Draining() {
		return fmt.Errorf("draining")
	}
	return nil
}

func closeTranscriber(t transcribe.Transcriber, log *slog.Logger) {
	if c, ok := t.(transcribe.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn("transcriber_close_failed", "error", err.Error())
		}
	}
}
