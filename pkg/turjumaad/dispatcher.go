package turjumaad

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/turjumaad/pkg/logging"
	"github.com/harunnryd/turjumaad/pkg/pipeline"
	"github.com/harunnryd/turjumaad/pkg/transports"
)

// Handler runs a single request to completion.
type Handler interface {
	Handle(ctx context.Context, req pipeline.Request, sink pipeline.Sink) pipeline.Outcome
}

type DispatcherOptions struct {
	// Timeout bounds one request end to end. Zero disables the deadline.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher runs every inbound message on its own goroutine so a slow voice
// request never holds up other senders.
type Dispatcher struct {
	handler  Handler
	registry *pipeline.Registry
	opts     DispatcherOptions
	log      *slog.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(handler Handler, registry *pipeline.Registry, opts DispatcherOptions) *Dispatcher {
	if registry == nil {
		registry = pipeline.NewRegistry()
	}
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	return &Dispatcher{
		handler:  handler,
		registry: registry,
		opts:     opts,
		log:      logging.NewComponentLogger(base, "dispatcher"),
	}
}

func (d *Dispatcher) Registry() *pipeline.Registry { return d.registry }

// Run consumes recv until it is closed or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, recv <-chan transports.Inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-recv:
			if !ok {
				return
			}
			d.Dispatch(ctx, in)
		}
	}
}

// Dispatch starts handling in. It returns false when the message was not
// accepted because the dispatcher is draining or the id is already in flight.
// Requests outlive cancellation of ctx so that shutdown can drain them; they
// are cut short only through the registry.
func (d *Dispatcher) Dispatch(ctx context.Context, in transports.Inbound) bool {
	req := in.Request
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now()
	}

	reqCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if d.opts.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(reqCtx, d.opts.Timeout)
	} else {
		reqCtx, cancel = context.WithCancel(reqCtx)
	}

	entry := &pipeline.InFlight{ID: req.ID, Kind: req.Kind, Cancel: cancel, Started: time.Now()}
	if !d.registry.Add(entry) {
		cancel()
		if d.registry.Draining() {
			d.log.Warn("dispatch_rejected_draining", "request_id", req.ID)
		} else {
			d.log.Warn("dispatch_duplicate_request", "request_id", req.ID)
		}
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.registry.Remove(req.ID)
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("dispatch_panic",
					"request_id", req.ID,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		out := d.handler.Handle(reqCtx, req, in.Sink)
		d.log.Debug("dispatch_done",
			"request_id", req.ID,
			"state", out.State.String(),
			"reason", out.Reason,
			"duration_ms", time.Since(entry.Started).Milliseconds())
	}()
	return true
}

// Drain stops accepting new requests and waits for the in-flight ones. When
// ctx expires first, the remaining requests are canceled.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.registry.SetDraining(true)
	if d.registry.WaitForEmpty(ctx, 50*time.Millisecond) {
		return nil
	}
	d.log.Warn("dispatch_drain_timeout", "in_flight", d.registry.Count())
	d.registry.CancelAll()
	return ctx.Err()
}

// Wait blocks until every dispatched goroutine has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
