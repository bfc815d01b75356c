package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrDrainTimeout   = errors.New("drain timeout")
	ErrAlreadyStarted = errors.New("runner already started")
)

// LifecycleRunner owns the new -> running -> draining -> stopped sequence of
// a long-lived service. Drain runs exactly once, bounded by the drain timeout.
type LifecycleRunner struct {
	state   atomic.Int32
	hooks   Hooks
	drainer Drainer
	timeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc

	once    sync.Once
	done    chan struct{}
	stopErr error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Run blocks until ctx is canceled or Stop is called, then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	PrintBanner()
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
	<-runCtx.Done()
	return r.stop()
}

// Stop cancels Run and waits for the drain. It may be called before Run.
func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.stop()
}

// Done is closed once the drain has finished.
func (r *LifecycleRunner) Done() <-chan struct{} { return r.done }

func (r *LifecycleRunner) State() State { return State(r.state.Load()) }

func (r *LifecycleRunner) stop() error {
	r.once.Do(func() {
		r.state.Store(int32(StateDraining))
		started := time.Now()
		r.stopErr = r.drain()
		if r.hooks.OnStop != nil {
			r.hooks.OnStop(time.Since(started), r.stopErr)
		}
		r.state.Store(int32(StateStopped))
		close(r.done)
	})
	<-r.done
	return r.stopErr
}

func (r *LifecycleRunner) drain() error {
	if r.drainer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- r.drainer.Drain(ctx) }()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ErrDrainTimeout
	}
}
