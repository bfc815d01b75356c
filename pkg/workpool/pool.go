// Package workpool bounds how many heavy jobs (codec runs, local inference)
// execute at once, so they cannot starve the cheap steps of other requests.
package workpool

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
)

type Pool struct {
	slots   chan struct{}
	running atomic.Int64
	waiting atomic.Int64
}

// New returns a pool with size slots; size <= 0 uses GOMAXPROCS.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Run waits for a free slot and executes fn in the calling goroutine. It
// returns ctx.Err() if ctx ends before a slot frees up. A panic in fn is
// converted to an error and the slot is released.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	p.waiting.Add(1)
	select {
	case p.slots <- struct{}{}:
		p.waiting.Add(-1)
	case <-ctx.Done():
		p.waiting.Add(-1)
		return ctx.Err()
	}
	p.running.Add(1)
	defer func() {
		p.running.Add(-1)
		<-p.slots
		if r := recover(); r != nil {
			err = fmt.Errorf("workpool: job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (p *Pool) Size() int { return cap(p.slots) }

func (p *Pool) Running() int { return int(p.running.Load()) }

func (p *Pool) Waiting() int { return int(p.waiting.Load()) }
