package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// InFlight is a request currently being handled.
type InFlight struct {
	ID      string
	Kind    Kind
	Cancel  context.CancelFunc
	Started time.Time
}

// Registry tracks in-flight requests so shutdown can wait for them or cut
// them short.
type Registry struct {
	requests sync.Map
	count    atomic.Int64
	draining atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a request. It returns false when the registry is draining or
// the id is already present.
func (r *Registry) Add(req *InFlight) bool {
	if req == nil || req.ID == "" || r.draining.Load() {
		return false
	}
	if _, loaded := r.requests.LoadOrStore(req.ID, req); loaded {
		return false
	}
	r.count.Add(1)
	return true
}

func (r *Registry) Get(id string) (*InFlight, bool) {
	if v, ok := r.requests.Load(id); ok {
		return v.(*InFlight), true
	}
	return nil, false
}

func (r *Registry) Remove(id string) {
	if v, ok := r.requests.LoadAndDelete(id); ok {
		if req := v.(*InFlight); req.Cancel != nil {
			req.Cancel()
		}
		r.count.Add(-1)
	}
}

// CancelAll cancels every in-flight request. Entries stay registered until
// their handler removes them.
func (r *Registry) CancelAll() {
	r.requests.Range(func(_, value any) bool {
		if req, ok := value.(*InFlight); ok && req.Cancel != nil {
			req.Cancel()
		}
		return true
	})
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
