package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/harunnryd/turjumaad/pkg/pipeline"
	"github.com/harunnryd/turjumaad/pkg/transports"
)

// Transport is an in-memory transport for local testing and integration.
// It implements the transports.Transport interface without any network dependency.
type Transport struct {
	recvCh chan transports.Inbound
	closed atomic.Bool
	mu     sync.Mutex
}

func New() *Transport {
	return &Transport{recvCh: make(chan transports.Inbound, 256)}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		t.mu.Lock()
		close(t.recvCh)
		t.mu.Unlock()
	}
	return nil
}

func (t *Transport) Recv() <-chan transports.Inbound { return t.recvCh }

// Push injects an inbound request and returns the sink its replies land in.
// A request without an ID gets one. Push returns nil when the transport is
// closed or its buffer is full.
func (t *Transport) Push(req pipeline.Request) *Sink {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	sink := NewSink()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return nil
	}
	select {
	case t.recvCh <- transports.Inbound{Request: req, Sink: sink}:
		return sink
	default:
		return nil
	}
}

// Delivery is one call made on a Sink.
type Delivery struct {
	Op     string
	Ref    pipeline.MessageRef
	Result pipeline.Result
	Text   string
}

// Sink records deliveries for inspection and signals Done after the first
// final delivery or notice.
type Sink struct {
	mu         sync.Mutex
	deliveries []Delivery
	seq        int
	done       chan struct{}
	doneOnce   sync.Once
}

func NewSink() *Sink {
	return &Sink{done: make(chan struct{})}
}

func (s *Sink) Send(_ context.Context, res pipeline.Result) (pipeline.MessageRef, error) {
	s.mu.Lock()
	s.seq++
	ref := pipeline.MessageRef(fmt.Sprintf("mock-%d", s.seq))
	s.deliveries = append(s.deliveries, Delivery{Op: "send", Ref: ref, Result: res})
	s.mu.Unlock()
	if !res.Partial {
		s.finish()
	}
	return ref, nil
}

func (s *Sink) Update(_ context.Context, ref pipeline.MessageRef, res pipeline.Result) error {
	s.mu.Lock()
	s.deliveries = append(s.deliveries, Delivery{Op: "update", Ref: ref, Result: res})
	s.mu.Unlock()
	if !res.Partial {
		s.finish()
	}
	return nil
}

func (s *Sink) Notify(_ context.Context, text string) error {
	s.mu.Lock()
	s.deliveries = append(s.deliveries, Delivery{Op: "notify", Text: text})
	s.mu.Unlock()
	s.finish()
	return nil
}

func (s *Sink) finish() { s.doneOnce.Do(func() { close(s.done) }) }

// Done is closed once the conversation received a final answer.
func (s *Sink) Done() <-chan struct{} { return s.done }

func (s *Sink) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

// Last returns the text the user would see last.
func (s *Sink) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.deliveries) == 0 {
		return ""
	}
	d := s.deliveries[len(s.deliveries)-1]
	if d.Op == "notify" {
		return d.Text
	}
	return d.Result.Render()
}
