package transports

import (
	"context"

	"github.com/harunnryd/turjumaad/pkg/pipeline"
)

// Inbound is one message received from a chat platform together with the
// sink that answers into the same conversation.
type Inbound struct {
	Request pipeline.Request
	Sink    pipeline.Sink
}

// Transport defines a vendor-agnostic boundary to a chat platform.
// Implementations are responsible for their own network lifecycle and close
// the Recv channel on Stop.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan Inbound
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
