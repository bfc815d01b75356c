package runner

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

type Hooks struct {
	OnStart func()
	// OnStop receives how long the drain took and its error.
	OnStop func(drained time.Duration, err error)
}

// Drainer finishes in-flight work before shutdown. ctx carries the drain deadline.
type Drainer interface {
	Drain(ctx context.Context) error
}

type DrainerFunc func(ctx context.Context) error

func (f DrainerFunc) Drain(ctx context.Context) error { return f(ctx) }

var Version = "dev"

// BannerOutput is where PrintBanner writes; nil disables the banner.
var BannerOutput io.Writer = os.Stdout

func PrintBanner() {
	if BannerOutput == nil {
		return
	}
	tpl := "{{ .Title \"TURJUMAAD\" \"\" 0 }}\nSomali -> English  Version: " + Version + "\n"
	banner.Init(BannerOutput, true, false, bytes.NewBufferString(tpl))
}
