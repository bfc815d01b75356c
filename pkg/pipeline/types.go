package pipeline

import (
	"context"
	"io"
	"strings"
	"time"
)

type Kind string

const (
	KindText  Kind = "text"
	KindVoice Kind = "voice"
)

// AudioSource is a handle to audio stored by the chat platform. Nothing is
// downloaded until Fetch is called.
type AudioSource interface {
	Fetch(ctx context.Context, w io.Writer) error
	// Suffix is the file extension of the source container, e.g. ".ogg".
	Suffix() string
}

// Request is one inbound message. It is never mutated after the transport
// builds it.
type Request struct {
	ID         string
	SenderID   string
	ChatID     string
	Kind       Kind
	Text       string
	Audio      AudioSource
	ReceivedAt time.Time
}

type Result struct {
	SourceText     string
	TranslatedText string
	Partial        bool
}

// Render formats the result as the message body the user sees. The
// transcript is shown above the translation when present.
func (r Result) Render() string {
	translated := strings.TrimSpace(r.TranslatedText)
	if strings.TrimSpace(r.SourceText) == "" {
		if r.Partial {
			return translated + " …"
		}
		return translated
	}
	var b strings.Builder
	b.WriteString("🗣 ")
	b.WriteString(strings.TrimSpace(r.SourceText))
	b.WriteString("\n\n🇬🇧 ")
	b.WriteString(translated)
	if r.Partial {
		b.WriteString(" …")
	}
	return b.String()
}

// MessageRef identifies a delivered message so it can be edited in place.
type MessageRef string

// Sink delivers replies to the conversation a request came from.
type Sink interface {
	Send(ctx context.Context, res Result) (MessageRef, error)
	Update(ctx context.Context, ref MessageRef, res Result) error
	// Notify sends a plain informational message (errors, shortcuts).
	Notify(ctx context.Context, text string) error
}

// MenuSink is implemented by sinks that can attach quick-reply buttons. The
// controller uses it for shortcut replies to authorized senders only.
type MenuSink interface {
	Menu(ctx context.Context, text string) error
}

type Authorizer interface {
	IsAuthorized(senderID string) bool
}

type Transcoder interface {
	Transcode(ctx context.Context, in, out string) error
}

// Scratch is the per-request artifact store.
type Scratch interface {
	Acquire(suffix string) (string, error)
	ReleaseAll()
}

type ScratchFactory func(requestID string) Scratch

// Outcome reports how a request terminated.
type Outcome struct {
	State  State
	Reason string
	Trace  []State
}
