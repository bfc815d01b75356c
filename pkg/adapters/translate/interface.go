package translate

import "context"

type Result struct {
	Text string
}

// Delta is one fragment of a streamed translation. A non-nil Err ends the
// stream.
type Delta struct {
	Text string
	Err  error
}

// Translator translates source text into English.
type Translator interface {
	Name() string
	Translate(ctx context.Context, text string) (Result, error)
}

// StreamingTranslator can also deliver the translation incrementally. The
// returned channel is closed when the stream ends or ctx is canceled.
type StreamingTranslator interface {
	Translator
	Stream(ctx context.Context, text string) (<-chan Delta, error)
}

// Streaming reports whether t can stream.
func Streaming(t Translator) (StreamingTranslator, bool) {
	st, ok := t.(StreamingTranslator)
	return st, ok
}
