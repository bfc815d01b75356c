package transcribe

import "context"

// Audio points at a canonical (transcoded) audio file on local disk.
type Audio struct {
	Path   string
	Format string
}

// Result is what a backend recognized. Text may be empty, meaning nothing was
// recognized; that is not an error. Translation is set only by backends that
// translate as part of the same job.
type Result struct {
	Text        string
	Translation string
}

// Transcriber turns audio into source-language text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio Audio) (Result, error)
}

// Translating is implemented by backends whose result may already carry an
// English translation, making the translator a fallback.
type Translating interface {
	ProvidesTranslation() bool
}

// Closer is implemented by backends holding process-wide resources that must
// be released at shutdown.
type Closer interface {
	Close() error
}
