package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/harunnryd/turjumaad/pkg/adapters/translate"
)

type TranslatorConfig struct {
	Text         string
	StreamChunks []string
	Err          error
}

type Translator struct {
	cfg TranslatorConfig

	mu     sync.Mutex
	inputs []string
}

func NewTranslator(cfg TranslatorConfig) *Translator {
	if cfg.Text == "" && len(cfg.StreamChunks) == 0 {
		cfg.Text = "mock translation"
	}
	return &Translator{cfg: cfg}
}

func (t *Translator) Name() string { return "mock_translator" }

// Inputs lists every text the translator was asked to translate.
func (t *Translator) Inputs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.inputs...)
}

func (t *Translator) record(text string) {
	t.mu.Lock()
	t.inputs = append(t.inputs, text)
	t.mu.Unlock()
}

func (t *Translator) Translate(ctx context.Context, text string) (translate.Result, error) {
	t.record(text)
	if t.cfg.Err != nil {
		return translate.Result{}, t.cfg.Err
	}
	if t.cfg.Text != "" {
		return translate.Result{Text: t.cfg.Text}, nil
	}
	return translate.Result{Text: strings.Join(t.cfg.StreamChunks, "")}, nil
}

func (t *Translator) Stream(ctx context.Context, text string) (<-chan translate.Delta, error) {
	t.record(text)
	if t.cfg.Err != nil {
		return nil, t.cfg.Err
	}
	chunks := t.cfg.StreamChunks
	if len(chunks) == 0 {
		chunks = []string{t.cfg.Text}
	}
	out := make(chan translate.Delta, len(chunks))
	for _, chunk := range chunks {
		out <- translate.Delta{Text: chunk}
	}
	close(out)
	return out, nil
}

var _ translate.StreamingTranslator = (*Translator)(nil)
