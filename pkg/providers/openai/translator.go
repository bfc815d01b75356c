package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/harunnryd/turjumaad/pkg/adapters/translate"
	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/resilience"
)

const DefaultModel = "gpt-4o"

type Config struct {
	APIKey         string
	Model          string
	BaseURL        string
	SourceLanguage string
	Timeout        time.Duration
}

// Translator sends the text as a single-turn chat completion behind a fixed
// system instruction.
type Translator struct {
	cfg    Config
	client *goopenai.Client
}

func New(cfg Config) *Translator {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Translator{cfg: cfg, client: goopenai.NewClientWithConfig(clientCfg)}
}

func (t *Translator) Name() string { return "openai" }

func (t *Translator) request(text string, stream bool) goopenai.ChatCompletionRequest {
	return goopenai.ChatCompletionRequest{
		Model:  t.cfg.Model,
		Stream: stream,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: translate.Instruction(t.cfg.SourceLanguage)},
			{Role: goopenai.ChatMessageRoleUser, Content: text},
		},
	}
}

func (t *Translator) Translate(ctx context.Context, text string) (translate.Result, error) {
	resp, err := t.client.CreateChatCompletion(ctx, t.request(text, false))
	if err != nil {
		return translate.Result{}, classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return translate.Result{}, errorsx.New(errorsx.ReasonTranslateEmpty, "openai returned no choices")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return translate.Result{}, errorsx.New(errorsx.ReasonTranslateEmpty, "openai returned an empty translation")
	}
	return translate.Result{Text: out}, nil
}

func (t *Translator) Stream(ctx context.Context, text string) (<-chan translate.Delta, error) {
	stream, err := t.client.CreateChatCompletionStream(ctx, t.request(text, true))
	if err != nil {
		return nil, classify(ctx, err)
	}
	out := make(chan translate.Delta, 64)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case out <- translate.Delta{Err: classify(ctx, err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- translate.Delta{Text: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// classify maps client errors onto pipeline reasons. Cancellation is returned
// untouched so callers can tell it apart from backend failures.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusTooManyRequests {
		return errorsx.Wrap(resilience.RateLimitError{Provider: "openai", Message: err.Error()}, errorsx.ReasonTranslateRateLimit)
	}
	return errorsx.Wrap(err, errorsx.ReasonTranslateTransport)
}

var _ translate.StreamingTranslator = (*Translator)(nil)
