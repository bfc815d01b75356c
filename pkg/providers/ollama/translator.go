// Package ollama translates with a model served by a local Ollama daemon.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/turjumaad/pkg/adapters/translate"
	"github.com/harunnryd/turjumaad/pkg/errorsx"
)

const (
	DefaultURL     = "http://localhost:11434"
	DefaultModel   = "qwen2.5:7b"
	DefaultTimeout = 120 * time.Second
	// DefaultKeepAlive keeps the model resident between requests.
	DefaultKeepAlive = "30m"
)

type Config struct {
	URL            string
	Model          string
	SourceLanguage string
	Temperature    float64
	Timeout        time.Duration
	KeepAlive      string
}

type Translator struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Translator {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.KeepAlive) == "" {
		cfg.KeepAlive = DefaultKeepAlive
	}
	return &Translator{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

func (t *Translator) Name() string { return "ollama" }

type generateRequest struct {
	Model     string `json:"model"`
	System    string `json:"system,omitempty"`
	Prompt    string `json:"prompt"`
	Stream    bool   `json:"stream"`
	KeepAlive string `json:"keep_alive,omitempty"`
	Options   *struct {
		Temperature float64 `json:"temperature"`
	} `json:"options,omitempty"`
}

type generateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (t *Translator) post(ctx context.Context, text string, stream bool) (*http.Response, error) {
	req := generateRequest{
		Model:     t.cfg.Model,
		System:    translate.Instruction(t.cfg.SourceLanguage),
		Prompt:    text,
		Stream:    stream,
		KeepAlive: t.cfg.KeepAlive,
		Options: &struct {
			Temperature float64 `json:"temperature"`
		}{Temperature: t.cfg.Temperature},
	}
	return t.send(ctx, req)
}

func (t *Translator) send(ctx context.Context, req generateRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errorsx.Wrap(fmt.Errorf("send request: %w", err), errorsx.ReasonTranslateTransport)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errorsx.Wrap(fmt.Errorf("ollama error %d: %s", resp.StatusCode, strings.TrimSpace(string(b))), errorsx.ReasonTranslateTransport)
	}
	return resp, nil
}

func (t *Translator) Translate(ctx context.Context, text string) (translate.Result, error) {
	resp, err := t.post(ctx, text, false)
	if err != nil {
		return translate.Result{}, err
	}
	defer resp.Body.Close()

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return translate.Result{}, errorsx.Wrap(fmt.Errorf("decode response: %w", err), errorsx.ReasonTranslateTransport)
	}
	if result.Error != "" {
		return translate.Result{}, errorsx.New(errorsx.ReasonTranslateTransport, "ollama: "+result.Error)
	}
	out := strings.TrimSpace(result.Response)
	if out == "" {
		return translate.Result{}, errorsx.New(errorsx.ReasonTranslateEmpty, "ollama returned an empty translation")
	}
	return translate.Result{Text: out}, nil
}

// Stream reads Ollama's newline-delimited JSON chunks until done.
func (t *Translator) Stream(ctx context.Context, text string) (<-chan translate.Delta, error) {
	resp, err := t.post(ctx, text, true)
	if err != nil {
		return nil, err
	}
	out := make(chan translate.Delta, 64)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		send := func(d translate.Delta) bool {
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk generateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				send(translate.Delta{Err: errorsx.Wrap(fmt.Errorf("decode chunk: %w", err), errorsx.ReasonTranslateTransport)})
				return
			}
			if chunk.Error != "" {
				send(translate.Delta{Err: errorsx.New(errorsx.ReasonTranslateTransport, "ollama: "+chunk.Error)})
				return
			}
			if chunk.Response != "" && !send(translate.Delta{Text: chunk.Response}) {
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			send(translate.Delta{Err: errorsx.Wrap(err, errorsx.ReasonTranslateTransport)})
		}
	}()
	return out, nil
}

// IsAvailable reports whether the daemon answers and has the model pulled.
func (t *Translator) IsAvailable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.URL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", t.cfg.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama tags returned %d", resp.StatusCode)
	}
	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode tags: %w", err)
	}
	for _, m := range result.Models {
		if m.Name == t.cfg.Model || strings.TrimSuffix(m.Name, ":latest") == t.cfg.Model {
			return nil
		}
	}
	return fmt.Errorf("ollama model %q is not pulled", t.cfg.Model)
}

// Warm loads the model into memory ahead of the first request. Ollama loads a
// model without generating when the prompt is empty.
func (t *Translator) Warm(ctx context.Context) error {
	if err := t.IsAvailable(ctx); err != nil {
		return err
	}
	resp, err := t.send(ctx, generateRequest{Model: t.cfg.Model, KeepAlive: t.cfg.KeepAlive})
	if err != nil {
		return fmt.Errorf("load model %q: %w", t.cfg.Model, err)
	}
	defer resp.Body.Close()
	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode load response: %w", err)
	}
	if result.Error != "" {
		return fmt.Errorf("load model %q: %s", t.cfg.Model, result.Error)
	}
	return nil
}

var _ translate.StreamingTranslator = (*Translator)(nil)
