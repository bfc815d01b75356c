package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
	"github.com/harunnryd/turjumaad/pkg/adapters/translate"
	"github.com/harunnryd/turjumaad/pkg/configutil"
	"github.com/harunnryd/turjumaad/pkg/providers/deepgram"
	"github.com/harunnryd/turjumaad/pkg/providers/huggingface"
	"github.com/harunnryd/turjumaad/pkg/providers/mock"
	"github.com/harunnryd/turjumaad/pkg/providers/ollama"
	"github.com/harunnryd/turjumaad/pkg/providers/openai"
	"github.com/harunnryd/turjumaad/pkg/providers/taskapi"
	"github.com/harunnryd/turjumaad/pkg/providers/whispercpp"
	"github.com/harunnryd/turjumaad/pkg/turjumaad"
)

const (
	transcribeSettings = "vendors.transcribe.settings"
	translateSettings  = "vendors.translate.settings"
)

type huggingfaceSettings struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Endpoint     string        `mapstructure:"endpoint"`
	WaitForModel *bool         `mapstructure:"wait_for_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      *int          `mapstructure:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type taskAPISettings struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	SubmitPath   string        `mapstructure:"submit_path"`
	StatusPath   string        `mapstructure:"status_path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type whisperSettings struct {
	Binary       string        `mapstructure:"binary"`
	ModelPath    string        `mapstructure:"model_path"`
	Language     string        `mapstructure:"language"`
	Threads      int           `mapstructure:"threads"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
}

type deepgramSettings struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Language       string        `mapstructure:"language"`
	UtteranceEndMS *int          `mapstructure:"utterance_end_ms"`
	Settle         time.Duration `mapstructure:"settle"`
}

type mockTranscriberSettings struct {
	Text        string        `mapstructure:"text"`
	Translation string        `mapstructure:"translation"`
	Delay       time.Duration `mapstructure:"delay"`
}

type openAISettings struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	BaseURL        string        `mapstructure:"base_url"`
	SourceLanguage string        `mapstructure:"source_language"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type ollamaSettings struct {
	URL            string        `mapstructure:"url"`
	Model          string        `mapstructure:"model"`
	SourceLanguage string        `mapstructure:"source_language"`
	Temperature    float64       `mapstructure:"temperature"`
	Timeout        time.Duration `mapstructure:"timeout"`
	KeepAlive      string        `mapstructure:"keep_alive"`
	CheckOnStart   *bool         `mapstructure:"check_on_start"`
	WarmTimeout    time.Duration `mapstructure:"warm_timeout"`
}

type mockTranslatorSettings struct {
	Text         string   `mapstructure:"text"`
	StreamChunks []string `mapstructure:"stream_chunks"`
}

func registerProviders(reg *turjumaad.ProviderRegistry) {
	reg.RegisterTranscriber("huggingface", func(cfg turjumaad.Config, _ turjumaad.Deps) (transcribe.Transcriber, error) {
		var s huggingfaceSettings
		if err := decode(transcribeSettings, cfg.Vendors.Transcribe.Settings, &s, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"base_url", "model", "endpoint", "wait_for_model", "timeout", "retries", "retry_backoff"},
		}); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, transcribeSettings+".api_key"); err != nil {
			return nil, err
		}
		retries := 2
		if s.Retries != nil {
			retries = *s.Retries
		}
		if retries < 0 {
			return nil, fmt.Errorf("%s.retries must not be negative, got %d", transcribeSettings, retries)
		}
		return huggingface.New(huggingface.Config{
			APIKey:       s.APIKey,
			BaseURL:      s.BaseURL,
			Model:        s.Model,
			Endpoint:     s.Endpoint,
			WaitForModel: configutil.BoolValue(s.WaitForModel, true),
			Timeout:      s.Timeout,
			Retries:      retries,
			RetryBackoff: s.RetryBackoff,
		}), nil
	})

	reg.RegisterTranscriber("taskapi", func(cfg turjumaad.Config, deps turjumaad.Deps) (transcribe.Transcriber, error) {
		var s taskAPISettings
		if err := decode(transcribeSettings, cfg.Vendors.Transcribe.Settings, &s, configutil.Schema{
			Required: []string{"base_url"},
			Optional: []string{"api_key", "submit_path", "status_path", "poll_interval", "max_attempts"},
		}); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.BaseURL, transcribeSettings+".base_url"); err != nil {
			return nil, err
		}
		return taskapi.New(taskapi.Config{
			BaseURL:      s.BaseURL,
			APIKey:       s.APIKey,
			SubmitPath:   s.SubmitPath,
			StatusPath:   s.StatusPath,
			PollInterval: s.PollInterval,
			MaxAttempts:  s.MaxAttempts,
			Observer:     deps.Observer,
		}), nil
	})

	reg.RegisterTranscriber("whispercpp", func(cfg turjumaad.Config, deps turjumaad.Deps) (transcribe.Transcriber, error) {
		var s whisperSettings
		if err := decode(transcribeSettings, cfg.Vendors.Transcribe.Settings, &s, configutil.Schema{
			Required: []string{"model_path"},
			Optional: []string{"binary", "language", "threads", "host", "port", "start_timeout"},
		}); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.ModelPath, transcribeSettings+".model_path"); err != nil {
			return nil, err
		}
		return whispercpp.New(whispercpp.Config{
			Binary:       s.Binary,
			ModelPath:    s.ModelPath,
			Language:     s.Language,
			Threads:      s.Threads,
			Host:         s.Host,
			Port:         s.Port,
			StartTimeout: s.StartTimeout,
			Pool:         deps.Pool,
		})
	})

	reg.RegisterTranscriber("deepgram", func(cfg turjumaad.Config, _ turjumaad.Deps) (transcribe.Transcriber, error) {
		var s deepgramSettings
		if err := decode(transcribeSettings, cfg.Vendors.Transcribe.Settings, &s, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "utterance_end_ms", "settle"},
		}); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, transcribeSettings+".api_key"); err != nil {
			return nil, err
		}
		utteranceEnd := configutil.IntValue(s.UtteranceEndMS, 1000)
		if utteranceEnd > 5000 {
			return nil, fmt.Errorf("%s.utterance_end_ms must be between 1 and 5000, got %d", transcribeSettings, utteranceEnd)
		}
		return deepgram.New(deepgram.Config{
			APIKey:         s.APIKey,
			Model:          s.Model,
			Language:       s.Language,
			UtteranceEndMS: utteranceEnd,
			Settle:         s.Settle,
		}), nil
	})

	reg.RegisterTranscriber("mock", func(cfg turjumaad.Config, _ turjumaad.Deps) (transcribe.Transcriber, error) {
		var s mockTranscriberSettings
		if err := decode(transcribeSettings, cfg.Vendors.Transcribe.Settings, &s, configutil.Schema{
			Optional: []string{"text", "translation", "delay"},
		}); err != nil {
			return nil, err
		}
		if s.Text == "" {
			s.Text = "Subax wanaagsan"
		}
		return mock.NewTranscriber(mock.TranscriberConfig{Text: s.Text, Translation: s.Translation, Delay: s.Delay}), nil
	})

	reg.RegisterTranslator("openai", func(cfg turjumaad.Config, _ turjumaad.Deps) (translate.Translator, error) {
		var s openAISettings
		if err := decode(translateSettings, cfg.Vendors.Translate.Settings, &s, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url", "source_language", "timeout"},
		}); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, translateSettings+".api_key"); err != nil {
			return nil, err
		}
		return openai.New(openai.Config{
			APIKey:         s.APIKey,
			Model:          s.Model,
			BaseURL:        s.BaseURL,
			SourceLanguage: s.SourceLanguage,
			Timeout:        s.Timeout,
		}), nil
	})

	reg.RegisterTranslator("ollama", func(cfg turjumaad.Config, _ turjumaad.Deps) (translate.Translator, error) {
		var s ollamaSettings
		if err := decode(translateSettings, cfg.Vendors.Translate.Settings, &s, configutil.Schema{
			Optional: []string{"url", "model", "source_language", "temperature", "timeout", "keep_alive", "check_on_start", "warm_timeout"},
		}); err != nil {
			return nil, err
		}
		t := ollama.New(ollama.Config{
			URL:            s.URL,
			Model:          s.Model,
			SourceLanguage: s.SourceLanguage,
			Temperature:    s.Temperature,
			Timeout:        s.Timeout,
			KeepAlive:      s.KeepAlive,
		})
		if configutil.BoolValue(s.CheckOnStart, true) {
			warmTimeout := s.WarmTimeout
			if warmTimeout <= 0 {
				warmTimeout = 2 * time.Minute
			}
			ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
			defer cancel()
			started := time.Now()
			if err := t.Warm(ctx); err != nil {
				slog.Warn("ollama_unavailable_at_start", "error", err.Error())
			} else {
				slog.Info("ollama_model_warm", "load_ms", time.Since(started).Milliseconds())
			}
		}
		return t, nil
	})

	reg.RegisterTranslator("mock", func(cfg turjumaad.Config, _ turjumaad.Deps) (translate.Translator, error) {
		var s mockTranslatorSettings
		if err := decode(translateSettings, cfg.Vendors.Translate.Settings, &s, configutil.Schema{
			Optional: []string{"text", "stream_chunks"},
		}); err != nil {
			return nil, err
		}
		return mock.NewTranslator(mock.TranslatorConfig{Text: s.Text, StreamChunks: s.StreamChunks}), nil
	})
}

// decode validates settings against schema and decodes them into out.
func decode(path string, settings map[string]any, out any, schema configutil.Schema) error {
	if err := schema.Validate(path, settings); err != nil {
		return err
	}
	if err := configutil.DecodeSettings(settings, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
