package turjumaad

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/turjumaad/pkg/configutil"
	"github.com/harunnryd/turjumaad/pkg/pipeline"
)

type Config struct {
	Transports    TransportsConfig    `mapstructure:"transports"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Scratch       ScratchConfig       `mapstructure:"scratch"`
	Transcode     TranscodeConfig     `mapstructure:"transcode"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
	Messages      pipeline.Messages   `mapstructure:"messages"`
	Shortcuts     map[string]string   `mapstructure:"shortcuts"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	Transcribe VendorConfig `mapstructure:"transcribe"`
	Translate  VendorConfig `mapstructure:"translate"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type AuthConfig struct {
	// AllowedSenders holds chat ids or phone senders. Entries may be
	// comma-separated so a single env var can carry the whole list.
	AllowedSenders []string `mapstructure:"allowed_senders"`
}

type PipelineConfig struct {
	RequestTimeoutMS int  `mapstructure:"request_timeout_ms"`
	Streaming        bool `mapstructure:"streaming"`
	StreamIntervalMS int  `mapstructure:"stream_interval_ms"`
	ShowTranscript   bool `mapstructure:"show_transcript"`
	HeavyConcurrency int  `mapstructure:"heavy_concurrency"`
	DrainTimeoutMS   int  `mapstructure:"drain_timeout_ms"`
}

func (p PipelineConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutMS) * time.Millisecond
}

func (p PipelineConfig) StreamInterval() time.Duration {
	return time.Duration(p.StreamIntervalMS) * time.Millisecond
}

func (p PipelineConfig) DrainTimeout() time.Duration {
	return time.Duration(p.DrainTimeoutMS) * time.Millisecond
}

type ScratchConfig struct {
	Dir               string `mapstructure:"dir"`
	StaleAfterMinutes int    `mapstructure:"stale_after_minutes"`
}

func (s ScratchConfig) StaleAfter() time.Duration {
	return time.Duration(s.StaleAfterMinutes) * time.Minute
}

type TranscodeConfig struct {
	Binary     string `mapstructure:"binary"`
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
}

type BreakerConfig struct {
	Threshold  int `mapstructure:"threshold"`
	CooldownMS int `mapstructure:"cooldown_ms"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
	// EventLogSampleRate thins the debug event log. 1 logs every event.
	EventLogSampleRate float64 `mapstructure:"event_log_sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TURJUMAAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("transports.provider", "telegram")
	v.SetDefault("vendors.transcribe.provider", "huggingface")
	v.SetDefault("vendors.translate.provider", "openai")
	v.SetDefault("pipeline.request_timeout_ms", 120000)
	v.SetDefault("pipeline.streaming", true)
	v.SetDefault("pipeline.stream_interval_ms", 1000)
	v.SetDefault("pipeline.show_transcript", true)
	v.SetDefault("pipeline.heavy_concurrency", 0)
	v.SetDefault("pipeline.drain_timeout_ms", 30000)
	v.SetDefault("scratch.dir", "")
	v.SetDefault("scratch.stale_after_minutes", 60)
	v.SetDefault("transcode.binary", "ffmpeg")
	v.SetDefault("transcode.sample_rate", 16000)
	v.SetDefault("transcode.channels", 1)
	v.SetDefault("breaker.threshold", 3)
	v.SetDefault("breaker.cooldown_ms", 30000)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.event_log_sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)
	cfg.Auth.AllowedSenders = configutil.SplitList(cfg.Auth.AllowedSenders)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Transcribe.Provider) == "" {
		return fmt.Errorf("vendors.transcribe.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Translate.Provider) == "" {
		return fmt.Errorf("vendors.translate.provider is required")
	}
	if len(configutil.SplitList(c.Auth.AllowedSenders)) == 0 {
		return fmt.Errorf("auth.allowed_senders must list at least one sender")
	}
	if c.Pipeline.RequestTimeoutMS < 0 || c.Pipeline.StreamIntervalMS < 0 {
		return fmt.Errorf("pipeline timeouts must not be negative")
	}
	return nil
}

// ShortcutMap returns the configured shortcuts, or the defaults when none
// are configured.
func (c Config) ShortcutMap() pipeline.Shortcuts {
	if len(c.Shortcuts) == 0 {
		return pipeline.DefaultShortcuts()
	}
	out := make(pipeline.Shortcuts, len(c.Shortcuts))
	for k, v := range c.Shortcuts {
		out[k] = v
	}
	return out
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.Transcribe.Settings = expandSettings(cfg.Vendors.Transcribe.Settings)
	cfg.Vendors.Translate.Settings = expandSettings(cfg.Vendors.Translate.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				expanded := os.ExpandEnv(v.MapIndex(key).String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
