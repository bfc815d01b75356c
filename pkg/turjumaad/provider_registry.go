package turjumaad

import (
	"fmt"
	"strings"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
	"github.com/harunnryd/turjumaad/pkg/adapters/translate"
	"github.com/harunnryd/turjumaad/pkg/metrics"
	"github.com/harunnryd/turjumaad/pkg/transports"
	"github.com/harunnryd/turjumaad/pkg/workpool"
)

// Deps are the shared resources a provider may need. Pool bounds in-process
// heavy work; Observer receives provider events.
type Deps struct {
	Pool     *workpool.Pool
	Observer metrics.Observer
}

type TranscriberFactory func(cfg Config, deps Deps) (transcribe.Transcriber, error)
type TranslatorFactory func(cfg Config, deps Deps) (translate.Translator, error)
type TransportFactory func(cfg Config) (transports.Transport, error)

type ProviderRegistry struct {
	transcribers map[string]TranscriberFactory
	translators  map[string]TranslatorFactory
	transports   map[string]TransportFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		transcribers: make(map[string]TranscriberFactory),
		translators:  make(map[string]TranslatorFactory),
		transports:   make(map[string]TransportFactory),
	}
}

func (r *ProviderRegistry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.transcribers[key(name)] = factory
}

func (r *ProviderRegistry) RegisterTranslator(name string, factory TranslatorFactory) {
	r.translators[key(name)] = factory
}

func (r *ProviderRegistry) RegisterTransport(name string, factory TransportFactory) {
	r.transports[key(name)] = factory
}

func (r *ProviderRegistry) BuildTranscriber(provider string, cfg Config, deps Deps) (transcribe.Transcriber, error) {
	fn := r.transcribers[key(provider)]
	if fn == nil {
		return nil, fmt.Errorf("transcribe provider not registered: %s", provider)
	}
	return fn(cfg, deps)
}

func (r *ProviderRegistry) BuildTranslator(provider string, cfg Config, deps Deps) (translate.Translator, error) {
	fn := r.translators[key(provider)]
	if fn == nil {
		return nil, fmt.Errorf("translate provider not registered: %s", provider)
	}
	return fn(cfg, deps)
}

func (r *ProviderRegistry) BuildTransport(provider string, cfg Config) (transports.Transport, error) {
	fn := r.transports[key(provider)]
	if fn == nil {
		return nil, fmt.Errorf("transport provider not registered: %s", provider)
	}
	return fn(cfg)
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
