package turjumaad

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
	"github.com/harunnryd/turjumaad/pkg/adapters/translate"
	"github.com/harunnryd/turjumaad/pkg/metrics"
	"github.com/harunnryd/turjumaad/pkg/pipeline"
	providermock "github.com/harunnryd/turjumaad/pkg/providers/mock"
	"github.com/harunnryd/turjumaad/pkg/runner"
	"github.com/harunnryd/turjumaad/pkg/transports"
	"github.com/harunnryd/turjumaad/pkg/transports/mock"
)

func init() {
	runner.BannerOutput = nil
}

type copyTranscoder struct{}

func (copyTranscoder) Transcode(_ context.Context, in, out string) error {
	b, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0o600)
}

func testConfig(t *testing.T) Config {
	return Config{
		Transports: TransportsConfig{Provider: "mock"},
		Vendors: VendorsConfig{
			Transcribe: VendorConfig{Provider: "mock"},
			Translate:  VendorConfig{Provider: "mock"},
		},
		Auth: AuthConfig{AllowedSenders: []string{"1001"}},
		Pipeline: PipelineConfig{
			RequestTimeoutMS: 5000,
			DrainTimeoutMS:   2000,
			ShowTranscript:   true,
		},
		Scratch: ScratchConfig{Dir: t.TempDir()},
	}
}

func testRegistry(tr *mock.Transport) *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterTranscriber("mock", func(Config, Deps) (transcribe.Transcriber, error) {
		return providermock.NewTranscriber(providermock.TranscriberConfig{Text: "Subax wanaagsan"}), nil
	})
	r.RegisterTranslator("MOCK", func(Config, Deps) (translate.Translator, error) {
		return providermock.NewTranslator(providermock.TranslatorConfig{Text: "Good morning"}), nil
	})
	r.RegisterTransport("mock", func(Config) (transports.Transport, error) {
		return tr, nil
	})
	return r
}

func waitDone(t *testing.T, s *mock.Sink) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("no reply delivered")
	}
}

func TestEngineTranslatesTextAndVoice(t *testing.T) {
	tr := mock.New()
	mem := metrics.NewMemoryObserver()
	e, err := NewEngine(EngineOptions{
		Config:     testConfig(t),
		Providers:  testRegistry(tr),
		Transcoder: copyTranscoder{},
		Observer:   mem,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	text := tr.Push(pipeline.Request{SenderID: "1001", Kind: pipeline.KindText, Text: "Subax wanaagsan"})
	voice := tr.Push(pipeline.Request{
		SenderID: "1001",
		Kind:     pipeline.KindVoice,
		Audio:    transports.BytesAudio{Data: []byte("OggS"), Ext: ".ogg"},
	})
	waitDone(t, text)
	waitDone(t, voice)

	if got := text.Last(); got != "Good morning" {
		t.Fatalf("text reply = %q", got)
	}
	if got := voice.Last(); !strings.Contains(got, "Subax wanaagsan") || !strings.Contains(got, "Good morning") {
		t.Fatalf("voice reply = %q", got)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if e.State() != runner.StateStopped {
		t.Fatalf("state = %v", e.State())
	}
	if mem.Count(metrics.EventDelivered) != 2 {
		t.Fatalf("delivered events = %d", mem.Count(metrics.EventDelivered))
	}
	if e.Health() == nil {
		t.Fatalf("stopped engine should report unhealthy")
	}
	if tr.Push(pipeline.Request{SenderID: "1001", Kind: pipeline.KindText, Text: "late"}) != nil {
		t.Fatalf("transport accepted a message after stop")
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestEngineRejectsUnknownSender(t *testing.T) {
	tr := mock.New()
	e, err := NewEngine(EngineOptions{Config: testConfig(t), Providers: testRegistry(tr), Transcoder: copyTranscoder{}})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	sink := tr.Push(pipeline.Request{SenderID: "9999", Kind: pipeline.KindText, Text: "hi"})
	waitDone(t, sink)
	if got := sink.Last(); got != pipeline.DefaultMessages().Unauthorized {
		t.Fatalf("reply = %q", got)
	}
}

func TestNewEngineStartupErrors(t *testing.T) {
	tr := mock.New()

	cfg := testConfig(t)
	cfg.Vendors.Transcribe.Provider = "nope"
	if _, err := NewEngine(EngineOptions{Config: cfg, Providers: testRegistry(tr), Transcoder: copyTranscoder{}}); err == nil {
		t.Fatalf("expected unknown transcriber error")
	}

	cfg = testConfig(t)
	cfg.Auth.AllowedSenders = nil
	if _, err := NewEngine(EngineOptions{Config: cfg, Providers: testRegistry(tr), Transcoder: copyTranscoder{}}); err == nil {
		t.Fatalf("expected empty allow-list error")
	}

	cfg = testConfig(t)
	cfg.Transcode.Binary = "definitely-not-ffmpeg-xyz"
	if _, err := NewEngine(EngineOptions{Config: cfg, Providers: testRegistry(tr)}); err == nil {
		t.Fatalf("expected missing transcoder binary error")
	}

	failing := NewProviderRegistry()
	failing.RegisterTranscriber("mock", func(Config, Deps) (transcribe.Transcriber, error) {
		return nil, errors.New("model file missing")
	})
	if _, err := NewEngine(EngineOptions{Config: testConfig(t), Providers: failing, Transcoder: copyTranscoder{}}); err == nil {
		t.Fatalf("expected factory error")
	}
}

type closingTranscriber struct {
	transcribe.Transcriber
	closed chan struct{}
}

func (c *closingTranscriber) Close() error {
	close(c.closed)
	return nil
}

func closingRegistry(tr *mock.Transport, c *closingTranscriber) *ProviderRegistry {
	r := testRegistry(tr)
	r.RegisterTranscriber("mock", func(Config, Deps) (transcribe.Transcriber, error) {
		return c, nil
	})
	return r
}

func newClosingTranscriber() *closingTranscriber {
	return &closingTranscriber{
		Transcriber: providermock.NewTranscriber(providermock.TranscriberConfig{Text: "Subax wanaagsan"}),
		closed:      make(chan struct{}),
	}
}

func TestEngineClosesTranscriberOnStop(t *testing.T) {
	tr := mock.New()
	c := newClosingTranscriber()
	e, err := NewEngine(EngineOptions{Config: testConfig(t), Providers: closingRegistry(tr, c), Transcoder: copyTranscoder{}})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-c.closed:
		t.Fatalf("transcriber closed before stop")
	default:
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-c.closed:
	default:
		t.Fatalf("transcriber not closed at drain")
	}
}

func TestEngineClosesTranscriberWhenStartupFails(t *testing.T) {
	tr := mock.New()
	c := newClosingTranscriber()
	cfg := testConfig(t)
	cfg.Transcode.Binary = "definitely-not-ffmpeg-xyz"
	if _, err := NewEngine(EngineOptions{Config: cfg, Providers: closingRegistry(tr, c)}); err == nil {
		t.Fatalf("expected missing transcoder binary error")
	}
	select {
	case <-c.closed:
	default:
		t.Fatalf("transcriber left running after failed startup")
	}
}
