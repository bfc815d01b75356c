// Package whispercpp runs a local whisper.cpp model. One whisper-server
// process is started at construction and keeps the model loaded until Close;
// each transcription posts the request's WAV to it under the shared
// heavy-work pool.
package whispercpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/logging"
	"github.com/harunnryd/turjumaad/pkg/workpool"
)

const (
	DefaultBinary       = "whisper-server"
	DefaultHost         = "127.0.0.1"
	DefaultStartTimeout = 2 * time.Minute
)

type Config struct {
	Binary    string
	ModelPath string
	Language  string
	Threads   int
	Host      string
	// Port 0 picks a free port.
	Port         int
	StartTimeout time.Duration
	Pool         *workpool.Pool
}

type Transcriber struct {
	cfg    Config
	base   string
	client *http.Client
	cmd    *exec.Cmd
	output *tailBuffer
	exited chan struct{}
	log    *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New validates the model file, starts whisper-server and waits until the
// model is loaded. Every failure is a startup error.
func New(cfg Config) (*Transcriber, error) {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = DefaultBinary
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "so"
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = DefaultHost
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.Pool == nil {
		cfg.Pool = workpool.New(1)
	}
	bin, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("whisper binary %q not found: %w", cfg.Binary, err)
	}
	info, err := os.Stat(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper model: %w", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, fmt.Errorf("whisper model %s is not a model file", cfg.ModelPath)
	}
	if cfg.Port == 0 {
		if cfg.Port, err = freePort(cfg.Host); err != nil {
			return nil, fmt.Errorf("whisper server port: %w", err)
		}
	}

	t := &Transcriber{
		cfg:    cfg,
		base:   "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		client: &http.Client{},
		output: &tailBuffer{max: 2048},
		exited: make(chan struct{}),
		log:    logging.NewComponentLogger(slog.Default(), "whispercpp"),
	}
	t.cmd = exec.Command(bin, t.args()...)
	t.cmd.Stdout = t.output
	t.cmd.Stderr = t.output
	started := time.Now()
	if err := t.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start whisper server: %w", err)
	}
	go func() {
		_ = t.cmd.Wait()
		close(t.exited)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartTimeout)
	defer cancel()
	if err := t.waitReady(ctx); err != nil {
		_ = t.Close()
		return nil, err
	}
	t.log.Info("whisper_model_ready",
		"model", filepath.Base(cfg.ModelPath),
		"language", cfg.Language,
		"size_bytes", info.Size(),
		"pid", t.cmd.Process.Pid,
		"addr", t.base,
		"load_ms", time.Since(started).Milliseconds(),
	)
	return t, nil
}

func (t *Transcriber) Name() string { return "whispercpp" }

func (t *Transcriber) args() []string {
	args := []string{
		"-m", t.cfg.ModelPath,
		"-l", t.cfg.Language,
		"--host", t.cfg.Host,
		"--port", strconv.Itoa(t.cfg.Port),
		"-nt",
	}
	if t.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(t.cfg.Threads))
	}
	return args
}

// waitReady polls /health until the server answers 200. whisper-server
// answers 503 while the model is loading.
func (t *Transcriber) waitReady(ctx context.Context) error {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+"/health", nil)
		if err != nil {
			return err
		}
		if resp, err := t.client.Do(req); err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-t.exited:
			return fmt.Errorf("whisper server exited while loading %s: %s", t.cfg.ModelPath, t.output.String())
		case <-ctx.Done():
			return fmt.Errorf("whisper server not ready after %s: %s", t.cfg.StartTimeout, t.output.String())
		case <-tick.C:
		}
	}
}

type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

func (t *Transcriber) Transcribe(ctx context.Context, audio transcribe.Audio) (transcribe.Result, error) {
	select {
	case <-t.exited:
		return transcribe.Result{}, errorsx.New(errorsx.ReasonTranscribeBackend, "whisper server is not running")
	default:
	}
	var text string
	err := t.cfg.Pool.Run(ctx, func(ctx context.Context) error {
		var err error
		text, err = t.infer(ctx, audio.Path)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return transcribe.Result{}, err
		}
		return transcribe.Result{}, errorsx.Wrap(err, errorsx.ReasonTranscribeBackend)
	}
	return transcribe.Result{Text: joinLines(text)}, nil
}

func (t *Transcriber) infer(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errorsx.Errorf(errorsx.ReasonTranscribeTransport, "read audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", errorsx.Errorf(errorsx.ReasonTranscribeTransport, "read audio: %w", err)
	}
	_ = mw.WriteField("response_format", "json")
	_ = mw.WriteField("language", t.cfg.Language)
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/inference", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errorsx.Errorf(errorsx.ReasonTranscribeTransport, "whisper inference: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errorsx.Errorf(errorsx.ReasonTranscribeTransport, "read whisper response: %w", err)
	}
	var out inferenceResponse
	jsonErr := json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		t.log.Warn("whisper_inference_failed", "status", resp.StatusCode)
		return "", errorsx.Errorf(errorsx.ReasonTranscribeBackend, "whisper: %d: %s", resp.StatusCode, msg)
	}
	if jsonErr != nil {
		return "", errorsx.Errorf(errorsx.ReasonTranscribeBackend, "decode whisper response: %w", jsonErr)
	}
	return out.Text, nil
}

// Close stops the server and unloads the model. It is safe to call more than
// once.
func (t *Transcriber) Close() error {
	t.closeOnce.Do(func() {
		select {
		case <-t.exited:
			return
		default:
		}
		_ = t.cmd.Process.Signal(os.Interrupt)
		select {
		case <-t.exited:
		case <-time.After(5 * time.Second):
			t.closeErr = t.cmd.Process.Kill()
			<-t.exited
		}
		t.log.Info("whisper_server_stopped")
	})
	return t.closeErr
}

// joinLines collapses whisper's per-segment lines into one sentence stream and
// drops non-speech markers such as "[BLANK_AUDIO]".
func joinLines(out string) string {
	var parts []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || (strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")) {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

var (
	_ transcribe.Transcriber = (*Transcriber)(nil)
	_ transcribe.Closer      = (*Transcriber)(nil)
)
