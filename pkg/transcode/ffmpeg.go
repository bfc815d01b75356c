// Package transcode converts inbound voice notes into the canonical format
// the transcription backends expect.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/logging"
)

const (
	DefaultBinary     = "ffmpeg"
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

type Config struct {
	Binary     string
	SampleRate int
	Channels   int
}

// FFmpeg shells out to the ffmpeg binary. It holds no per-call state and is
// safe for concurrent use.
type FFmpeg struct {
	cfg Config
	log *slog.Logger
}

func NewFFmpeg(cfg Config) *FFmpeg {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}
	return &FFmpeg{cfg: cfg, log: logging.NewComponentLogger(slog.Default(), "ffmpeg")}
}

// Check verifies the binary can be located.
func (f *FFmpeg) Check() error {
	if _, err := exec.LookPath(f.cfg.Binary); err != nil {
		return fmt.Errorf("transcoder binary %q not found: %w", f.cfg.Binary, err)
	}
	return nil
}

func (f *FFmpeg) Args(in, out string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", in,
		"-ac", strconv.Itoa(f.cfg.Channels),
		"-ar", strconv.Itoa(f.cfg.SampleRate),
		out,
	}
}

// Transcode converts in to out. When out is a .wav file the result is checked
// with ffprobe and rejected unless it matches the configured rate and channel
// count.
func (f *FFmpeg) Transcode(ctx context.Context, in, out string) error {
	cmd := exec.CommandContext(ctx, f.cfg.Binary, f.Args(in, out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return errorsx.Wrap(fmt.Errorf("transcoder binary %q not found: %w", f.cfg.Binary, err), errorsx.ReasonTranscode)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		if msg != "" {
			return errorsx.Wrap(fmt.Errorf("ffmpeg: %w: %s", err, msg), errorsx.ReasonTranscode)
		}
		return errorsx.Wrap(fmt.Errorf("ffmpeg: %w", err), errorsx.ReasonTranscode)
	}

	if !strings.EqualFold(filepath.Ext(out), ".wav") {
		return nil
	}
	info, err := Probe(out)
	if err != nil {
		return errorsx.Errorf(errorsx.ReasonTranscode, "ffmpeg output: %w", err)
	}
	if info.SampleRate != f.cfg.SampleRate || info.Channels != f.cfg.Channels {
		return errorsx.Errorf(errorsx.ReasonTranscode,
			"ffmpeg output is %d Hz/%d ch, want %d Hz/%d ch",
			info.SampleRate, info.Channels, f.cfg.SampleRate, f.cfg.Channels)
	}
	f.log.Debug("transcode_done", "output", filepath.Base(out), "duration_ms", info.Duration.Milliseconds())
	return nil
}
