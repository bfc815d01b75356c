package transports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxAudioBytes caps a single voice download.
const MaxAudioBytes = 20 << 20

var ErrAudioTooLarge = errors.New("audio exceeds size limit")

var defaultAudioClient = &http.Client{Timeout: 60 * time.Second}

// URLAudio is audio the platform serves over HTTP, optionally behind basic
// auth.
type URLAudio struct {
	URL      string
	Username string
	Password string
	Ext      string
	Client   *http.Client
}

func (a URLAudio) Suffix() string { return a.Ext }

func (a URLAudio) Fetch(ctx context.Context, w io.Writer) error {
	return Download(ctx, a.Client, a.URL, a.Username, a.Password, w)
}

// Download copies the body at url into w, refusing bodies over MaxAudioBytes.
func Download(ctx context.Context, client *http.Client, url, username, password string, w io.Writer) error {
	if client == nil {
		client = defaultAudioClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if username != "" {
		req.SetBasicAuth(username, password)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("audio download returned %d", resp.StatusCode)
	}
	n, err := io.Copy(w, io.LimitReader(resp.Body, MaxAudioBytes+1))
	if err != nil {
		return err
	}
	if n > MaxAudioBytes {
		return ErrAudioTooLarge
	}
	return nil
}

// BytesAudio is audio already held in memory.
type BytesAudio struct {
	Data []byte
	Ext  string
}

func (a BytesAudio) Suffix() string { return a.Ext }

func (a BytesAudio) Fetch(_ context.Context, w io.Writer) error {
	if len(a.Data) > MaxAudioBytes {
		return ErrAudioTooLarge
	}
	_, err := w.Write(a.Data)
	return err
}

// SuffixForMIME maps an audio content type to a file extension.
func SuffixForMIME(mime string) string {
	mime, _, _ = strings.Cut(mime, ";")
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/aac":
		return ".m4a"
	case "audio/amr":
		return ".amr"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	}
	return ".bin"
}
