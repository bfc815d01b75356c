package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/harunnryd/turjumaad/pkg/adapters/transcribe"
	"github.com/harunnryd/turjumaad/pkg/errorsx"
)

type fakeClient struct {
	cb        msginterfaces.LiveMessageCallback
	connected bool
	messages  []string
	errResp   *msginterfaces.ErrorResponse
	hang      bool
	sent      int
	stopped   bool
}

func (f *fakeClient) Connect() bool { return f.connected }

func (f *fakeClient) Stream(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.sent = len(b)
	for _, raw := range f.messages {
		var mr msginterfaces.MessageResponse
		if err := json.Unmarshal([]byte(raw), &mr); err != nil {
			return err
		}
		_ = f.cb.Message(&mr)
	}
	if f.errResp != nil {
		_ = f.cb.Error(f.errResp)
	}
	if f.hang {
		select {}
	}
	_ = f.cb.UtteranceEnd(&msginterfaces.UtteranceEndResponse{})
	return nil
}

func (f *fakeClient) Stop() { f.stopped = true }

func newTestTranscriber(t *testing.T, fc *fakeClient) (*Transcriber, string) {
	t.Helper()
	tr := New(Config{APIKey: "key", Settle: 20 * time.Millisecond})
	tr.dial = func(_ context.Context, cb msginterfaces.LiveMessageCallback) (liveClient, error) {
		fc.cb = cb
		return fc, nil
	}
	path := filepath.Join(t.TempDir(), "voice.wav")
	if err := os.WriteFile(path, []byte("RIFFfake"), 0o600); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return tr, path
}

func TestTranscribeCollectsFinalSegments(t *testing.T) {
	fc := &fakeClient{
		connected: true,
		messages: []string{
			`{"channel":{"alternatives":[{"transcript":"Subax"}]},"is_final":false}`,
			`{"channel":{"alternatives":[{"transcript":"Subax wanaagsan"}]},"is_final":true}`,
			`{"channel":{"alternatives":[{"transcript":""}]},"is_final":true}`,
			`{"channel":{"alternatives":[{"transcript":"saaxiib"}]},"speech_final":true}`,
		},
	}
	tr, path := newTestTranscriber(t, fc)
	res, err := tr.Transcribe(context.Background(), transcribe.Audio{Path: path, Format: "wav"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "Subax wanaagsan saaxiib" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if fc.sent != len("RIFFfake") || !fc.stopped {
		t.Fatalf("expected full file streamed and client stopped, sent=%d stopped=%v", fc.sent, fc.stopped)
	}
}

func TestTranscribeConnectFailure(t *testing.T) {
	tr, path := newTestTranscriber(t, &fakeClient{})
	_, err := tr.Transcribe(context.Background(), transcribe.Audio{Path: path})
	if !errorsx.HasReason(err, errorsx.ReasonTranscribeTransport) {
		t.Fatalf("expected transport reason, got %v", err)
	}
}

func TestTranscribeBackendError(t *testing.T) {
	fc := &fakeClient{
		connected: true,
		errResp:   &msginterfaces.ErrorResponse{ErrCode: "INVALID_AUTH", ErrMsg: "bad key"},
	}
	tr, path := newTestTranscriber(t, fc)
	_, err := tr.Transcribe(context.Background(), transcribe.Audio{Path: path})
	if !errorsx.HasReason(err, errorsx.ReasonTranscribeBackend) {
		t.Fatalf("expected backend reason, got %v", err)
	}
}

func TestTranscribeHonoursCancel(t *testing.T) {
	fc := &fakeClient{connected: true, hang: true}
	tr, path := newTestTranscriber(t, fc)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := tr.Transcribe(ctx, transcribe.Audio{Path: path})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
