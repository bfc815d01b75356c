// Package websocket exposes the translation pipeline over a JSON websocket
// protocol, used by the local test client and by web front ends.
package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/logging"
	"github.com/harunnryd/turjumaad/pkg/pipeline"
	"github.com/harunnryd/turjumaad/pkg/transports"
)

// Message types exchanged with clients.
const (
	TypeText    = "text"
	TypeVoice   = "voice"
	TypeMessage = "message"
	TypeEdit    = "edit"
	TypeNotice  = "notice"
	TypeError   = "error"
)

// ClientMessage is sent by clients. Audio carries base64 encoded bytes.
type ClientMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"`
	MIME  string `json:"mime,omitempty"`
}

// ServerMessage is sent to clients. Ref identifies a result message so that
// later edits can replace it.
type ServerMessage struct {
	Type       string `json:"type"`
	RequestID  string `json:"request_id,omitempty"`
	Ref        string `json:"ref,omitempty"`
	Text       string `json:"text,omitempty"`
	Source     string `json:"source,omitempty"`
	Translated string `json:"translated,omitempty"`
	Partial    bool   `json:"partial,omitempty"`
}

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	Path           string   `mapstructure:"path"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	// SenderParam names the query parameter carrying the sender identity.
	SenderParam string `mapstructure:"sender_param"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8090"
	}
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.SenderParam == "" {
		c.SenderParam = "sender"
	}
	return c
}

type Transport struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	recvCh   chan transports.Inbound
	mu       sync.Mutex
	sessions map[string]*session
	draining atomic.Bool
	stopOnce sync.Once
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		log: logging.NewComponentLogger(slog.Default(), "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh:   make(chan transports.Inbound, 256),
		sessions: make(map[string]*session),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "websocket" }

func (t *Transport) Recv() <-chan transports.Inbound { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{"listen_addr": t.cfg.ServerAddr, "path": t.cfg.Path}
}

// Handler returns the HTTP routes served by the transport.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(t.cfg.Path, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("websocket_transport_server_error", "error", err.Error())
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.stopOnce.Do(func() {
		t.draining.Store(true)
		if t.server != nil {
			_ = t.server.Close()
		}
		t.mu.Lock()
		for id, sess := range t.sessions {
			_ = sess.close()
			delete(t.sessions, id)
		}
		close(t.recvCh)
		t.mu.Unlock()
	})
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	sender := strings.TrimSpace(r.URL.Query().Get(t.cfg.SenderParam))
	if sender == "" {
		http.Error(w, "missing sender", http.StatusBadRequest)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess := t.attach(sender, conn)
	if sess == nil {
		_ = conn.Close()
		return
	}
	defer t.detach(sess)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = sess.enqueue(ServerMessage{Type: TypeError, Text: "invalid message"})
			continue
		}
		req, err := t.request(sender, msg)
		if err != nil {
			_ = sess.enqueue(ServerMessage{Type: TypeError, RequestID: msg.ID, Text: err.Error()})
			continue
		}
		if !t.push(transports.Inbound{Request: req, Sink: &sink{sess: sess, requestID: req.ID}}) {
			return
		}
	}
}

func (t *Transport) request(sender string, msg ClientMessage) (pipeline.Request, error) {
	id := strings.TrimSpace(msg.ID)
	if id == "" {
		id = uuid.NewString()
	}
	req := pipeline.Request{
		ID:         id,
		SenderID:   sender,
		ChatID:     sender,
		ReceivedAt: time.Now(),
	}
	switch msg.Type {
	case TypeText:
		req.Kind = pipeline.KindText
		req.Text = msg.Text
	case TypeVoice:
		data, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return req, errors.New("audio is not valid base64")
		}
		if len(data) > transports.MaxAudioBytes {
			return req, transports.ErrAudioTooLarge
		}
		req.Kind = pipeline.KindVoice
		req.Audio = transports.BytesAudio{Data: data, Ext: transports.SuffixForMIME(msg.MIME)}
	default:
		return req, errors.New("unsupported message type")
	}
	return req, nil
}

// push hands the message to the dispatcher unless the transport is stopping.
func (t *Transport) push(in transports.Inbound) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining.Load() {
		return false
	}
	select {
	case t.recvCh <- in:
		return true
	default:
		t.log.Warn("websocket_inbound_dropped", "request_id", in.Request.ID)
		return true
	}
}

func (t *Transport) attach(sender string, conn *websocket.Conn) *session {
	sess := &session{
		id:     uuid.NewString(),
		sender: sender,
		conn:   conn,
		sendCh: make(chan []byte, 256),
	}
	t.mu.Lock()
	if t.draining.Load() {
		t.mu.Unlock()
		return nil
	}
	t.sessions[sess.id] = sess
	t.mu.Unlock()
	go sess.loop()
	t.log.Debug("websocket_session_opened", "session_id", sess.id)
	return sess
}

func (t *Transport) detach(sess *session) {
	t.mu.Lock()
	delete(t.sessions, sess.id)
	t.mu.Unlock()
	_ = sess.close()
	t.log.Debug("websocket_session_closed", "session_id", sess.id)
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
	if origin == "" {
		return true
	}
	originHost := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

var errSessionClosed = errors.New("websocket session closed")

type session struct {
	id     string
	sender string
	conn   *websocket.Conn
	sendCh chan []byte
	mu     sync.RWMutex
	closed bool
	refs   atomic.Int64
}

func (s *session) enqueue(msg ServerMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errSessionClosed
	}
	select {
	case s.sendCh <- b:
		return nil
	default:
		return errors.New("websocket send buffer full")
	}
}

func (s *session) loop() {
	for msg := range s.sendCh {
		_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			_ = s.conn.Close()
		}
	}
	_ = s.conn.Close()
}

func (s *session) close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.sendCh)
	}
	s.mu.Unlock()
	return nil
}

type sink struct {
	sess      *session
	requestID string
}

func (s *sink) message(typ string, ref pipeline.MessageRef, res pipeline.Result) ServerMessage {
	return ServerMessage{
		Type:       typ,
		RequestID:  s.requestID,
		Ref:        string(ref),
		Text:       res.Render(),
		Source:     res.SourceText,
		Translated: res.TranslatedText,
		Partial:    res.Partial,
	}
}

func (s *sink) Send(_ context.Context, res pipeline.Result) (pipeline.MessageRef, error) {
	ref := pipeline.MessageRef("m" + strconv.FormatInt(s.sess.refs.Add(1), 10))
	if err := s.sess.enqueue(s.message(TypeMessage, ref, res)); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDelivery)
	}
	return ref, nil
}

func (s *sink) Update(_ context.Context, ref pipeline.MessageRef, res pipeline.Result) error {
	if err := s.sess.enqueue(s.message(TypeEdit, ref, res)); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDelivery)
	}
	return nil
}

func (s *sink) Notify(_ context.Context, text string) error {
	if err := s.sess.enqueue(ServerMessage{Type: TypeNotice, RequestID: s.requestID, Text: text}); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDelivery)
	}
	return nil
}
