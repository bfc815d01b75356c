// Package twilio receives WhatsApp messages through a Twilio messaging
// webhook and answers through the Messages REST API.
package twilio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/logging"
	"github.com/harunnryd/turjumaad/pkg/pipeline"
	"github.com/harunnryd/turjumaad/pkg/redact"
	"github.com/harunnryd/turjumaad/pkg/transports"
)

// maxBodyRunes is the WhatsApp message length limit enforced by Twilio.
const maxBodyRunes = 1600

type Config struct {
	ServerAddr         string `mapstructure:"server_addr"`
	PublicURL          string `mapstructure:"public_url"`
	AuthToken          string `mapstructure:"auth_token"`
	AccountSID         string `mapstructure:"account_sid"`
	From               string `mapstructure:"from"`
	WebhookPath        string `mapstructure:"webhook_path"`
	StatusCallbackPath string `mapstructure:"status_callback_path"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.WebhookPath == "" {
		c.WebhookPath = "/whatsapp"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/whatsapp/status"
	}
	if c.From != "" && !strings.HasPrefix(c.From, "whatsapp:") {
		c.From = "whatsapp:" + c.From
	}
	return c
}

type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

type Transport struct {
	cfg    Config
	server *http.Server
	log    *slog.Logger

	messages messageCreator
	media    *http.Client

	mu       sync.Mutex
	recvCh   chan transports.Inbound
	closed   bool
	draining atomic.Bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		cfg:    cfg,
		log:    logging.NewComponentLogger(slog.Default(), "twilio"),
		media:  &http.Client{Timeout: 60 * time.Second},
		recvCh: make(chan transports.Inbound, 256),
	}
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) Recv() <-chan transports.Inbound { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         t.publicURL(t.cfg.WebhookPath),
		"status_callback_url": t.publicURL(t.cfg.StatusCallbackPath),
		"from":                t.cfg.From,
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.cfg.AccountSID == "" || t.cfg.AuthToken == "" {
		return errors.New("missing twilio credentials")
	}
	if t.cfg.From == "" {
		return errors.New("twilio from number is required")
	}
	if t.messages == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: t.cfg.AccountSID,
			Password: t.cfg.AuthToken,
		})
		t.messages = rest.Api
	}
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("twilio_transport_server_error", "error", err.Error())
		}
	}()
	return nil
}

// Handler exposes the webhook routes; Start serves it on ServerAddr.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.WebhookPath, t.handleMessage)
	mux.HandleFunc(t.cfg.StatusCallbackPath, t.handleStatusCallback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.recvCh)
	}
	return nil
}

func (t *Transport) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if !t.validateTwilioRequest(r) {
		t.log.Warn("twilio_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	in, ok := t.inbound(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !t.push(in) {
		t.log.Warn("twilio_inbound_dropped", "request_id", in.Request.ID)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	// Replies go out through the REST API, so the TwiML answer stays empty.
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(`<Response></Response>`))
}

func (t *Transport) inbound(r *http.Request) (transports.Inbound, bool) {
	from := strings.TrimSpace(r.PostForm.Get("From"))
	if from == "" {
		return transports.Inbound{}, false
	}
	req := pipeline.Request{
		ID:         uuid.NewString(),
		SenderID:   from,
		ChatID:     from,
		Kind:       pipeline.KindText,
		Text:       r.PostForm.Get("Body"),
		ReceivedAt: time.Now(),
	}
	numMedia, _ := strconv.Atoi(r.PostForm.Get("NumMedia"))
	contentType := r.PostForm.Get("MediaContentType0")
	if numMedia > 0 && strings.HasPrefix(contentType, "audio/") {
		req.Kind = pipeline.KindVoice
		req.Audio = transports.URLAudio{
			URL:      r.PostForm.Get("MediaUrl0"),
			Username: t.cfg.AccountSID,
			Password: t.cfg.AuthToken,
			Ext:      transports.SuffixForMIME(contentType),
			Client:   t.media,
		}
	}
	t.log.Debug("twilio_message_received",
		"request_id", req.ID,
		"message_sid", r.PostForm.Get("MessageSid"),
		"from", redact.Sender(from),
		"kind", string(req.Kind))
	return transports.Inbound{Request: req, Sink: &sink{t: t, to: from}}, true
}

func (t *Transport) push(in transports.Inbound) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	select {
	case t.recvCh <- in:
		return true
	default:
		return false
	}
}

func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if !t.validateTwilioRequest(r) {
		t.log.Warn("twilio_status_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	status := normalizeMessageStatus(r.PostForm.Get("MessageStatus"))
	attrs := []any{
		"message_sid", r.PostForm.Get("MessageSid"),
		"status", status,
	}
	if status == "failed" {
		attrs = append(attrs, "error_code", r.PostForm.Get("ErrorCode"), "reason_code", string(errorsx.ReasonDelivery))
		t.log.Warn("twilio_message_failed", attrs...)
	} else {
		t.log.Debug("twilio_message_status", attrs...)
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) send(to, body string) (string, error) {
	if t.messages == nil {
		return "", errors.New("twilio transport not started")
	}
	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.cfg.From)
	params.SetBody(truncateRunes(body, maxBodyRunes))
	if t.cfg.PublicURL != "" {
		params.SetStatusCallback(t.publicURL(t.cfg.StatusCallbackPath))
	}
	resp, err := t.messages.CreateMessage(params)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDelivery)
	}
	if resp == nil || resp.Sid == nil {
		return "", errorsx.New(errorsx.ReasonDelivery, "missing message sid")
	}
	return *resp.Sid, nil
}

func (t *Transport) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if t.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.ValidateBody(t.requestURL(r), body, signature)
}

func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		base := strings.TrimRight(t.cfg.PublicURL, "/")
		return base + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (t *Transport) publicURL(path string) string {
	if t.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(t.cfg.PublicURL) + path
	}
	addr := t.cfg.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	if addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func normalizeMessageStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "accepted", "queued", "sending", "scheduled":
		return "queued"
	case "sent":
		return "sent"
	case "delivered", "read":
		return "delivered"
	case "failed", "undelivered", "canceled":
		return "failed"
	default:
		return "unknown"
	}
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// sink answers one WhatsApp conversation. WhatsApp messages cannot be
// edited, so partial results are held back and only the final text is sent.
type sink struct {
	t  *Transport
	to string
}

func (s *sink) Send(_ context.Context, res pipeline.Result) (pipeline.MessageRef, error) {
	if res.Partial {
		return "", nil
	}
	sid, err := s.t.send(s.to, res.Render())
	return pipeline.MessageRef(sid), err
}

func (s *sink) Update(_ context.Context, _ pipeline.MessageRef, res pipeline.Result) error {
	if res.Partial {
		return nil
	}
	_, err := s.t.send(s.to, res.Render())
	return err
}

func (s *sink) Notify(_ context.Context, text string) error {
	_, err := s.t.send(s.to, text)
	return err
}
