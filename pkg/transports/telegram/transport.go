// Package telegram connects the pipeline to a Telegram bot using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/logging"
	"github.com/harunnryd/turjumaad/pkg/pipeline"
	"github.com/harunnryd/turjumaad/pkg/redact"
	"github.com/harunnryd/turjumaad/pkg/transports"
)

// maxMessageRunes is Telegram's text message limit.
const maxMessageRunes = 4096

type Config struct {
	Token       string `mapstructure:"token"`
	APIEndpoint string `mapstructure:"api_endpoint"`
	// FileEndpoint is a format string taking the token and the file path.
	FileEndpoint string   `mapstructure:"file_endpoint"`
	PollTimeout  int      `mapstructure:"poll_timeout"`
	Keyboard     []string `mapstructure:"keyboard"`
	Debug        bool     `mapstructure:"debug"`
}

func (c Config) withDefaults() Config {
	if c.APIEndpoint == "" {
		c.APIEndpoint = tgbotapi.APIEndpoint
	}
	if c.FileEndpoint == "" {
		c.FileEndpoint = tgbotapi.FileEndpoint
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 60
	}
	if len(c.Keyboard) == 0 {
		c.Keyboard = []string{"Help", "Write", "Record"}
	}
	return c
}

type Transport struct {
	cfg    Config
	log    *slog.Logger
	bot    *tgbotapi.BotAPI
	client *http.Client

	recvCh chan transports.Inbound
	done   chan struct{}
	once   sync.Once
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		cfg:    cfg,
		log:    logging.NewComponentLogger(slog.Default(), "telegram"),
		client: &http.Client{Timeout: time.Duration(cfg.PollTimeout+10) * time.Second},
		recvCh: make(chan transports.Inbound, 256),
		done:   make(chan struct{}),
	}
}

func (t *Transport) Name() string { return "telegram" }

func (t *Transport) Recv() <-chan transports.Inbound { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	if t.bot == nil {
		return nil
	}
	return map[string]any{"bot_username": t.bot.Self.UserName}
}

// connect validates the token with getMe.
func (t *Transport) connect() error {
	if strings.TrimSpace(t.cfg.Token) == "" {
		return errors.New("telegram token is required")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.cfg.Token, t.cfg.APIEndpoint, t.client)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	bot.Debug = t.cfg.Debug
	t.bot = bot
	return nil
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.bot == nil {
		if err := t.connect(); err != nil {
			return err
		}
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.cfg.PollTimeout
	u.AllowedUpdates = []string{"message"}
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		select {
		case <-ctx.Done():
			_ = t.Stop()
		case <-t.done:
		}
	}()
	go func() {
		defer close(t.recvCh)
		for {
			select {
			case <-t.done:
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				in, ok := t.inbound(update.Message)
				if !ok {
					continue
				}
				select {
				case t.recvCh <- in:
				case <-t.done:
					return
				}
			}
		}
	}()
	t.log.Info("telegram_polling_started", "bot_username", t.bot.Self.UserName)
	return nil
}

func (t *Transport) Stop() error {
	t.once.Do(func() {
		close(t.done)
		if t.bot != nil {
			t.bot.StopReceivingUpdates()
		}
	})
	return nil
}

// inbound converts a Telegram message. The chat id is the sender identity
// checked against the allow-list.
func (t *Transport) inbound(msg *tgbotapi.Message) (transports.Inbound, bool) {
	if msg == nil || msg.Chat == nil {
		return transports.Inbound{}, false
	}
	chatID := msg.Chat.ID
	req := pipeline.Request{
		ID:         uuid.NewString(),
		SenderID:   strconv.FormatInt(chatID, 10),
		ChatID:     strconv.FormatInt(chatID, 10),
		ReceivedAt: msg.Time(),
	}
	switch {
	case msg.Voice != nil:
		req.Kind = pipeline.KindVoice
		req.Audio = &fileAudio{t: t, fileID: msg.Voice.FileID, ext: suffixOr(msg.Voice.MimeType, ".ogg")}
	case msg.Audio != nil:
		req.Kind = pipeline.KindVoice
		req.Audio = &fileAudio{t: t, fileID: msg.Audio.FileID, ext: suffixOr(msg.Audio.MimeType, ".mp3")}
	case msg.Text != "":
		req.Kind = pipeline.KindText
		req.Text = msg.Text
	default:
		return transports.Inbound{}, false
	}
	t.log.Debug("telegram_message_received",
		"request_id", req.ID,
		"chat_id", redact.Sender(req.ChatID),
		"kind", string(req.Kind))
	return transports.Inbound{
		Request: req,
		Sink:    &sink{t: t, chatID: chatID, start: isStart(msg)},
	}, true
}

func isStart(msg *tgbotapi.Message) bool {
	if msg.IsCommand() {
		return msg.Command() == "start"
	}
	return strings.EqualFold(strings.TrimSpace(msg.Text), "/start")
}

func suffixOr(mime, fallback string) string {
	if s := transports.SuffixForMIME(mime); s != ".bin" {
		return s
	}
	return fallback
}

type fileAudio struct {
	t      *Transport
	fileID string
	ext    string
}

func (a *fileAudio) Suffix() string { return a.ext }

func (a *fileAudio) Fetch(ctx context.Context, w io.Writer) error {
	file, err := a.t.bot.GetFile(tgbotapi.FileConfig{FileID: a.fileID})
	if err != nil {
		return fmt.Errorf("telegram getFile: %w", err)
	}
	link := fmt.Sprintf(a.t.cfg.FileEndpoint, a.t.cfg.Token, file.FilePath)
	return transports.Download(ctx, nil, link, "", "", w)
}

type sink struct {
	t      *Transport
	chatID int64
	start  bool
}

func (s *sink) Send(_ context.Context, res pipeline.Result) (pipeline.MessageRef, error) {
	msg := tgbotapi.NewMessage(s.chatID, truncateRunes(res.Render(), maxMessageRunes))
	sent, err := s.t.bot.Send(msg)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDelivery)
	}
	return pipeline.MessageRef(strconv.Itoa(sent.MessageID)), nil
}

func (s *sink) Update(_ context.Context, ref pipeline.MessageRef, res pipeline.Result) error {
	id, err := strconv.Atoi(string(ref))
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("bad message ref %q", ref), errorsx.ReasonDelivery)
	}
	edit := tgbotapi.NewEditMessageText(s.chatID, id, truncateRunes(res.Render(), maxMessageRunes))
	if _, err := s.t.bot.Request(edit); err != nil && !notModified(err) {
		return errorsx.Wrap(err, errorsx.ReasonDelivery)
	}
	return nil
}

func (s *sink) Notify(_ context.Context, text string) error {
	return s.notify(tgbotapi.NewMessage(s.chatID, text))
}

// Menu attaches the quick-reply keyboard when answering /start.
func (s *sink) Menu(_ context.Context, text string) error {
	msg := tgbotapi.NewMessage(s.chatID, text)
	if s.start && len(s.t.cfg.Keyboard) > 0 {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(s.t.cfg.Keyboard))
		for _, label := range s.t.cfg.Keyboard {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(buttons...))
		kb.ResizeKeyboard = true
		msg.ReplyMarkup = kb
	}
	return s.notify(msg)
}

func (s *sink) notify(msg tgbotapi.MessageConfig) error {
	if _, err := s.t.bot.Send(msg); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDelivery)
	}
	return nil
}

// notModified reports Telegram's rejection of an edit that changes nothing.
func notModified(err error) bool {
	var tgErr *tgbotapi.Error
	return errors.As(err, &tgErr) && strings.Contains(tgErr.Message, "message is not modified")
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

var _ pipeline.MenuSink = (*sink)(nil)
