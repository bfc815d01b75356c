package pipeline

import (
	"strings"

	"github.com/harunnryd/turjumaad/pkg/errorsx"
)

// Messages are the fixed texts sent to users. Empty fields fall back to
// DefaultMessages.
type Messages struct {
	Unauthorized     string `mapstructure:"unauthorized"`
	VoiceError       string `mapstructure:"voice_error"`
	TextError        string `mapstructure:"text_error"`
	CouldNotHear     string `mapstructure:"could_not_transcribe"`
	Timeout          string `mapstructure:"timeout"`
	RateLimited      string `mapstructure:"rate_limited"`
	EmptyText        string `mapstructure:"empty_text"`
	UnsupportedInput string `mapstructure:"unsupported"`
}

func DefaultMessages() Messages {
	return Messages{
		Unauthorized:     "❌ You are not authorised to use this bot.",
		VoiceError:       "⚠️ Error while transcribing or translating your voice message.",
		TextError:        "⚠️ Error while processing your message.",
		CouldNotHear:     "🤷 Sorry, I could not transcribe that voice message. Please try again.",
		Timeout:          "⌛ Transcription took too long. Please send the voice message again.",
		RateLimited:      "🚦 Too many requests right now. Please try again in a minute.",
		EmptyText:        "✍️ Please send some text or a voice message.",
		UnsupportedInput: "Please send text or a voice message.",
	}
}

func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&m.Unauthorized, d.Unauthorized)
	fill(&m.VoiceError, d.VoiceError)
	fill(&m.TextError, d.TextError)
	fill(&m.CouldNotHear, d.CouldNotHear)
	fill(&m.Timeout, d.Timeout)
	fill(&m.RateLimited, d.RateLimited)
	fill(&m.EmptyText, d.EmptyText)
	fill(&m.UnsupportedInput, d.UnsupportedInput)
	return m
}

// forFailure picks the one reply for a failed request.
func (m Messages) forFailure(kind Kind, reason errorsx.ReasonCode) string {
	switch reason {
	case errorsx.ReasonTranscribeEmpty:
		return m.CouldNotHear
	case errorsx.ReasonTranscribeTimeout:
		return m.Timeout
	case errorsx.ReasonTranslateRateLimit:
		return m.RateLimited
	case errorsx.ReasonEmptyInput:
		return m.EmptyText
	}
	if kind == KindVoice {
		return m.VoiceError
	}
	return m.TextError
}

// Shortcuts map exact menu texts to canned replies. Matching ignores case
// and surrounding space.
type Shortcuts map[string]string

func DefaultShortcuts() Shortcuts {
	return Shortcuts{
		"/start": "Hi! Please choose an option below:",
		"help":   "🆘 What do you need help with?",
		"write":  "✍️ Please type what you'd like me to help you write.",
		"record": "🎙️ Please send a voice message.",
	}
}

func (s Shortcuts) lookup(text string) (string, bool) {
	if len(s) == 0 {
		return "", false
	}
	key := strings.ToLower(strings.TrimSpace(text))
	if key == "" {
		return "", false
	}
	for k, v := range s {
		if strings.ToLower(strings.TrimSpace(k)) == key {
			return v, true
		}
	}
	return "", false
}
