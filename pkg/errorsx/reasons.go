package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonEmptyInput ReasonCode = "empty_input"

	ReasonAcquire    ReasonCode = "artifact_acquire"
	ReasonAudioFetch ReasonCode = "audio_fetch"
	ReasonTranscode  ReasonCode = "transcode"

	ReasonTranscribeTimeout   ReasonCode = "transcribe_timeout"
	ReasonTranscribeBackend   ReasonCode = "transcribe_backend"
	ReasonTranscribeTransport ReasonCode = "transcribe_transport"
	ReasonTranscribeEmpty     ReasonCode = "transcribe_empty"

	ReasonTranslateTransport ReasonCode = "translate_transport"
	ReasonTranslateEmpty     ReasonCode = "translate_empty"
	ReasonTranslateRateLimit ReasonCode = "translate_rate_limit"

	ReasonCanceled ReasonCode = "canceled"
	ReasonDeadline ReasonCode = "deadline"
	ReasonPanic    ReasonCode = "panic"

	ReasonDelivery                  ReasonCode = "delivery"
	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
)
