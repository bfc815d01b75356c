package metrics

// Event names emitted by the pipeline and its backends. Every per-request
// event carries a "request_id" tag.
const (
	EventRequestReceived     = "request_received"
	EventRequestUnauthorized = "request_unauthorized"
	EventStateChanged        = "pipeline_state"
	EventArtifactAcquired    = "artifact_acquired"
	EventArtifactReleased    = "artifact_released"
	EventTranscodeDone       = "transcode_done"
	EventTranscribeDone      = "transcribe_done"
	EventTranscribeJobPoll   = "transcribe_job_poll"
	EventTranslateFirst      = "translate_first_fragment"
	EventTranslateDone       = "translate_done"
	EventDelivered           = "delivered"
	EventRequestFailed       = "request_failed"

	EventBreakerDenied = "breaker_denied"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventRateLimit     = "rate_limit"
)

// Tag keys shared across events.
const (
	TagRequestID = "request_id"
	TagComponent = "component"
	TagProvider  = "provider"
	TagState     = "state"
	TagReason    = "reason"
)
