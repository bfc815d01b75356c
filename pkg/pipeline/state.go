package pipeline

type State int

const (
	StateIdle State = iota
	StateAuthorizing
	StateRejected
	StateRouting
	StateTextPath
	StateVoicePath
	StateAcquiring
	StateTranscoding
	StateTranscribing
	StateFallback
	StateTranslating
	StateDelivered
	StateFailed
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateAuthorizing:  "authorizing",
	StateRejected:     "rejected",
	StateRouting:      "routing",
	StateTextPath:     "text_path",
	StateVoicePath:    "voice_path",
	StateAcquiring:    "acquiring",
	StateTranscoding:  "transcoding",
	StateTranscribing: "transcribing",
	StateFallback:     "fallback",
	StateTranslating:  "translating",
	StateDelivered:    "delivered",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed || s == StateRejected
}
