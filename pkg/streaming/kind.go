package streaming

import "github.com/itslanguage/itslanguage-go/pkg/rpc"

// Kind identifies one of the three streaming session variants.
type Kind int

const (
	// KindRecording is a plain speech recording.
	KindRecording Kind = iota
	// KindPronunciation is a pronunciation analysis.
	KindPronunciation
	// KindChoice is a choice recognition.
	KindChoice
)

// Kinds lists every session kind.
var Kinds = []Kind{KindRecording, KindPronunciation, KindChoice}

// String returns the RPC domain of k.
func (k Kind) String() string {
	switch k {
	case KindRecording:
		return "recording"
	case KindPronunciation:
		return "pronunciation"
	case KindChoice:
		return "choice"
	default:
		return "unknown"
	}
}

func (k Kind) sessionNoun() string {
	switch k {
	case KindRecording:
		return "recording session"
	case KindPronunciation:
		return "analysis session"
	case KindChoice:
		return "recognition session"
	default:
		return "session"
	}
}

// variant holds everything that differs between the session kinds.
type variant struct {
	kind Kind

	// initVerb creates the server-side session and returns its token.
	initVerb string

	// finalVerb ends the session and returns the result payload.
	finalVerb string

	// resultKey names the keyword under which the backend returns the
	// result payload, both on success and inside error details.
	resultKey string

	// alignment fetches the reference alignment after the challenge bind and
	// requests progressive results from the finalize call.
	alignment bool
}

var (
	recordingVariant = variant{
		kind:      KindRecording,
		initVerb:  "init_recording",
		finalVerb: "close",
		resultKey: "recording",
	}
	pronunciationVariant = variant{
		kind:      KindPronunciation,
		initVerb:  "init_analysis",
		finalVerb: "analyse",
		resultKey: "analysis",
		alignment: true,
	}
	choiceVariant = variant{
		kind:      KindChoice,
		initVerb:  "init_recognition",
		finalVerb: "recognise",
		resultKey: "recognition",
	}
)

func (v variant) procedure(verb string) string {
	return rpc.Procedure(v.kind.String(), verb)
}

// State is a step of the session state machine.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateAwaitingMediaApproval
	StateAudioNegotiated
	StateStreaming
	StateFinalizing
	StateCompleted
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateAwaitingMediaApproval:
		return "awaiting_media_approval"
	case StateAudioNegotiated:
		return "audio_negotiated"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
