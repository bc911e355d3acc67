package streaming

import "errors"

// Precondition errors. They are returned before any RPC is issued. The
// messages of ErrNotOpen and ErrAlreadyRecording are shown to end users by
// existing front ends and are kept verbatim.
var (
	// ErrInvalidChallenge is returned when the challenge is nil or lacks an
	// ID or organisation ID.
	ErrInvalidChallenge = errors.New("streaming: challenge must have an id and an organisation id")

	// ErrNoSource is returned when no audio source was given.
	ErrNoSource = errors.New("streaming: audio source is required")

	// ErrNotOpen is returned when the RPC channel is not open.
	ErrNotOpen = errors.New("WebSocket connection was not open.") //nolint:staticcheck // user-facing message

	// ErrAlreadyRecording is returned when the audio source is already
	// recording.
	ErrAlreadyRecording = errors.New("Recorder should not yet be recording.") //nolint:staticcheck // user-facing message

	// ErrSessionInProgress is wrapped by the error returned when a session of
	// the same kind is outstanding on the transport.
	ErrSessionInProgress = errors.New("still in progress")
)

// ErrCancelled is returned by a session ended through CancelStreaming before
// it reached finalization.
var ErrCancelled = errors.New("streaming: session cancelled")

// Failure codes reported by the backend when a session recorded audio but
// could not be scored.
const (
	CodeRefAlignmentFailed = "ref_alignment_failed"
	CodeAlignmentFailed    = "alignment_failed"
	CodeAnalysisFailed     = "analysis_failed"
	CodeRecognitionFailed  = "recognition_failed"
)

var failureMessages = map[string]string{
	CodeRefAlignmentFailed: "Reference alignment failed",
	CodeAlignmentFailed:    "Alignment failed",
	CodeAnalysisFailed:     "Analysis failed",
	CodeRecognitionFailed:  "Recognition failed",
}

// FailureMessage returns the human-readable message for a failure code.
// Unknown codes map to "Unhandled error".
func FailureMessage(code string) string {
	if msg, ok := failureMessages[code]; ok {
		return msg
	}
	return "Unhandled error"
}

// FailureError is returned together with a partial result when the finalize
// call reported a domain failure. The attempt was recorded (the result
// carries its metadata) but could not be scored.
//
// A nil result with a non-FailureError error means no attempt was recorded.
type FailureError struct {
	// Code is the failure code, e.g. "alignment_failed".
	Code string

	// Message is the human-readable message for Code.
	Message string

	// Err is the underlying RPC error.
	Err error
}

// Error returns Message.
func (e *FailureError) Error() string { return e.Message }

// Unwrap returns the underlying RPC error.
func (e *FailureError) Unwrap() error { return e.Err }
