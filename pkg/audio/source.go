// Package audio defines the audio-capture collaborator consumed by streaming
// sessions.
//
// A [Source] wraps a recorder (microphone, file, test double) and reports its
// negotiated [Specs], whether it is currently recording, and whether the user
// has granted media access. It publishes three events: ready (media access was
// granted), dataavailable (a chunk of encoded audio), and recorded (the
// recording finished).
//
// Implementations embed [Events] to get the subscription half of the
// interface for free.
package audio

import (
	"errors"
	"fmt"

	"github.com/itslanguage/itslanguage-go/pkg/event"
)

// Audio formats understood by the ITSLanguage backend.
const (
	FormatWave = "audio/wave"
	FormatPCM  = "audio/x-pcm"
)

// Specs describes the audio a [Source] produces. It is negotiated once per
// session and must not change while the session is streaming.
type Specs struct {
	// AudioFormat is the MIME-like container format, e.g. [FormatWave].
	AudioFormat string

	// Channels is the number of interleaved channels. 1 = mono.
	Channels int

	// FrameRate is the sample rate in Hz.
	FrameRate int

	// SampleWidth is the number of bytes per sample per channel.
	SampleWidth int
}

// Parameters returns the keyword arguments sent with the audio negotiation
// call.
func (s Specs) Parameters() map[string]any {
	return map[string]any{
		"channels":    s.Channels,
		"frameRate":   s.FrameRate,
		"sampleWidth": s.SampleWidth,
	}
}

// Validate reports every field that cannot be negotiated.
func (s Specs) Validate() error {
	var errs []error
	if s.AudioFormat == "" {
		errs = append(errs, errors.New("audio format is required"))
	}
	if s.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channels %d must be positive", s.Channels))
	}
	if s.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("frame rate %d must be positive", s.FrameRate))
	}
	if s.SampleWidth <= 0 {
		errs = append(errs, fmt.Errorf("sample width %d must be positive", s.SampleWidth))
	}
	return errors.Join(errs...)
}

// Recorded is published once a recording has finished.
type Recorded struct {
	// ID identifies the recording on the source side.
	ID string

	// Data is the complete recording.
	Data []byte

	// ForcedStop is true when the recording was cut short by Stop rather
	// than ending on its own.
	ForcedStop bool
}

// Source is the audio-capture collaborator. All methods must be safe for
// concurrent use; event handlers may be invoked on any goroutine.
type Source interface {
	// Specs returns the format of the audio this source emits.
	Specs() Specs

	// IsRecording reports whether a recording is in progress.
	IsRecording() bool

	// HasUserMediaApproval reports whether access to the capture device has
	// been granted. When false, a ready event follows once it is.
	HasUserMediaApproval() bool

	// Stop ends an in-progress recording. It publishes a recorded event with
	// ForcedStop set. Stopping an idle source is a no-op.
	Stop() error

	// OnReady subscribes to media approval.
	OnReady(fn func()) (off func())

	// OnDataAvailable subscribes to audio chunks, delivered in capture order.
	OnDataAvailable(fn func(chunk []byte)) (off func())

	// OnRecorded subscribes to recording completion.
	OnRecorded(fn func(Recorded)) (off func())
}

// Events is the embeddable publish/subscribe half of [Source].
type Events struct {
	ready    event.Emitter[struct{}]
	data     event.Emitter[[]byte]
	recorded event.Emitter[Recorded]
}

// OnReady implements [Source].
func (e *Events) OnReady(fn func()) func() {
	return e.ready.On(func(struct{}) { fn() })
}

// OnDataAvailable implements [Source].
func (e *Events) OnDataAvailable(fn func([]byte)) func() {
	return e.data.On(fn)
}

// OnRecorded implements [Source].
func (e *Events) OnRecorded(fn func(Recorded)) func() {
	return e.recorded.On(fn)
}

// EmitReady publishes a ready event.
func (e *Events) EmitReady() { e.ready.Emit(struct{}{}) }

// EmitDataAvailable publishes an audio chunk.
func (e *Events) EmitDataAvailable(chunk []byte) { e.data.Emit(chunk) }

// EmitRecorded publishes recording completion.
func (e *Events) EmitRecorded(r Recorded) { e.recorded.Emit(r) }

// ListenerCount returns the number of subscribed handlers across all three
// events.
func (e *Events) ListenerCount() int {
	return e.ready.Len() + e.data.Len() + e.recorded.Len()
}
