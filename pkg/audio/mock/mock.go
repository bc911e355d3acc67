// Package mock provides an in-memory [audio.Source] for unit tests.
//
// Source is safe for concurrent use. Set the exported fields to control its
// answers and use the Emit* helpers (inherited from [audio.Events]) to drive
// the event stream:
//
//	src := &mock.Source{SpecsResult: mock.DefaultSpecs, Approved: true}
//	src.EmitDataAvailable([]byte{1, 2})
//	src.EmitRecorded(audio.Recorded{ID: "r1"})
package mock

import (
	"sync"

	"github.com/itslanguage/itslanguage-go/pkg/audio"
)

// DefaultSpecs is 16 kHz mono 16-bit WAVE audio.
var DefaultSpecs = audio.Specs{
	AudioFormat: audio.FormatWave,
	Channels:    1,
	FrameRate:   16000,
	SampleWidth: 2,
}

// Source is a mock implementation of [audio.Source].
type Source struct {
	audio.Events

	mu sync.Mutex

	// SpecsResult is returned by Specs.
	SpecsResult audio.Specs

	// Recording is returned by IsRecording. Stop resets it to false.
	Recording bool

	// Approved is returned by HasUserMediaApproval.
	Approved bool

	// StopErr is returned by Stop.
	StopErr error

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Specs implements [audio.Source].
func (s *Source) Specs() audio.Specs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SpecsResult
}

// IsRecording implements [audio.Source].
func (s *Source) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Recording
}

// HasUserMediaApproval implements [audio.Source].
func (s *Source) HasUserMediaApproval() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Approved
}

// SetRecording updates the value returned by IsRecording.
func (s *Source) SetRecording(v bool) {
	s.mu.Lock()
	s.Recording = v
	s.mu.Unlock()
}

// Approve marks media access as granted and publishes a ready event.
func (s *Source) Approve() {
	s.mu.Lock()
	s.Approved = true
	s.mu.Unlock()
	s.EmitReady()
}

// Stop implements [audio.Source]. It only records the call and clears the
// recording flag; tests publish the recorded event themselves.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.Recording = false
	return s.StopErr
}

// StopCalls returns how many times Stop was called. Thread-safe.
func (s *Source) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

var _ audio.Source = (*Source)(nil)
