// Package wavfile provides an [audio.Source] that "records" a WAV file.
//
// The file is converted once to the target PCM format and then emitted as a
// WAVE header chunk followed by fixed-duration PCM chunks, optionally paced in
// real time. Media approval is implicit, so a file source never publishes a
// ready event.
//
//	src, err := wavfile.Open("hello.wav", wavfile.WithRealtime(true))
//	go client.StartPronunciationAnalysis(ctx, challenge, src)
//	src.Start(ctx)
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/itslanguage/itslanguage-go/pkg/audio"
)

const defaultChunkDuration = 250 * time.Millisecond

// DefaultTarget is 16 kHz mono 16-bit PCM.
var DefaultTarget = audio.Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}

// ErrAlreadyRecording is returned by Start while a recording is in progress.
var ErrAlreadyRecording = errors.New("wavfile: already recording")

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithChunkDuration sets the amount of audio per dataavailable event.
// Defaults to 250ms.
func WithChunkDuration(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.chunkDuration = d
		}
	}
}

// WithRealtime paces chunks at the rate a microphone would produce them.
func WithRealtime(enabled bool) Option {
	return func(s *Source) { s.realtime = enabled }
}

// WithTarget sets the PCM format the file is converted to. Only 16-bit targets
// are supported.
func WithTarget(f audio.Format) Option {
	return func(s *Source) { s.target = f }
}

// WithID sets the recording ID published with the recorded event. Defaults to
// the file's base name.
func WithID(id string) Option {
	return func(s *Source) { s.id = id }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.log = l }
}

// Source implements [audio.Source] backed by an in-memory WAV file.
type Source struct {
	audio.Events

	id            string
	target        audio.Format
	chunkDuration time.Duration
	realtime      bool
	log           *slog.Logger

	pcm []byte

	mu        sync.Mutex
	recording bool
	stop      chan struct{}
	done      chan struct{}
}

// Open reads the WAV file at path and returns a ready-to-start [Source].
func Open(path string, opts ...Option) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: read %q: %w", path, err)
	}
	opts = append([]Option{WithID(filepath.Base(path))}, opts...)
	return New(data, opts...)
}

// New parses wav and converts its PCM to the target format.
func New(wav []byte, opts ...Option) (*Source, error) {
	s := &Source{
		id:            "wavfile",
		target:        DefaultTarget,
		chunkDuration: defaultChunkDuration,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	h, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}
	conv := audio.FormatConverter{Target: s.target, Logger: s.log}
	pcm, err := conv.Convert(wav[h.dataOffset:h.dataOffset+h.dataSize], h.format)
	if err != nil {
		return nil, fmt.Errorf("wavfile: convert %s: %w", h.format, err)
	}
	s.pcm = pcm
	return s, nil
}

// Specs implements [audio.Source].
func (s *Source) Specs() audio.Specs {
	return s.target.Specs(audio.FormatWave)
}

// IsRecording implements [audio.Source].
func (s *Source) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// HasUserMediaApproval implements [audio.Source]. Files need no approval.
func (s *Source) HasUserMediaApproval() bool { return true }

// Duration returns the playback length of the converted audio.
func (s *Source) Duration() time.Duration {
	bytesPerSecond := s.target.SampleRate * s.target.Channels * s.target.SampleWidth
	return time.Duration(len(s.pcm)) * time.Second / time.Duration(bytesPerSecond)
}

// Start begins emitting chunks on a background goroutine. It returns
// immediately. Cancelling ctx behaves like Stop.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.recording {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	s.recording = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go s.run(ctx, stop, done)
	return nil
}

// Stop implements [audio.Source]. The recorded event is published from the
// emitting goroutine with ForcedStop set.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording || s.stop == nil {
		return nil
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return nil
}

// Done returns a channel closed once the current recording has published its
// recorded event. It returns nil before the first Start.
func (s *Source) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Source) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	chunkSize := s.chunkBytes()
	sent := 0
	forced := false

	header := encodeHeader(s.target, len(s.pcm))
	s.EmitDataAvailable(header)

	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(s.chunkDuration)
		defer ticker.Stop()
	}

loop:
	for sent < len(s.pcm) {
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-stop:
				forced = true
				break loop
			case <-ctx.Done():
				forced = true
				break loop
			}
		} else {
			select {
			case <-stop:
				forced = true
				break loop
			case <-ctx.Done():
				forced = true
				break loop
			default:
			}
		}
		end := min(sent+chunkSize, len(s.pcm))
		s.EmitDataAvailable(s.pcm[sent:end])
		sent = end
	}

	s.mu.Lock()
	s.recording = false
	s.mu.Unlock()

	s.log.Debug("wavfile: recording finished", "id", s.id, "bytes", sent, "forced_stop", forced)

	data := make([]byte, 0, len(header)+sent)
	data = append(data, encodeHeader(s.target, sent)...)
	data = append(data, s.pcm[:sent]...)
	s.EmitRecorded(audio.Recorded{ID: s.id, Data: data, ForcedStop: forced})
}

// chunkBytes returns the frame-aligned byte size of one chunk.
func (s *Source) chunkBytes() int {
	frame := s.target.Channels * s.target.SampleWidth
	frames := int(int64(s.target.SampleRate) * int64(s.chunkDuration) / int64(time.Second))
	if frames < 1 {
		frames = 1
	}
	return frames * frame
}

var _ audio.Source = (*Source)(nil)
