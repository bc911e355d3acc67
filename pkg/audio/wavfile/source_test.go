package wavfile

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/itslanguage/itslanguage-go/pkg/audio"
)

// buildWAV returns a PCM WAV file with an extra LIST chunk before "data".
func buildWAV(f audio.Format, pcm []byte) []byte {
	le := binary.LittleEndian
	var buf []byte
	buf = append(buf, "RIFF"...)
	buf = le.AppendUint32(buf, 0)
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	buf = le.AppendUint32(buf, 16)
	buf = le.AppendUint16(buf, 1)
	buf = le.AppendUint16(buf, uint16(f.Channels))
	buf = le.AppendUint32(buf, uint32(f.SampleRate))
	buf = le.AppendUint32(buf, uint32(f.SampleRate*f.Channels*f.SampleWidth))
	buf = le.AppendUint16(buf, uint16(f.Channels*f.SampleWidth))
	buf = le.AppendUint16(buf, uint16(f.SampleWidth*8))

	buf = append(buf, "LIST"...)
	buf = le.AppendUint32(buf, 3)
	buf = append(buf, 'a', 'b', 'c', 0) // padded to even length

	buf = append(buf, "data"...)
	buf = le.AppendUint32(buf, uint32(len(pcm)))
	buf = append(buf, pcm...)
	le.PutUint32(buf[4:8], uint32(len(buf)-8))
	return buf
}

type recorder struct {
	mu       sync.Mutex
	chunks   [][]byte
	recorded []audio.Recorded
}

func (r *recorder) subscribe(s *Source) {
	s.OnDataAvailable(func(b []byte) {
		r.mu.Lock()
		r.chunks = append(r.chunks, append([]byte(nil), b...))
		r.mu.Unlock()
	})
	s.OnRecorded(func(rec audio.Recorded) {
		r.mu.Lock()
		r.recorded = append(r.recorded, rec)
		r.mu.Unlock()
	})
}

func waitDone(t *testing.T, s *Source) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recording to finish")
	}
}

func TestParseWAV(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 8000, Channels: 2, SampleWidth: 2}
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	h, err := parseWAV(buildWAV(f, pcm))
	if err != nil {
		t.Fatalf("parseWAV: %v", err)
	}
	if h.format != f {
		t.Errorf("format = %v, want %v", h.format, f)
	}
	if h.dataSize != len(pcm) {
		t.Errorf("dataSize = %d, want %d", h.dataSize, len(pcm))
	}
}

func TestParseWAV_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"not wave", append([]byte("RIFF\x00\x00\x00\x00AVI "), make([]byte, 8)...)},
		{"no data chunk", []byte("RIFF\x04\x00\x00\x00WAVE")},
		{"data before fmt", []byte("RIFF\x0c\x00\x00\x00WAVEdata\x00\x00\x00\x00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseWAV(tt.data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestEncodeHeader_RoundTrip(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}
	wav := append(encodeHeader(f, 4), 1, 2, 3, 4)
	h, err := parseWAV(wav)
	if err != nil {
		t.Fatalf("parseWAV: %v", err)
	}
	if h.format != f || h.dataOffset != 44 || h.dataSize != 4 {
		t.Errorf("header = %+v", h)
	}
}

func TestSource_EmitsHeaderThenChunks(t *testing.T) {
	t.Parallel()

	// 100ms of 16k mono audio split into 40ms chunks: 1280 + 1280 + 640 bytes.
	pcm := make([]byte, 3200)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	s, err := New(buildWAV(DefaultTarget, pcm), WithChunkDuration(40*time.Millisecond), WithID("take-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !s.HasUserMediaApproval() {
		t.Error("file source should always be approved")
	}
	if got := s.Duration(); got != 100*time.Millisecond {
		t.Errorf("Duration() = %v, want 100ms", got)
	}

	var r recorder
	r.subscribe(s)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chunks) != 4 {
		t.Fatalf("got %d chunks, want 4 (header + 3)", len(r.chunks))
	}
	if string(r.chunks[0][:4]) != "RIFF" || len(r.chunks[0]) != 44 {
		t.Errorf("first chunk should be a 44-byte WAV header")
	}
	for i, want := range []int{1280, 1280, 640} {
		if len(r.chunks[i+1]) != want {
			t.Errorf("chunk %d: %d bytes, want %d", i+1, len(r.chunks[i+1]), want)
		}
	}
	if r.chunks[2][0] != pcm[1280] {
		t.Error("chunks out of order")
	}

	if len(r.recorded) != 1 {
		t.Fatalf("got %d recorded events, want 1", len(r.recorded))
	}
	rec := r.recorded[0]
	if rec.ID != "take-1" || rec.ForcedStop {
		t.Errorf("recorded = {%q, forced=%v}", rec.ID, rec.ForcedStop)
	}
	if len(rec.Data) != 44+len(pcm) {
		t.Errorf("recorded data = %d bytes, want %d", len(rec.Data), 44+len(pcm))
	}
	if s.IsRecording() {
		t.Error("IsRecording() = true after completion")
	}
}

func TestSource_ConvertsToTarget(t *testing.T) {
	t.Parallel()

	// 4 stereo frames at 32kHz become 2 mono frames at 16kHz.
	src := audio.Format{SampleRate: 32000, Channels: 2, SampleWidth: 2}
	pcm := make([]byte, 16)
	s, err := New(buildWAV(src, pcm))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(s.pcm) != 4 {
		t.Errorf("converted PCM = %d bytes, want 4", len(s.pcm))
	}
	specs := s.Specs()
	if specs.AudioFormat != audio.FormatWave || specs.FrameRate != 16000 || specs.Channels != 1 {
		t.Errorf("Specs() = %+v", specs)
	}
}

func TestSource_StopForcesRecorded(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 32000) // one second
	s, err := New(buildWAV(DefaultTarget, pcm), WithRealtime(true), WithChunkDuration(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var r recorder
	r.subscribe(s)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != ErrAlreadyRecording {
		t.Errorf("second Start = %v, want ErrAlreadyRecording", err)
	}
	if !s.IsRecording() {
		t.Error("IsRecording() = false while streaming")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitDone(t, s)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.recorded) != 1 || !r.recorded[0].ForcedStop {
		t.Fatalf("recorded = %+v, want one forced stop", r.recorded)
	}
	if len(r.recorded[0].Data) >= 44+len(pcm) {
		t.Error("forced stop should publish a truncated recording")
	}
}

func TestSource_ContextCancel(t *testing.T) {
	t.Parallel()

	s, err := New(buildWAV(DefaultTarget, make([]byte, 32000)), WithRealtime(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var r recorder
	r.subscribe(s)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	waitDone(t, s)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.recorded) != 1 || !r.recorded[0].ForcedStop {
		t.Errorf("recorded = %+v, want one forced stop", r.recorded)
	}
}

func TestSource_StopWhenIdle(t *testing.T) {
	t.Parallel()

	s, err := New(buildWAV(DefaultTarget, make([]byte, 4)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop on idle source = %v, want nil", err)
	}
	if s.Done() != nil {
		t.Error("Done() before Start should be nil")
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hello.wav")
	if err := os.WriteFile(path, buildWAV(DefaultTarget, make([]byte, 8)), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.id != "hello.wav" {
		t.Errorf("id = %q, want hello.wav", s.id)
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Open(missing) should fail")
	}
}
