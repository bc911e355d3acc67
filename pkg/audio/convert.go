package audio

import (
	"fmt"
	"log/slog"
)

// Format describes raw interleaved little-endian PCM.
type Format struct {
	SampleRate  int
	Channels    int
	SampleWidth int
}

// String returns a human-readable description, e.g. "16000Hz mono 16-bit".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s %d-bit", f.SampleRate, ch, f.SampleWidth*8)
}

// Specs returns the negotiation specs for f in the given container format.
func (f Format) Specs(audioFormat string) Specs {
	return Specs{
		AudioFormat: audioFormat,
		Channels:    f.Channels,
		FrameRate:   f.SampleRate,
		SampleWidth: f.SampleWidth,
	}
}

// FormatConverter converts PCM buffers to a fixed 16-bit target format.
// Only 8-bit unsigned and 16-bit signed input is accepted.
type FormatConverter struct {
	Target Format

	// Logger receives a debug line per conversion. Nil means slog.Default().
	Logger *slog.Logger
}

// Convert converts pcm from src to c.Target. The input is returned unchanged
// when it already matches. Conversion order: widen, downmix, resample, upmix.
func (c *FormatConverter) Convert(pcm []byte, src Format) ([]byte, error) {
	if c.Target.SampleWidth != 2 {
		return nil, fmt.Errorf("audio: unsupported target sample width %d", c.Target.SampleWidth)
	}
	if src.Channels <= 0 || src.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid source format %s", src)
	}
	if src == c.Target {
		return pcm, nil
	}

	log := c.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Debug("audio: converting", "from", src.String(), "to", c.Target.String())

	switch src.SampleWidth {
	case 1:
		pcm = Widen8To16(pcm)
	case 2:
		if len(pcm)%2 != 0 {
			return nil, fmt.Errorf("audio: odd byte count %d in 16-bit PCM", len(pcm))
		}
	default:
		return nil, fmt.Errorf("audio: unsupported source sample width %d", src.SampleWidth)
	}

	channels := src.Channels
	if channels > 1 && c.Target.Channels == 1 {
		pcm = DownmixToMono(pcm, channels)
		channels = 1
	}

	if src.SampleRate != c.Target.SampleRate {
		switch channels {
		case 1:
			pcm = ResampleMono16(pcm, src.SampleRate, c.Target.SampleRate)
		case 2:
			pcm = ResampleStereo16(pcm, src.SampleRate, c.Target.SampleRate)
		default:
			return nil, fmt.Errorf("audio: cannot resample %d channels", channels)
		}
	}

	switch {
	case channels == c.Target.Channels:
	case channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
	default:
		return nil, fmt.Errorf("audio: cannot map %d channels to %d", channels, c.Target.Channels)
	}
	return pcm, nil
}

// Widen8To16 converts unsigned 8-bit PCM to signed little-endian 16-bit PCM.
func Widen8To16(pcm []byte) []byte {
	out := make([]byte, len(pcm)*2)
	for i, b := range pcm {
		s := int16(int(b)-128) << 8
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// A trailing odd byte is dropped.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame.
func StereoToMono(pcm []byte) []byte {
	return DownmixToMono(pcm, 2)
}

// DownmixToMono averages all channels of each int16 frame. Sums are taken in
// int32 so the average cannot overflow.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameSize := channels * 2
	frames := len(pcm) / frameSize
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			idx := i*frameSize + ch*2
			sum += int32(int16(pcm[idx]) | int16(pcm[idx+1])<<8)
		}
		avg := clamp16(sum / int32(channels))
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. Invalid or equal rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 resamples interleaved 16-bit stereo PCM from srcRate to
// dstRate using linear interpolation.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, 2, srcRate, dstRate)
}

func resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	frameSize := channels * 2
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frameSize {
		return pcm
	}
	srcFrames := len(pcm) / frameSize
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	sample := func(frame, ch int) int16 {
		idx := frame*frameSize + ch*2
		return int16(pcm[idx]) | int16(pcm[idx+1])<<8
	}

	out := make([]byte, dstFrames*frameSize)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for ch := range channels {
			s0, s1 := sample(srcIdx, ch), sample(next, ch)
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			o := i*frameSize + ch*2
			out[o] = byte(v)
			out[o+1] = byte(v >> 8)
		}
	}
	return out
}
