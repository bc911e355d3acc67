package wavfile

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/itslanguage/itslanguage-go/pkg/audio"
)

// header describes the PCM payload of a RIFF/WAVE file.
type header struct {
	format     audio.Format
	dataOffset int
	dataSize   int
}

// parseWAV walks the RIFF chunks of wav and returns the format from the
// "fmt " sub-chunk and the location of the "data" sub-chunk. Only
// uncompressed PCM (format tag 1) is accepted.
func parseWAV(wav []byte) (header, error) {
	if len(wav) < 12 {
		return header{}, errors.New("wavfile: too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return header{}, errors.New("wavfile: missing RIFF/WAVE identifiers")
	}

	var h header
	foundFmt := false
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch id {
		case "fmt ":
			if size < 16 || offset+8+16 > len(wav) {
				return header{}, errors.New("wavfile: truncated fmt chunk")
			}
			f := wav[offset+8:]
			if tag := binary.LittleEndian.Uint16(f[0:2]); tag != 1 {
				return header{}, fmt.Errorf("wavfile: unsupported format tag %d, want PCM", tag)
			}
			h.format = audio.Format{
				Channels:    int(binary.LittleEndian.Uint16(f[2:4])),
				SampleRate:  int(binary.LittleEndian.Uint32(f[4:8])),
				SampleWidth: int(binary.LittleEndian.Uint16(f[14:16])) / 8,
			}
			foundFmt = true
		case "data":
			if !foundFmt {
				return header{}, errors.New("wavfile: data chunk precedes fmt chunk")
			}
			h.dataOffset = offset + 8
			h.dataSize = min(size, len(wav)-h.dataOffset)
			return h, nil
		}

		// Chunks are word aligned.
		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}
	return header{}, errors.New("wavfile: missing data chunk")
}

// encodeHeader returns the canonical 44-byte header for dataSize bytes of PCM
// in format f.
func encodeHeader(f audio.Format, dataSize int) []byte {
	le := binary.LittleEndian
	buf := make([]byte, 44)
	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], 1)
	le.PutUint16(buf[22:24], uint16(f.Channels))
	le.PutUint32(buf[24:28], uint32(f.SampleRate))
	le.PutUint32(buf[28:32], uint32(f.SampleRate*f.Channels*f.SampleWidth))
	le.PutUint16(buf[32:34], uint16(f.Channels*f.SampleWidth))
	le.PutUint16(buf[34:36], uint16(f.SampleWidth*8))
	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}
