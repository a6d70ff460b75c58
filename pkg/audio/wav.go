package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned by [DecodeWAV] for data that is not a readable
// PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid wav data")

// DecodeWAV decodes a PCM WAV file into a PCM16 [Clip], keeping the file's
// sample rate and channel count. 8, 16, 24 and 32-bit integer PCM are
// supported.
func DecodeWAV(data []byte) (Clip, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Clip{}, ErrInvalidWAV
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("audio: decode wav: %w", err)
	}

	depth := int(d.BitDepth)
	if depth < 8 || depth > 32 {
		return Clip{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, depth)
	}
	scale := float32(int64(1) << (depth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if depth == 8 {
			v -= 128 // 8-bit WAV is unsigned
		}
		samples[i] = float32(v) / scale
	}

	return Clip{
		PCM:        EncodePCM16(samples),
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
	}, nil
}
