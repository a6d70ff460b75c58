package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

// Resample converts samples from fromRate to toRate using linear
// interpolation. Output length is round(len(samples) * toRate / fromRate).
// Positions past the final input sample take the final sample's value.
// When the rates match (or either is non-positive) the input is returned
// unchanged.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(math.Round(float64(len(samples)) / ratio))
	out := make([]float32, outLen)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// ToMono averages the given channels sample-by-sample. Channels shorter than
// the first one contribute silence for their missing tail. A single channel
// is returned as-is.
func ToMono(channels [][]float32) []float32 {
	switch len(channels) {
	case 0:
		return nil
	case 1:
		return channels[0]
	}

	n := len(channels[0])
	out := make([]float32, n)
	scale := 1 / float32(len(channels))
	for _, ch := range channels {
		for i := 0; i < n && i < len(ch); i++ {
			out[i] += ch[i]
		}
	}
	for i := range out {
		out[i] *= scale
	}
	return out
}

// Deinterleave splits interleaved samples into per-channel slices. A trailing
// partial frame is dropped.
func Deinterleave(samples []float32, channels int) [][]float32 {
	if channels <= 1 {
		return [][]float32{samples}
	}
	frames := len(samples) / channels
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
	}
	for i := range frames {
		for c := range channels {
			out[c][i] = samples[i*channels+c]
		}
	}
	return out
}

// Interleave duplicates a mono signal into channels interleaved channels.
func Interleave(mono []float32, channels int) []float32 {
	if channels <= 1 {
		return mono
	}
	out := make([]float32, len(mono)*channels)
	for i, s := range mono {
		for c := range channels {
			out[i*channels+c] = s
		}
	}
	return out
}

// PeakNormalize scales samples so the largest magnitude becomes 1. All-zero
// input is returned unchanged. The input slice is not modified.
func PeakNormalize(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s / peak
	}
	return out
}

// EncodePCM16 converts float samples to signed 16-bit little-endian PCM.
// Samples are clamped to [-1, 1]; negatives scale by 32768 and non-negatives
// by 32767 so both extremes map exactly onto the int16 range.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = min(max(s, -1), 1)
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 is the inverse of [EncodePCM16]. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out
}

// EncodePCM16Base64 encodes samples as base64 PCM16 for JSON transports.
func EncodePCM16Base64(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// ConvertClip re-renders c at the given sample rate and channel count.
// Multi-channel input is mixed down before resampling. A clip already in the
// target format is returned unchanged.
func ConvertClip(c Clip, sampleRate, channels int) Clip {
	srcCh := max(c.Channels, 1)
	if c.SampleRate == sampleRate && srcCh == channels {
		return c
	}
	mono := ToMono(Deinterleave(DecodePCM16(c.PCM), srcCh))
	mono = Resample(mono, c.SampleRate, sampleRate)
	return Clip{
		PCM:        EncodePCM16(Interleave(mono, channels)),
		SampleRate: sampleRate,
		Channels:   channels,
		Emotion:    c.Emotion,
	}
}
