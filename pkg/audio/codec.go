// Package audio provides stateless PCM conversions between the voice
// gateway's wire format (48 kHz 16-bit interleaved stereo) and the formats
// the speech backends expect (typically 24 kHz 16-bit mono).
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Format describes raw 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// Common formats on either side of the codec.
var (
	GatewayFormat = Format{SampleRate: 48000, Channels: 2}
	BackendFormat = Format{SampleRate: 24000, Channels: 1}
)

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Convert resamples and channel-converts src PCM between two formats.
// Channel conversion happens at the source rate, then the mono/stereo
// stream is resampled. Passing identical formats returns a copy.
func Convert(src []byte, from, to Format) []byte {
	samples := BytesToInt16(src)
	if from.Channels == 2 && to.Channels == 1 {
		samples = StereoToMono(samples)
	} else if from.Channels == 1 && to.Channels == 2 {
		samples = MonoToStereo(samples)
	}
	if from.SampleRate != to.SampleRate {
		samples = Resample(samples, to.Channels, from.SampleRate, to.SampleRate)
	}
	return Int16ToBytes(samples)
}

// BytesToInt16 reinterprets little-endian PCM bytes as samples.
// A trailing odd byte is dropped.
func BytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Int16ToBytes serializes samples as little-endian PCM bytes.
func Int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// StereoToMono averages interleaved stereo samples down to one channel.
func StereoToMono(s []int16) []int16 {
	out := make([]int16, len(s)/2)
	for i := range out {
		out[i] = int16((int32(s[i*2]) + int32(s[i*2+1])) / 2)
	}
	return out
}

// MonoToStereo duplicates each sample into both channels.
func MonoToStereo(s []int16) []int16 {
	out := make([]int16, len(s)*2)
	for i, v := range s {
		out[i*2] = v
		out[i*2+1] = v
	}
	return out
}

// Resample converts interleaved PCM between sample rates using linear
// interpolation. Good enough for speech; backends run their own filtering.
func Resample(s []int16, channels, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(s) == 0 {
		out := make([]int16, len(s))
		copy(out, s)
		return out
	}
	frames := len(s) / channels
	outFrames := int(int64(frames) * int64(toRate) / int64(fromRate))
	out := make([]int16, outFrames*channels)
	ratio := float64(fromRate) / float64(toRate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		for c := 0; c < channels; c++ {
			a := s[idx*channels+c]
			b := a
			if idx+1 < frames {
				b = s[(idx+1)*channels+c]
			}
			v := float64(a) + (float64(b)-float64(a))*frac
			out[i*channels+c] = int16(math.Round(v))
		}
	}
	return out
}

// RMS returns the root-mean-square level of the samples, normalized to 0..1.
func RMS(s []int16) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		f := float64(v) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(s)))
}
