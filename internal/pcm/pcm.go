// Package pcm converts between float32 audio samples and the 16-bit
// little-endian wire format the voice channel streams.
package pcm

import (
	"encoding/binary"
	"math"
)

// Encode converts float32 samples in [-1, 1] to PCM16 little-endian bytes.
// Samples are clamped, then scaled asymmetrically: negative samples by 32768
// and non-negative samples by 32767. This is the standard full-scale PCM16
// mapping; a symmetric scale would introduce a DC/amplitude bias.
func Encode(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}

		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// Decode converts PCM16 little-endian bytes back to float32 samples using
// the inverse of the Encode scale. A trailing odd byte is ignored.
func Decode(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[2*i:]))
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out
}

// FloatsFromLE reinterprets a little-endian float32 byte buffer as samples.
// Capture devices configured for 32-bit float delivery hand frames over in
// this layout. A trailing partial sample is ignored.
func FloatsFromLE(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out
}

// RMS returns the root mean square level of a PCM16 buffer, normalized to
// [0, 1]. Used for speech-burst detection on raw inbound frames.
func RMS(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(data[2*i:]))) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
