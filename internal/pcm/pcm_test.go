package pcm

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodeEdgeValues(t *testing.T) {
	tests := []struct {
		name   string
		sample float32
		want   int16
	}{
		{"zero", 0.0, 0},
		{"full scale positive", 1.0, 32767},
		{"full scale negative", -1.0, -32768},
		{"clamped above", 1.5, 32767},
		{"clamped below", -2.0, -32768},
		{"half positive", 0.5, 16383},
		{"half negative", -0.5, -16384},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Encode([]float32{tt.sample})
			got := int16(binary.LittleEndian.Uint16(out))
			if got != tt.want {
				t.Errorf("Encode(%v) = %d, want %d", tt.sample, got, tt.want)
			}
		})
	}
}

func TestEncodeLength(t *testing.T) {
	for _, n := range []int{0, 1, 7, 4096} {
		samples := make([]float32, n)
		if got := len(Encode(samples)); got != 2*n {
			t.Errorf("Encode of %d samples produced %d bytes, want %d", n, got, 2*n)
		}
	}
}

func TestEncodeLittleEndian(t *testing.T) {
	out := Encode([]float32{1.0})
	if out[0] != 0xFF || out[1] != 0x7F {
		t.Errorf("Expected little-endian 32767 (FF 7F), got %02X %02X", out[0], out[1])
	}
}

func TestRoundTripWithinQuantizationError(t *testing.T) {
	samples := make([]float32, 0, 2001)
	for s := float32(-1.0); s <= 1.0; s += 0.001 {
		samples = append(samples, s)
	}

	decoded := Decode(Encode(samples))
	if len(decoded) != len(samples) {
		t.Fatalf("Decoded %d samples, want %d", len(decoded), len(samples))
	}

	for i, s := range samples {
		if diff := math.Abs(float64(decoded[i] - s)); diff > 1.0/32768 {
			t.Fatalf("Sample %v round-tripped to %v, error %v exceeds 1/32768", s, decoded[i], diff)
		}
	}
}

func TestFloatsFromLE(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(-1.0))

	got := FloatsFromLE(buf)
	if len(got) != 2 || got[0] != 0.25 || got[1] != -1.0 {
		t.Errorf("FloatsFromLE = %v, want [0.25 -1]", got)
	}

	// Trailing partial sample is dropped.
	if got := FloatsFromLE(buf[:7]); len(got) != 1 {
		t.Errorf("Expected 1 sample from 7 bytes, got %d", len(got))
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS of empty buffer = %v, want 0", got)
	}

	silence := Encode(make([]float32, 256))
	if got := RMS(silence); got != 0 {
		t.Errorf("RMS of silence = %v, want 0", got)
	}

	loud := Encode([]float32{1, -1, 1, -1})
	if got := RMS(loud); got < 0.9 {
		t.Errorf("RMS of full-scale square = %v, want near 1", got)
	}
}
