package audio

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeDecodeWAVRoundTrip(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80, 0x01, 0x00}

	wav, err := EncodeWAV(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(wav) != 44+len(pcm) {
		t.Errorf("Expected %d bytes, got %d", 44+len(pcm), len(wav))
	}

	if !IsWAV(wav) {
		t.Error("Encoded buffer should carry a RIFF/WAVE signature")
	}

	decoded, rate, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if rate != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", rate)
	}

	if !bytes.Equal(decoded, pcm) {
		t.Errorf("Round-trip mismatch: got %v, want %v", decoded, pcm)
	}
}

func TestEncodeWAVValidation(t *testing.T) {
	if _, err := EncodeWAV(nil, 24000); err == nil {
		t.Error("Expected error for empty data")
	}

	if _, err := EncodeWAV([]byte{1, 2}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"not riff", bytes.Repeat([]byte{0xAB}, 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}

func TestIsWAV(t *testing.T) {
	if IsWAV([]byte("RIFF")) {
		t.Error("Truncated header should not match")
	}

	if IsWAV(bytes.Repeat([]byte{0}, 64)) {
		t.Error("Zero buffer should not match")
	}
}

func TestTone(t *testing.T) {
	buf := Tone(440, 100*time.Millisecond, 24000)

	wantSamples := 2400
	if len(buf) != 2*wantSamples {
		t.Errorf("Expected %d bytes, got %d", 2*wantSamples, len(buf))
	}

	// First and last samples sit inside the fade envelope.
	if buf[0] != 0 || buf[1] != 0 {
		t.Error("Tone should start at zero amplitude")
	}
}
