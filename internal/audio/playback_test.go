package audio

import (
	"encoding/base64"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeSink records playbacks and lets the test complete them.
type fakeSink struct {
	played [][]byte
	dones  []chan struct{}
	err    error
}

func (f *fakeSink) Play(pcm []byte) (<-chan struct{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.played = append(f.played, pcm)
	done := make(chan struct{})
	f.dones = append(f.dones, done)
	return done, nil
}

func (f *fakeSink) Close() error { return nil }

func TestPlayRawPCM(t *testing.T) {
	sink := &fakeSink{}
	player := NewPlayer(sink, 24000, zap.NewNop())

	started := make(chan struct{}, 1)
	doneCh := make(chan struct{}, 1)
	player.SetCallbacks(
		func() { started <- struct{}{} },
		func() { doneCh <- struct{}{} },
	)

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := player.Play(base64.StdEncoding.EncodeToString(pcm)); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	select {
	case <-started:
	default:
		t.Fatal("Expected start callback")
	}

	if len(sink.played) != 1 {
		t.Fatalf("Expected 1 playback, got %d", len(sink.played))
	}

	close(sink.dones[0])
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("Expected done callback after playback finished")
	}
}

func TestPlayWAVPayload(t *testing.T) {
	sink := &fakeSink{}
	player := NewPlayer(sink, 24000, zap.NewNop())

	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	wav, err := EncodeWAV(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if err := player.Play(base64.StdEncoding.EncodeToString(wav)); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	if len(sink.played) != 1 || len(sink.played[0]) != len(pcm) {
		t.Errorf("Expected unwrapped PCM of %d bytes, got %v", len(pcm), sink.played)
	}
}

func TestPlayFailures(t *testing.T) {
	sink := &fakeSink{}
	player := NewPlayer(sink, 24000, zap.NewNop())

	if err := player.Play("not-base64!!"); err == nil {
		t.Error("Expected error for invalid base64")
	}

	if err := player.Play(""); err == nil {
		t.Error("Expected error for empty payload")
	}

	// WAV at the wrong rate is a decode failure, not a wrong-pitch playback.
	wav, _ := EncodeWAV([]byte{1, 2, 3, 4}, 16000)
	if err := player.Play(base64.StdEncoding.EncodeToString(wav)); err == nil {
		t.Error("Expected error for mismatched sample rate")
	}

	if len(sink.played) != 0 {
		t.Errorf("No playback should have been scheduled, got %d", len(sink.played))
	}
}

func TestOverlappingPlaybacksAreIndependent(t *testing.T) {
	sink := &fakeSink{}
	player := NewPlayer(sink, 24000, zap.NewNop())

	a := base64.StdEncoding.EncodeToString([]byte{1, 1})
	b := base64.StdEncoding.EncodeToString([]byte{2, 2})

	if err := player.Play(a); err != nil {
		t.Fatalf("Play a failed: %v", err)
	}
	if err := player.Play(b); err != nil {
		t.Fatalf("Play b failed: %v", err)
	}

	if len(sink.dones) != 2 {
		t.Fatalf("Expected 2 independent playbacks, got %d", len(sink.dones))
	}
}
