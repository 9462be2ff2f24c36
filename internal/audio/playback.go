package audio

import (
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"

	"github.com/kamihq/kami/domain/repositories"
)

// Player decodes base64 assistant audio payloads and schedules playback.
// Each payload gets an independent playback on the sink, so overlapping
// responses queue naturally in arrival order without a shared player.
type Player struct {
	sink       repositories.PlaybackSink
	sampleRate int
	logger     *zap.Logger

	// onStart/onDone report speaking-state transitions back to the
	// coordinator. Both may be nil.
	onStart func()
	onDone  func()
}

// NewPlayer creates a playback decoder on top of the given sink.
func NewPlayer(sink repositories.PlaybackSink, sampleRate int, logger *zap.Logger) *Player {
	return &Player{
		sink:       sink,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// SetCallbacks wires the speaking-state observers. Must be called before
// the first Play.
func (p *Player) SetCallbacks(onStart, onDone func()) {
	p.onStart = onStart
	p.onDone = onDone
}

// Play decodes a base64 payload and schedules it on the sink. WAV payloads
// are unwrapped to raw PCM; anything else is assumed to already be PCM16
// mono at the session sample rate. Decode failures are returned to the
// caller for notice display and never crash the session.
func (p *Player) Play(encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode audio payload: %w", err)
	}

	pcm := raw
	if IsWAV(raw) {
		var rate int
		pcm, rate, err = DecodeWAV(raw)
		if err != nil {
			return fmt.Errorf("failed to decode audio payload: %w", err)
		}
		if rate != p.sampleRate {
			// No resampler on board. A mismatched rate would play at the
			// wrong pitch, so treat it as a decode failure.
			return fmt.Errorf("unsupported playback rate %d, want %d", rate, p.sampleRate)
		}
	}

	if len(pcm) == 0 {
		return fmt.Errorf("empty audio payload")
	}

	done, err := p.sink.Play(pcm)
	if err != nil {
		return fmt.Errorf("failed to schedule playback: %w", err)
	}

	if p.onStart != nil {
		p.onStart()
	}

	p.logger.Debug("Playback scheduled", zap.Int("bytes", len(pcm)))

	go func() {
		<-done
		if p.onDone != nil {
			p.onDone()
		}
	}()

	return nil
}
