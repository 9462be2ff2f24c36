package device

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/kamihq/kami/domain/repositories"
)

// otoBufferBytes is ~100ms of 24 kHz mono PCM16, trading latency against
// underruns the same way the voice service tunes its output path.
const otoBufferBytes = 4800

// OtoSink implements repositories.PlaybackSink on an oto context. Each
// Play schedules an independent player so overlapping responses mix
// instead of queueing.
type OtoSink struct {
	logger     *zap.Logger
	sampleRate int

	mu  sync.Mutex
	ctx *oto.Context
}

// NewOtoSink creates the speaker adapter. The oto context is initialized
// lazily on first Play because it claims the output device.
func NewOtoSink(sampleRate int, logger *zap.Logger) *OtoSink {
	return &OtoSink{logger: logger, sampleRate: sampleRate}
}

func (o *OtoSink) context() (*oto.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx != nil {
		return o.ctx, nil
	}

	options := &oto.NewContextOptions{
		SampleRate:   o.sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   otoBufferBytes,
	}
	ctx, ready, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("failed to init speaker: %w", err)
	}
	<-ready

	o.ctx = ctx
	return ctx, nil
}

// Play schedules the raw PCM16 mono buffer and returns a channel closed
// when playback finishes.
func (o *OtoSink) Play(pcm []byte) (<-chan struct{}, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("empty pcm buffer")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm buffer has odd length %d", len(pcm))
	}

	ctx, err := o.context()
	if err != nil {
		return nil, err
	}

	player := ctx.NewPlayer(bytes.NewReader(pcm))
	player.Play()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for player.IsPlaying() {
			time.Sleep(10 * time.Millisecond)
		}
		if err := player.Close(); err != nil && err != io.EOF {
			o.logger.Warn("Failed to close player", zap.Error(err))
		}
	}()

	return done, nil
}

// Close releases the sink. The oto context itself cannot be torn down, so
// this only drops the reference.
func (o *OtoSink) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ctx = nil
	return nil
}

var _ repositories.PlaybackSink = (*OtoSink)(nil)
var _ repositories.CaptureDevice = (*MalgoCapture)(nil)
