// Package device provides the real microphone and speaker adapters built
// on miniaudio (via malgo) and oto.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/kamihq/kami/domain/repositories"
	"github.com/kamihq/kami/internal/pcm"
)

// MalgoCapture implements repositories.CaptureDevice on top of a shared
// miniaudio context. Streams open in shared mode, so the wake-word
// recognizer and the voice uplink can run concurrently.
type MalgoCapture struct {
	logger *zap.Logger

	mu   sync.Mutex
	ctx  *malgo.AllocatedContext
	open int
}

// NewMalgoCapture creates the capture device adapter. The miniaudio
// context is initialized lazily on first Open.
func NewMalgoCapture(logger *zap.Logger) *MalgoCapture {
	return &MalgoCapture{logger: logger}
}

// Open acquires the microphone and starts delivering fixed-size frames of
// float32 samples to onFrame. The callback runs on the audio thread.
func (m *MalgoCapture) Open(ctx context.Context, config repositories.AudioConfig, onFrame func(samples []float32)) (repositories.CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		contextConfig := malgo.ContextConfig{}
		contextConfig.ThreadPriority = malgo.ThreadPriorityRealtime
		allocated, err := malgo.InitContext(nil, contextConfig, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to init audio context: %w", err)
		}
		m.ctx = allocated
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(config.Channels)
	deviceConfig.SampleRate = uint32(config.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(config.FrameSize)

	stream := &malgoStream{
		owner:     m,
		frameSize: config.FrameSize,
		onFrame:   onFrame,
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			stream.deliver(input)
		},
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to init microphone: %w", err)
	}
	stream.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start microphone: %w", err)
	}

	m.open++
	m.logger.Info("Microphone capture started",
		zap.Int("sample_rate", config.SampleRate),
		zap.Int("frame_size", config.FrameSize))

	return stream, nil
}

// Close releases the shared miniaudio context. Any open stream must be
// closed first.
func (m *MalgoCapture) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open > 0 {
		return fmt.Errorf("%d capture streams still open", m.open)
	}
	if m.ctx != nil {
		if err := m.ctx.Uninit(); err != nil {
			return err
		}
		m.ctx.Free()
		m.ctx = nil
	}
	return nil
}

// malgoStream is one open microphone stream. The device may deliver
// periods that differ from the requested frame size, so samples are
// re-chunked before hitting the callback.
type malgoStream struct {
	owner     *MalgoCapture
	device    *malgo.Device
	frameSize int
	onFrame   func([]float32)

	mu      sync.Mutex
	pending []float32
	closed  bool
}

func (s *malgoStream) deliver(input []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, pcm.FloatsFromLE(input)...)

	var frames [][]float32
	for len(s.pending) >= s.frameSize {
		frame := make([]float32, s.frameSize)
		copy(frame, s.pending[:s.frameSize])
		s.pending = s.pending[s.frameSize:]
		frames = append(frames, frame)
	}
	onFrame := s.onFrame
	s.mu.Unlock()

	for _, frame := range frames {
		onFrame(frame)
	}
}

// Close unwires the callback, then stops and releases the device.
func (s *malgoStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	s.device.Stop()
	s.device.Uninit()

	s.owner.mu.Lock()
	s.owner.open--
	s.owner.mu.Unlock()

	s.owner.logger.Info("Microphone capture stopped")
	return nil
}
