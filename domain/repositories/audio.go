package repositories

import "context"

// AudioConfig describes the capture format requested from the device.
type AudioConfig struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	FrameSize  int `json:"frame_size"` // samples per delivered frame
}

// DefaultAudioConfig is the wire format the remote voice service expects:
// mono 24 kHz, 4096-sample frames.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate: 24000,
		Channels:   1,
		FrameSize:  4096,
	}
}

// CaptureDevice abstracts the microphone. Open may block on a permission
// prompt, which is why it takes a context.
type CaptureDevice interface {
	// Open acquires the device and starts delivering fixed-size frames of
	// float32 samples in [-1, 1] to the callback. Implementations allow
	// concurrent streams; each consumer gets its own.
	Open(ctx context.Context, config AudioConfig, onFrame func(samples []float32)) (CaptureStream, error)
}

// CaptureStream is an open microphone stream.
type CaptureStream interface {
	// Close unwires the frame callback and releases the device track, in
	// that order.
	Close() error
}

// PlaybackSink abstracts the output device. Each Play call schedules an
// independent playback of a raw PCM16 mono buffer and returns a channel
// closed when that playback finishes.
type PlaybackSink interface {
	Play(pcm []byte) (done <-chan struct{}, err error)
	Close() error
}
