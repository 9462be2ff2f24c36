// Package stt provides speech recognizers for the wake-word listener.
package stt

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/kamihq/kami/domain/repositories"
	"github.com/kamihq/kami/internal/pcm"
)

// GoogleRecognizer runs continuous streaming recognition against Google
// Cloud Speech, fed from its own capture stream. Only final results are
// forwarded; interim ones are requested off at the API level.
type GoogleRecognizer struct {
	device   repositories.CaptureDevice
	config   repositories.AudioConfig
	language string
	logger   *zap.Logger

	mu        sync.Mutex
	client    *speech.Client
	stream    speechpb.Speech_StreamingRecognizeClient
	capture   repositories.CaptureStream
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewGoogleRecognizerFactory returns a factory creating one recognizer per
// listening run. The factory reports ErrNotSupported when no Google Cloud
// credentials are present, which permanently disables the wake-word
// listener instead of failing every restart.
func NewGoogleRecognizerFactory(
	device repositories.CaptureDevice,
	config repositories.AudioConfig,
	language string,
	logger *zap.Logger,
) repositories.RecognizerFactory {
	return func() (repositories.SpeechRecognizer, error) {
		if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
			return nil, repositories.ErrNotSupported
		}
		return &GoogleRecognizer{
			device:   device,
			config:   config,
			language: language,
			logger:   logger,
		}, nil
	}
}

// Start opens the streaming recognize session and wires the microphone
// into it. The returned channel closes when the stream ends for any reason.
func (g *GoogleRecognizer) Start(ctx context.Context) (<-chan repositories.RecognitionResult, error) {
	ctx, cancel := context.WithCancel(ctx)

	client, err := speech.NewClient(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		cancel()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(g.config.SampleRate),
					LanguageCode:    g.language,
				},
				InterimResults: false, // We only want final results
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	capture, err := g.device.Open(ctx, g.config, func(samples []float32) {
		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: pcm.Encode(samples),
			},
		}); err != nil {
			g.logger.Debug("Failed to stream audio to recognizer", zap.Error(err))
		}
	})
	if err != nil {
		stream.CloseSend()
		client.Close()
		cancel()
		return nil, fmt.Errorf("failed to open capture for recognition: %w", err)
	}

	g.mu.Lock()
	g.client = client
	g.stream = stream
	g.capture = capture
	g.cancel = cancel
	g.mu.Unlock()

	results := make(chan repositories.RecognitionResult)
	go g.receiveResults(stream, results)

	return results, nil
}

// receiveResults pumps recognition responses until the stream ends.
func (g *GoogleRecognizer) receiveResults(
	stream speechpb.Speech_StreamingRecognizeClient,
	results chan<- repositories.RecognitionResult,
) {
	defer close(results)

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			g.logger.Debug("Recognition stream ended", zap.Error(err))
			return
		}

		for _, result := range resp.Results {
			if !result.IsFinal || len(result.Alternatives) == 0 {
				continue
			}
			results <- repositories.RecognitionResult{
				Text:  result.Alternatives[0].Transcript,
				Final: true,
			}
		}
	}
}

// Close unwires the microphone and tears the streaming session down.
func (g *GoogleRecognizer) Close() error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		if g.capture != nil {
			g.capture.Close()
		}
		if g.stream != nil {
			g.stream.CloseSend()
		}
		if g.cancel != nil {
			g.cancel()
		}
		if g.client != nil {
			g.client.Close()
		}
	})
	return nil
}
