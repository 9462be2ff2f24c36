package stt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kamihq/kami/domain/repositories"
)

// MockRecognizer is a scripted recognizer for development and tests. The
// caller feeds utterances through Emit; Start just exposes them.
type MockRecognizer struct {
	logger *zap.Logger

	mu      sync.Mutex
	results chan repositories.RecognitionResult
	closed  bool
}

// NewMockRecognizer creates a recognizer with an open script channel.
func NewMockRecognizer(logger *zap.Logger) *MockRecognizer {
	return &MockRecognizer{
		logger:  logger,
		results: make(chan repositories.RecognitionResult, 16),
	}
}

// NewMockRecognizerFactory returns a factory handing out the recognizers it
// creates through onCreate, so a test can script them.
func NewMockRecognizerFactory(logger *zap.Logger, onCreate func(*MockRecognizer)) repositories.RecognizerFactory {
	return func() (repositories.SpeechRecognizer, error) {
		recognizer := NewMockRecognizer(logger)
		if onCreate != nil {
			onCreate(recognizer)
		}
		return recognizer, nil
	}
}

// Start implements repositories.SpeechRecognizer.
func (m *MockRecognizer) Start(ctx context.Context) (<-chan repositories.RecognitionResult, error) {
	m.logger.Debug("Mock recognizer started")
	return m.results, nil
}

// Emit scripts one recognition result. Safe after Close (dropped).
func (m *MockRecognizer) Emit(text string, final bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.results <- repositories.RecognitionResult{Text: text, Final: final}
}

// EndStream simulates the underlying facility stopping on its own.
func (m *MockRecognizer) EndStream() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.results)
}

// Close implements repositories.SpeechRecognizer.
func (m *MockRecognizer) Close() error {
	m.EndStream()
	return nil
}
