package repositories

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by a recognizer factory when the platform has
// no usable speech-trigger facility. The wake-word listener disables itself
// permanently on this error instead of failing.
var ErrNotSupported = errors.New("speech recognition not supported")

// RecognitionResult is a single recognized utterance. Interim partial
// results carry Final=false and are ignored by the wake-word listener.
type RecognitionResult struct {
	Text  string
	Final bool
}

// SpeechRecognizer abstracts a continuous local speech-trigger facility.
type SpeechRecognizer interface {
	// Start begins continuous recognition and returns a stream of results.
	// The channel is closed when recognition stops, whether by Close or by
	// the underlying facility ending the stream on its own.
	Start(ctx context.Context) (<-chan RecognitionResult, error)

	// Close stops recognition and releases the facility.
	Close() error
}

// RecognizerFactory creates a fresh recognizer per listening run. Returning
// ErrNotSupported signals a missing facility rather than a transient failure.
type RecognizerFactory func() (SpeechRecognizer, error)
