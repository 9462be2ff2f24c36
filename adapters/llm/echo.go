package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/kamihq/kami/domain/repositories"
)

// EchoGenerator is the offline fallback brain used when no Gemini API key
// is configured. It produces deterministic canned replies so the client
// can be exercised end to end without credentials.
type EchoGenerator struct{}

// NewEchoGenerator creates a fallback generator.
func NewEchoGenerator() *EchoGenerator {
	return &EchoGenerator{}
}

// Reply implements repositories.ReplyGenerator.
func (e *EchoGenerator) Reply(ctx context.Context, message string, history []repositories.ChatMessage) (string, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "I didn't catch that. Could you say it again?", nil
	}

	switch strings.ToLower(trimmed) {
	case "hello", "hi", "hey":
		return "Hello! How can I help you today?", nil
	case "ping":
		return "pong", nil
	}

	return fmt.Sprintf("You said: %s", trimmed), nil
}
