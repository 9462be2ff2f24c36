package llm

import (
	"context"
	"testing"
)

func TestEchoGeneratorReply(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected string
	}{
		{"greeting", "hello", "Hello! How can I help you today?"},
		{"greeting case insensitive", "HELLO", "Hello! How can I help you today?"},
		{"ping", "ping", "pong"},
		{"echo", "turn on the lights", "You said: turn on the lights"},
		{"blank", "   ", "I didn't catch that. Could you say it again?"},
	}

	generator := NewEchoGenerator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := generator.Reply(context.Background(), tt.message, nil)
			if err != nil {
				t.Fatalf("Reply failed: %v", err)
			}
			if reply != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, reply)
			}
		})
	}
}
