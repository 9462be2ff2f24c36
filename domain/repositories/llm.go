package repositories

import "context"

// ReplyGenerator abstracts the conversational brain behind the development
// server's chat endpoint. The production client never calls this directly;
// reasoning is delegated to the hosted service.
type ReplyGenerator interface {
	// Reply takes the user message plus prior turns and returns the
	// assistant reply.
	Reply(ctx context.Context, message string, history []ChatMessage) (string, error)
}

// ChatMessage is a single turn handed to the reply generator.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender.
type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
)
