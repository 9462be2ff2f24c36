package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the assistant display status shown to the user.
type Status string

const (
	StatusReady        Status = "ready"
	StatusListening    Status = "listening"
	StatusSpeaking     Status = "speaking"
	StatusError        Status = "error"
	StatusDisconnected Status = "disconnected"
)

// ConnState represents the control channel connection state.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
)

// Role defines the sender of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single turn in the visible transcript.
// Messages are immutable once created and are only ever appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a transcript message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Validate validates the message fields.
func (m Message) Validate() error {
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return errors.New("invalid message role")
	}
	if m.Content == "" {
		return errors.New("content is required")
	}
	return nil
}

// NoticeTTL is how long a transient notice stays visible.
const NoticeTTL = 5 * time.Second

// Notice is an auto-expiring user-visible error or status banner.
// It is not part of the durable transcript.
type Notice struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// NewNotice creates a notice with the fixed display TTL.
func NewNotice(text string) Notice {
	return Notice{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: time.Now(),
		TTL:       NoticeTTL,
	}
}

// ExpiresAt returns the instant at which the notice should be removed.
func (n Notice) ExpiresAt() time.Time {
	return n.CreatedAt.Add(n.TTL)
}

// Indicators groups the boolean flags the UI renders as icons.
type Indicators struct {
	MicMuted      bool
	WakeArmed     bool
	WakeTriggered bool
}
