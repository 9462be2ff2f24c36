package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeType defines the discriminator tag of a channel message.
type EnvelopeType string

// Control channel push envelopes.
const (
	EnvelopeTextResponse EnvelopeType = "text_response"
	EnvelopeVoiceStatus  EnvelopeType = "voice_status"
	EnvelopeError        EnvelopeType = "error"
)

// Voice channel envelopes.
const (
	EnvelopeStartConversation  EnvelopeType = "start_conversation"
	EnvelopeStopConversation   EnvelopeType = "stop_conversation"
	EnvelopeVoiceLiveStarted   EnvelopeType = "voice_live_started"
	EnvelopeVoiceLiveConnected EnvelopeType = "voice_live_connected"
	EnvelopeAudioResponse      EnvelopeType = "audio_response"
	EnvelopeTranscript         EnvelopeType = "transcript"
	EnvelopeResponseText       EnvelopeType = "response_text"
	EnvelopeConversationEnded  EnvelopeType = "conversation_ended"
)

// Envelope is the tagged message structure carried on both channels. The
// wire format is flat JSON; which fields are populated depends on Type.
type Envelope struct {
	Type      EnvelopeType `json:"type"`
	Message   string       `json:"message,omitempty"`
	Status    string       `json:"status,omitempty"`
	Text      string       `json:"text,omitempty"`
	AudioData string       `json:"audio_data,omitempty"` // base64 encoded
	MessageID string       `json:"message_id,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
}

// knownTypes is the forward-compatibility allowlist. Envelopes outside it
// are logged and ignored, never treated as failures.
var knownTypes = map[EnvelopeType]bool{
	EnvelopeTextResponse:       true,
	EnvelopeVoiceStatus:        true,
	EnvelopeError:              true,
	EnvelopeStartConversation:  true,
	EnvelopeStopConversation:   true,
	EnvelopeVoiceLiveStarted:   true,
	EnvelopeVoiceLiveConnected: true,
	EnvelopeAudioResponse:      true,
	EnvelopeTranscript:         true,
	EnvelopeResponseText:       true,
	EnvelopeConversationEnded:  true,
}

// Known reports whether the envelope type belongs to the fixed protocol set.
func (e Envelope) Known() bool {
	return knownTypes[e.Type]
}

// DecodeEnvelope parses an inbound text frame. Unknown types decode
// successfully; a missing type tag does not.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid JSON format: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type field")
	}
	return env, nil
}

// NewEnvelope creates an outbound envelope stamped with an ID and timestamp.
func NewEnvelope(t EnvelopeType) Envelope {
	return Envelope{
		Type:      t,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// Encode serializes the envelope for a text frame.
func (e Envelope) Encode() []byte {
	data, _ := json.Marshal(e)
	return data
}

// ChatRequest is the outbound text chat request body.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the chat exchange reply.
type ChatResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}
