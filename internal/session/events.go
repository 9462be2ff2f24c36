package session

import (
	"github.com/kamihq/kami/domain/repositories"
	"github.com/kamihq/kami/internal/transport"
	"github.com/kamihq/kami/internal/wakeword"
)

// event is one unit of work for the coordinator loop. Every external
// stimulus (user operation, channel message, device callback, timer fire)
// becomes an event on a single-consumer queue, so no two handlers ever
// overlap.
type event interface {
	eventName() string
}

// User operations.

type sendTextEvent struct {
	text string
}

type startVoiceEvent struct{}

type stopVoiceEvent struct{}

type toggleMicEvent struct{}

// Asynchronous completions. Epoch-tagged events are dropped when a
// teardown has advanced the epoch since the operation started.

type chatResultEvent struct {
	reply string
	err   error
}

type voiceReadyEvent struct {
	epoch   uint64
	channel VoiceConn
	capture repositories.CaptureStream
	err     error
}

type voiceClosedEvent struct {
	epoch uint64
}

// Channel and device callbacks.

type controlStateEvent struct {
	connected bool
}

type controlEnvelopeEvent struct {
	env transport.Envelope
}

type voiceEnvelopeEvent struct {
	env transport.Envelope
}

type playbackStartedEvent struct{}

type playbackEndedEvent struct{}

// Wake-word listener callbacks.

type wakeEvent struct{}

type wakeStateEvent struct {
	state wakeword.State
}

type wakePulseEvent struct {
	active bool
}

// Timer fires.

type noticeExpiredEvent struct {
	id string
}

func (sendTextEvent) eventName() string        { return "send_text" }
func (startVoiceEvent) eventName() string      { return "start_voice" }
func (stopVoiceEvent) eventName() string       { return "stop_voice" }
func (toggleMicEvent) eventName() string       { return "toggle_mic" }
func (chatResultEvent) eventName() string      { return "chat_result" }
func (voiceReadyEvent) eventName() string      { return "voice_ready" }
func (voiceClosedEvent) eventName() string     { return "voice_closed" }
func (controlStateEvent) eventName() string    { return "control_state" }
func (controlEnvelopeEvent) eventName() string { return "control_envelope" }
func (voiceEnvelopeEvent) eventName() string   { return "voice_envelope" }
func (playbackStartedEvent) eventName() string { return "playback_started" }
func (playbackEndedEvent) eventName() string   { return "playback_ended" }
func (wakeEvent) eventName() string            { return "wake" }
func (wakeStateEvent) eventName() string       { return "wake_state" }
func (wakePulseEvent) eventName() string       { return "wake_pulse" }
func (noticeExpiredEvent) eventName() string   { return "notice_expired" }
