package entities

// SessionState is the value object describing the live assistant session.
// It is owned exclusively by the session coordinator: transitions are pure
// functions returning the next state, so no component mutates it in place.
type SessionState struct {
	Control     ConnState
	Status      Status
	VoiceActive bool
	MicMuted    bool
}

// NewSessionState returns the state of a freshly started session: control
// channel still connecting, nothing active yet.
func NewSessionState() SessionState {
	return SessionState{
		Control: ConnConnecting,
		Status:  StatusDisconnected,
	}
}

// WithControlConnected transitions the control channel to connected.
// The display status becomes ready unless a voice session is mid-flight.
func (s SessionState) WithControlConnected() SessionState {
	s.Control = ConnConnected
	if !s.VoiceActive {
		s.Status = StatusReady
	}
	return s
}

// WithControlDisconnected transitions the control channel to disconnected.
// Voice flags are untouched: the voice channel is independently owned.
func (s SessionState) WithControlDisconnected() SessionState {
	s.Control = ConnDisconnected
	s.Status = StatusDisconnected
	return s
}

// WithControlConnecting marks a reconnect attempt in progress.
func (s SessionState) WithControlConnecting() SessionState {
	s.Control = ConnConnecting
	return s
}

// WithVoiceActive marks the voice pipeline as wired and streaming.
func (s SessionState) WithVoiceActive() SessionState {
	s.VoiceActive = true
	s.Status = StatusListening
	return s
}

// WithVoiceStopped tears the voice flags back down. The display status
// falls back to whatever the control channel supports.
func (s SessionState) WithVoiceStopped() SessionState {
	s.VoiceActive = false
	if s.Control == ConnConnected {
		s.Status = StatusReady
	} else {
		s.Status = StatusDisconnected
	}
	return s
}

// WithSpeaking marks assistant audio playback in progress. Only meaningful
// while voice is active; otherwise the state is returned unchanged.
func (s SessionState) WithSpeaking() SessionState {
	if s.VoiceActive {
		s.Status = StatusSpeaking
	}
	return s
}

// WithSpeakingDone reverts a speaking status back to listening.
func (s SessionState) WithSpeakingDone() SessionState {
	if s.VoiceActive && s.Status == StatusSpeaking {
		s.Status = StatusListening
	}
	return s
}

// WithMicMuted flips the microphone mute flag. Muting never touches an
// active voice session: it only stops wake-word listening.
func (s SessionState) WithMicMuted(muted bool) SessionState {
	s.MicMuted = muted
	return s
}

// CanSendText reports whether a chat request may be issued right now.
func (s SessionState) CanSendText() bool {
	return s.Control == ConnConnected
}
