package devserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kamihq/kami/domain/repositories"
	"github.com/kamihq/kami/internal/audio"
	"github.com/kamihq/kami/internal/pcm"
	"github.com/kamihq/kami/internal/transport"
)

const (
	// speechThreshold is the RMS level above which a frame counts as
	// speech. Normal room noise at 16-bit full scale sits well below it.
	speechThreshold = 0.015

	// silenceFrames is how many consecutive quiet frames end an utterance.
	silenceFrames = 6

	// replyTimeout bounds the brain call for one voice utterance.
	replyTimeout = 30 * time.Second
)

// voiceSession serves one voice websocket connection. It mimics the
// hosted live-voice service closely enough to exercise the client's full
// voice path: a start handshake, binary PCM uplink with speech-burst
// detection, and transcript / reply / audio downlink.
type voiceSession struct {
	conn       *websocket.Conn
	hub        *Hub
	generator  repositories.ReplyGenerator
	sampleRate int
	logger     *zap.Logger

	mu      sync.Mutex
	started bool

	// Utterance accumulation state, touched only by the read loop.
	inSpeech   bool
	quietCount int
	utterance  int

	history []repositories.ChatMessage
}

// handleVoiceSocket upgrades the request and runs the session until the
// peer disconnects or stops the conversation.
func handleVoiceSocket(c echo.Context, hub *Hub, generator repositories.ReplyGenerator, sampleRate int, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("Voice upgrade failed", zap.Error(err))
		return err
	}

	session := &voiceSession{
		conn:       conn,
		hub:        hub,
		generator:  generator,
		sampleRate: sampleRate,
		logger:     logger,
	}
	session.run(c.Request().Context())
	return nil
}

func (s *voiceSession) run(ctx context.Context) {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)

	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Voice socket read failed", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			if done := s.handleEnvelope(ctx, payload); done {
				return
			}
		case websocket.BinaryMessage:
			s.handleFrame(ctx, payload)
		default:
			s.logger.Warn("Unexpected voice message type", zap.Int("type", messageType))
		}
	}
}

// handleEnvelope processes a control frame. Returns true when the session
// should end.
func (s *voiceSession) handleEnvelope(ctx context.Context, payload []byte) bool {
	env, err := transport.DecodeEnvelope(payload)
	if err != nil {
		s.logger.Warn("Malformed voice envelope", zap.Error(err))
		return false
	}

	switch env.Type {
	case transport.EnvelopeStartConversation:
		s.mu.Lock()
		started := s.started
		s.started = true
		s.mu.Unlock()
		if started {
			return false
		}
		s.push(transport.NewEnvelope(transport.EnvelopeVoiceLiveConnected))
		s.push(transport.NewEnvelope(transport.EnvelopeVoiceLiveStarted))
		s.broadcastStatus("voice_active")
		s.logger.Info("Voice conversation started")
		return false

	case transport.EnvelopeStopConversation:
		// Flush a trailing utterance before ending.
		if s.inSpeech {
			s.finishUtterance(ctx)
		}
		s.push(transport.NewEnvelope(transport.EnvelopeConversationEnded))
		s.broadcastStatus("voice_idle")
		s.logger.Info("Voice conversation stopped by client")
		return true

	default:
		s.logger.Warn("Ignoring voice envelope", zap.String("type", string(env.Type)))
		return false
	}
}

// handleFrame runs speech-burst detection over one uplink PCM frame. A
// loud run of frames followed by silence counts as one utterance.
func (s *voiceSession) handleFrame(ctx context.Context, frame []byte) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}

	level := pcm.RMS(frame)
	if level >= speechThreshold {
		s.inSpeech = true
		s.quietCount = 0
		return
	}

	if !s.inSpeech {
		return
	}
	s.quietCount++
	if s.quietCount < silenceFrames {
		return
	}

	s.finishUtterance(ctx)
}

// finishUtterance emits the downlink triple for the burst that just
// ended: transcript, reply text, and a spoken-reply audio payload.
func (s *voiceSession) finishUtterance(ctx context.Context) {
	s.inSpeech = false
	s.quietCount = 0
	s.utterance++

	// Without a real recognizer the transcript is synthesized; it still
	// exercises the client's transcript rendering path.
	text := fmt.Sprintf("voice message %d", s.utterance)

	transcript := transport.NewEnvelope(transport.EnvelopeTranscript)
	transcript.Text = text
	s.push(transcript)

	replyCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	reply, err := s.generator.Reply(replyCtx, text, s.history)
	cancel()
	if err != nil {
		s.logger.Warn("Voice reply generation failed", zap.Error(err))
		errEnv := transport.NewEnvelope(transport.EnvelopeError)
		errEnv.Message = "Failed to generate reply"
		s.push(errEnv)
		return
	}

	s.history = append(s.history,
		repositories.ChatMessage{Role: repositories.UserRole, Content: text},
		repositories.ChatMessage{Role: repositories.AssistantRole, Content: reply},
	)

	response := transport.NewEnvelope(transport.EnvelopeResponseText)
	response.Text = reply
	s.push(response)

	if wav, err := s.spokenReply(); err != nil {
		s.logger.Warn("Failed to synthesize reply audio", zap.Error(err))
	} else {
		audioEnv := transport.NewEnvelope(transport.EnvelopeAudioResponse)
		audioEnv.AudioData = base64.StdEncoding.EncodeToString(wav)
		s.push(audioEnv)
	}
}

// spokenReply stands in for TTS with a short confirmation tone in the
// exact wire format the hosted service uses.
func (s *voiceSession) spokenReply() ([]byte, error) {
	tone := audio.Tone(660, 250*time.Millisecond, s.sampleRate)
	return audio.EncodeWAV(tone, s.sampleRate)
}

// broadcastStatus mirrors the voice lifecycle onto the control channel so
// every connected client sees the transition.
func (s *voiceSession) broadcastStatus(status string) {
	env := transport.NewEnvelope(transport.EnvelopeVoiceStatus)
	env.Status = status
	s.hub.Broadcast(env)
}

func (s *voiceSession) push(env transport.Envelope) {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, env.Encode()); err != nil {
		s.logger.Warn("Failed to push voice envelope", zap.Error(err))
	}
}
