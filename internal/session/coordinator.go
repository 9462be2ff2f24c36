// Package session holds the coordinator: the state machine tying user
// intent, the two transport channels, the wake-word listener, and the
// audio pipeline into one live assistant session.
package session

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kamihq/kami/domain/entities"
	"github.com/kamihq/kami/domain/repositories"
	"github.com/kamihq/kami/internal/metrics"
	"github.com/kamihq/kami/internal/pcm"
	"github.com/kamihq/kami/internal/transport"
	"github.com/kamihq/kami/internal/wakeword"
)

// Observer is the small presentation interface UI variants implement.
// Callbacks arrive on the coordinator goroutine and must return quickly.
type Observer interface {
	TranscriptAppended(msg entities.Message)
	StatusChanged(status entities.Status)
	NoticeRaised(notice entities.Notice)
	NoticeExpired(noticeID string)
	TypingChanged(visible bool)
	IndicatorsChanged(indicators entities.Indicators)
}

// controlConn is the slice of the control channel the coordinator drives.
type controlConn interface {
	Connected() bool
	Chat(ctx context.Context, message string) (string, error)
}

// VoiceConn is an open voice channel.
type VoiceConn interface {
	SendFrame(frame []byte) error
	Stop()
}

// VoiceDialer opens a voice channel wired to the given callbacks.
type VoiceDialer func(ctx context.Context, handler func(transport.Envelope), onClosed func()) (VoiceConn, error)

// audioPlayer decodes and schedules one base64 payload.
type audioPlayer interface {
	Play(encoded string) error
}

// wakeListener is the slice of the wake-word listener the coordinator
// drives. Its callbacks post events back into the queue.
type wakeListener interface {
	Start() error
	Mute()
	Unmute() error
	State() wakeword.State
}

// frameEncoder converts captured float32 samples to wire bytes.
type frameEncoder func(samples []float32) []byte

// eventQueueSize bounds the coordinator inbox. Producers drop-and-log
// rather than block when the loop has fallen this far behind.
const eventQueueSize = 256

// Coordinator owns the session state and processes all events on a single
// goroutine.
type Coordinator struct {
	control   controlConn
	dialVoice VoiceDialer
	capture   repositories.CaptureDevice
	player    audioPlayer
	wake      wakeListener
	encode    frameEncoder
	audioCfg  repositories.AudioConfig

	logger  *zap.Logger
	metrics *metrics.Metrics

	events chan event

	// All fields below are owned by the Run goroutine.
	state        entities.SessionState
	indicators   entities.Indicators
	transcript   []entities.Message
	typing       bool
	observers    []Observer
	voice        VoiceConn
	captureStrm  repositories.CaptureStream
	voicePending bool
	voiceEpoch   uint64
	noticeTimers map[string]*time.Timer
	quit         chan struct{}

	// relay is read by the capture callback off-loop; it holds the live
	// voice channel or nil while the pipeline is (un)wired.
	relay atomic.Value // of VoiceConn
}

// relayBox wraps the interface for atomic.Value, which requires a
// consistent concrete type.
type relayBox struct {
	conn VoiceConn
}

// New creates a coordinator. SetWakeListener must be called before Run if
// wake-word support is wanted.
func New(
	control controlConn,
	dialVoice VoiceDialer,
	capture repositories.CaptureDevice,
	player audioPlayer,
	audioCfg repositories.AudioConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Coordinator {
	c := &Coordinator{
		control:      control,
		dialVoice:    dialVoice,
		capture:      capture,
		player:       player,
		encode:       defaultEncoder,
		audioCfg:     audioCfg,
		logger:       logger,
		metrics:      m,
		events:       make(chan event, eventQueueSize),
		state:        entities.NewSessionState(),
		noticeTimers: make(map[string]*time.Timer),
		quit:         make(chan struct{}),
	}
	c.relay.Store(relayBox{})
	return c
}

// SetWakeListener wires the wake listener the coordinator mutes and
// restarts on microphone toggle.
func (c *Coordinator) SetWakeListener(wake wakeListener) {
	c.wake = wake
}

// AddObserver registers a presentation adapter. Not safe after Run starts.
func (c *Coordinator) AddObserver(observer Observer) {
	c.observers = append(c.observers, observer)
}

// Run processes events until the context is canceled. It is the only
// goroutine that touches session state, and it may be called at most once:
// its return releases any notice expiry still waiting to post.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.quit)
	for {
		select {
		case <-ctx.Done():
			c.handleStopVoice()
			return
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// post enqueues an event, dropping it when the queue is saturated. A
// dropped event means the loop is stalled; blocking the producer (a device
// or socket callback) would only spread the stall.
func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("Event queue full, dropping event", zap.String("event", ev.eventName()))
	}
}

// Public operations. Each is a thin enqueue; the loop does the work.

// SendText issues a text chat turn. Empty or whitespace-only input is a
// no-op, as is sending while the control channel is down.
func (c *Coordinator) SendText(text string) {
	c.post(sendTextEvent{text: text})
}

// StartVoice activates the voice conversation. Idempotent while active.
func (c *Coordinator) StartVoice() {
	c.post(startVoiceEvent{})
}

// StopVoice deactivates the voice conversation. Idempotent while inactive.
func (c *Coordinator) StopVoice() {
	c.post(stopVoiceEvent{})
}

// ToggleMicrophone flips the mute flag. Muting stops wake-word listening
// but never touches an active voice channel.
func (c *Coordinator) ToggleMicrophone() {
	c.post(toggleMicEvent{})
}

// Callback entry points, handed to the transport, listener, and player.

// HandleControlState is wired to the control channel state callback.
func (c *Coordinator) HandleControlState(connected bool) {
	c.post(controlStateEvent{connected: connected})
}

// HandleControlEnvelope is wired to the control channel message handler.
func (c *Coordinator) HandleControlEnvelope(env transport.Envelope) {
	c.post(controlEnvelopeEvent{env: env})
}

// HandleWake is wired to the wake-word trigger callback.
func (c *Coordinator) HandleWake() {
	c.post(wakeEvent{})
}

// HandleWakeState is wired to the wake-word lifecycle callback.
func (c *Coordinator) HandleWakeState(state wakeword.State) {
	c.post(wakeStateEvent{state: state})
}

// HandleWakePulse is wired to the wake-word triggered-pulse callback.
func (c *Coordinator) HandleWakePulse(active bool) {
	c.post(wakePulseEvent{active: active})
}

// HandlePlaybackStarted is wired to the player start callback.
func (c *Coordinator) HandlePlaybackStarted() {
	c.post(playbackStartedEvent{})
}

// HandlePlaybackEnded is wired to the player done callback.
func (c *Coordinator) HandlePlaybackEnded() {
	c.post(playbackEndedEvent{})
}

// Transcript returns a copy of the messages appended so far. Safe only
// from observer callbacks or after Run has stopped.
func (c *Coordinator) Transcript() []entities.Message {
	out := make([]entities.Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

func (c *Coordinator) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case sendTextEvent:
		c.handleSendText(ctx, ev.text)
	case chatResultEvent:
		c.handleChatResult(ev)
	case startVoiceEvent:
		c.handleStartVoice(ctx)
	case voiceReadyEvent:
		c.handleVoiceReady(ev)
	case stopVoiceEvent:
		c.handleStopVoice()
	case voiceClosedEvent:
		c.handleVoiceClosed(ev)
	case toggleMicEvent:
		c.handleToggleMic()
	case controlStateEvent:
		c.handleControlState(ev.connected)
	case controlEnvelopeEvent:
		c.handleControlEnvelope(ev.env)
	case voiceEnvelopeEvent:
		c.handleVoiceEnvelope(ev.env)
	case playbackStartedEvent:
		c.applyState(c.state.WithSpeaking())
	case playbackEndedEvent:
		c.applyState(c.state.WithSpeakingDone())
	case wakeEvent:
		c.handleWake(ctx)
	case wakeStateEvent:
		c.setIndicators(func(ind *entities.Indicators) {
			ind.WakeArmed = ev.state == wakeword.StateListening
		})
	case wakePulseEvent:
		c.setIndicators(func(ind *entities.Indicators) {
			ind.WakeTriggered = ev.active
		})
	case noticeExpiredEvent:
		c.handleNoticeExpired(ev.id)
	default:
		c.logger.Warn("Unknown event", zap.String("event", ev.eventName()))
	}
}

// handleSendText appends the user turn and issues the chat exchange off
// the loop. The typing indicator stays up until the result event lands.
func (c *Coordinator) handleSendText(ctx context.Context, text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	if !c.control.Connected() {
		c.logger.Warn("Dropping chat message, control channel not connected")
		return
	}

	c.appendMessage(entities.NewMessage(entities.RoleUser, trimmed))
	c.setTyping(true)

	go func() {
		reply, err := c.control.Chat(ctx, trimmed)
		c.post(chatResultEvent{reply: reply, err: err})
	}()
}

// handleChatResult clears the typing indicator unconditionally, then
// appends the reply or raises a notice.
func (c *Coordinator) handleChatResult(ev chatResultEvent) {
	c.setTyping(false)

	if ev.err != nil {
		c.logger.Warn("Chat request failed", zap.Error(ev.err))
		c.raiseNotice("Failed to send message: " + ev.err.Error())
		return
	}

	c.appendMessage(entities.NewMessage(entities.RoleAssistant, ev.reply))
}

// handleStartVoice acquires the microphone and dials the voice channel off
// the loop. Voice-active is only set once the capture pipeline is wired.
func (c *Coordinator) handleStartVoice(ctx context.Context) {
	if c.state.VoiceActive || c.voicePending {
		return
	}

	c.voicePending = true
	epoch := c.voiceEpoch

	go func() {
		capture, err := c.capture.Open(ctx, c.audioCfg, c.onCaptureFrame)
		if err != nil {
			c.post(voiceReadyEvent{epoch: epoch, err: err})
			return
		}

		channel, err := c.dialVoice(ctx,
			func(env transport.Envelope) { c.post(voiceEnvelopeEvent{env: env}) },
			func() { c.post(voiceClosedEvent{epoch: epoch}) },
		)
		if err != nil {
			capture.Close()
			c.post(voiceReadyEvent{epoch: epoch, err: err})
			return
		}

		c.post(voiceReadyEvent{epoch: epoch, channel: channel, capture: capture})
	}()
}

// onCaptureFrame runs on the capture device callback, off the loop. It
// only reads the relay; a torn-down pipeline leaves frames on the floor.
func (c *Coordinator) onCaptureFrame(samples []float32) {
	box, _ := c.relay.Load().(relayBox)
	if box.conn == nil {
		return
	}
	if err := box.conn.SendFrame(c.encode(samples)); err != nil {
		c.logger.Debug("Dropping frame on closed voice channel")
	}
}

func (c *Coordinator) handleVoiceReady(ev voiceReadyEvent) {
	if ev.epoch != c.voiceEpoch {
		// A stop arrived while the start was in flight; discard the
		// half-built pipeline. It was never wired to the relay.
		if ev.capture != nil {
			ev.capture.Close()
		}
		if ev.channel != nil {
			ev.channel.Stop()
		}
		return
	}

	c.voicePending = false

	if ev.err != nil {
		c.logger.Warn("Voice start failed", zap.Error(ev.err))
		c.raiseNotice("Could not start voice: " + ev.err.Error())
		return
	}

	c.voice = ev.channel
	c.captureStrm = ev.capture
	// Wire the pipeline: from here frames flow into the channel.
	c.relay.Store(relayBox{conn: ev.channel})
	c.metrics.ActiveVoice.Set(1)
	c.applyState(c.state.WithVoiceActive())
	c.logger.Info("Voice conversation active")
}

// handleStopVoice tears down in strict order: unwire the frame relay,
// release the capture device, then stop the channel. Idempotent.
func (c *Coordinator) handleStopVoice() {
	if !c.state.VoiceActive && !c.voicePending {
		return
	}

	c.voiceEpoch++
	c.voicePending = false

	c.relay.Store(relayBox{})
	if c.captureStrm != nil {
		c.captureStrm.Close()
		c.captureStrm = nil
	}
	if c.voice != nil {
		c.voice.Stop()
		c.voice = nil
	}

	c.metrics.ActiveVoice.Set(0)
	c.applyState(c.state.WithVoiceStopped())
	c.logger.Info("Voice conversation stopped")
}

// handleVoiceClosed routes a remote or error closure through the stop
// path. Stale closures from an already-replaced channel are dropped.
func (c *Coordinator) handleVoiceClosed(ev voiceClosedEvent) {
	if ev.epoch != c.voiceEpoch {
		return
	}
	c.logger.Info("Voice channel closed by remote")
	c.handleStopVoice()
}

func (c *Coordinator) handleToggleMic() {
	muted := !c.state.MicMuted
	c.applyState(c.state.WithMicMuted(muted))
	c.setIndicators(func(ind *entities.Indicators) {
		ind.MicMuted = muted
	})

	if c.wake == nil {
		return
	}
	if muted {
		c.wake.Mute()
	} else if c.wake.State() != wakeword.StateListening {
		if err := c.wake.Unmute(); err != nil {
			c.logger.Warn("Failed to re-arm wake word", zap.Error(err))
		}
	}
}

func (c *Coordinator) handleControlState(connected bool) {
	if connected {
		c.applyState(c.state.WithControlConnected())
	} else {
		c.applyState(c.state.WithControlDisconnected())
	}
}

func (c *Coordinator) handleControlEnvelope(env transport.Envelope) {
	switch env.Type {
	case transport.EnvelopeTextResponse:
		if env.Message != "" {
			c.appendMessage(entities.NewMessage(entities.RoleAssistant, env.Message))
		}
	case transport.EnvelopeVoiceStatus:
		c.logger.Info("Voice status update", zap.String("status", env.Status))
	case transport.EnvelopeError:
		c.raiseNotice(env.Message)
	default:
		c.logger.Warn("Ignoring unknown control envelope", zap.String("type", string(env.Type)))
	}
}

func (c *Coordinator) handleVoiceEnvelope(env transport.Envelope) {
	switch env.Type {
	case transport.EnvelopeVoiceLiveConnected, transport.EnvelopeVoiceLiveStarted:
		c.logger.Info("Voice conversation status", zap.String("type", string(env.Type)))
	case transport.EnvelopeAudioResponse:
		c.metrics.AudioResponses.Inc()
		if err := c.player.Play(env.AudioData); err != nil {
			c.metrics.PlaybackErrors.Inc()
			c.logger.Warn("Playback failed", zap.Error(err))
			c.raiseNotice("Could not play assistant audio")
		}
	case transport.EnvelopeTranscript:
		if env.Text != "" {
			c.appendMessage(entities.NewMessage(entities.RoleUser, env.Text))
		}
	case transport.EnvelopeResponseText:
		if env.Text != "" {
			c.appendMessage(entities.NewMessage(entities.RoleAssistant, env.Text))
		}
	case transport.EnvelopeConversationEnded:
		c.handleStopVoice()
	case transport.EnvelopeError:
		c.raiseNotice(env.Message)
	default:
		c.logger.Warn("Ignoring unknown voice envelope", zap.String("type", string(env.Type)))
	}
}

// handleWake reactivates voice on a trigger phrase. A wake while voice is
// already active is a no-op.
func (c *Coordinator) handleWake(ctx context.Context) {
	c.logger.Info("Wake word triggered")
	c.handleStartVoice(ctx)
}

// raiseNotice shows a transient banner and arms its expiry timer. One
// timer per notice; expiry posts back onto the queue.
func (c *Coordinator) raiseNotice(text string) {
	if text == "" {
		text = "Something went wrong"
	}

	notice := entities.NewNotice(text)
	c.metrics.NoticesRaised.Inc()

	for _, observer := range c.observers {
		observer.NoticeRaised(notice)
	}

	c.noticeTimers[notice.ID] = time.AfterFunc(notice.TTL, func() {
		c.postNoticeExpiry(notice.ID)
	})
}

// postNoticeExpiry delivers the expiry event even when the queue is
// momentarily saturated. Dropping it would leak the timer entry and leave
// the banner up forever, so the send blocks on the timer goroutine until
// the loop takes it or shuts down.
func (c *Coordinator) postNoticeExpiry(id string) {
	select {
	case c.events <- noticeExpiredEvent{id: id}:
	case <-c.quit:
	}
}

func (c *Coordinator) handleNoticeExpired(id string) {
	timer, ok := c.noticeTimers[id]
	if !ok {
		return
	}
	timer.Stop()
	delete(c.noticeTimers, id)

	for _, observer := range c.observers {
		observer.NoticeExpired(id)
	}
}

func (c *Coordinator) appendMessage(msg entities.Message) {
	c.transcript = append(c.transcript, msg)
	for _, observer := range c.observers {
		observer.TranscriptAppended(msg)
	}
}

func (c *Coordinator) setTyping(visible bool) {
	if c.typing == visible {
		return
	}
	c.typing = visible
	for _, observer := range c.observers {
		observer.TypingChanged(visible)
	}
}

func (c *Coordinator) setIndicators(mutate func(*entities.Indicators)) {
	next := c.indicators
	mutate(&next)
	if next == c.indicators {
		return
	}
	c.indicators = next
	for _, observer := range c.observers {
		observer.IndicatorsChanged(next)
	}
}

// applyState installs the next state value and notifies on a status change.
func (c *Coordinator) applyState(next entities.SessionState) {
	prev := c.state
	c.state = next
	if prev.Status == next.Status {
		return
	}
	for _, observer := range c.observers {
		observer.StatusChanged(next.Status)
	}
}

func defaultEncoder(samples []float32) []byte {
	return pcm.Encode(samples)
}
