package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kamihq/kami/internal/metrics"
)

// ErrVoiceClosed is returned when sending on a voice channel that has
// already been torn down.
var ErrVoiceClosed = errors.New("voice channel closed")

// voiceSendBuffer bounds the outbound frame queue. Voice streaming is
// fire-and-forget: frames beyond the buffer are dropped, not retried.
const voiceSendBuffer = 64

// writeData is one outbound websocket frame.
type writeData struct {
	messageType int
	payload     []byte
}

// VoiceChannel is the on-demand conversation connection. It sends a
// start_conversation envelope on open, streams binary PCM frames, and never
// reconnects on its own: any closure routes through the stop path and
// requires an explicit new start.
type VoiceChannel struct {
	conn *websocket.Conn

	send chan writeData
	quit chan struct{} // signals the write pump to send a close frame

	// handler receives every decoded inbound envelope, in arrival order.
	handler func(Envelope)

	// onClosed fires exactly once when the channel is finished, whether
	// stopped locally or ended by the remote.
	onClosed func()

	stopOnce  sync.Once
	closeOnce sync.Once
	stopped   chan struct{}

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// DialVoice opens the voice channel and immediately queues the
// start_conversation envelope ahead of any audio.
func DialVoice(
	ctx context.Context,
	url string,
	handler func(Envelope),
	onClosed func(),
	logger *zap.Logger,
	m *metrics.Metrics,
) (*VoiceChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	v := &VoiceChannel{
		conn:     conn,
		send:     make(chan writeData, voiceSendBuffer),
		quit:     make(chan struct{}),
		handler:  handler,
		onClosed: onClosed,
		stopped:  make(chan struct{}),
		logger:   logger,
		metrics:  m,
	}

	v.send <- writeData{websocket.TextMessage, NewEnvelope(EnvelopeStartConversation).Encode()}

	m.VoiceSessions.Inc()

	go v.writePump()
	go v.readPump()

	return v, nil
}

// SendFrame streams one PCM16 frame. Best effort: if the send queue is
// full the frame is dropped and counted, never blocking the capture path.
func (v *VoiceChannel) SendFrame(frame []byte) error {
	select {
	case <-v.stopped:
		return ErrVoiceClosed
	default:
	}

	select {
	case v.send <- writeData{websocket.BinaryMessage, frame}:
		v.metrics.FramesSent.Inc()
		v.metrics.BytesSent.Add(float64(len(frame)))
		return nil
	default:
		v.metrics.FramesDropped.Inc()
		return nil
	}
}

// Stop ends the conversation: the stop_conversation envelope is queued
// behind any pending frames, then the connection closes. Safe to call more
// than once.
func (v *VoiceChannel) Stop() {
	select {
	case <-v.stopped:
		return
	default:
	}

	v.stopOnce.Do(func() {
		select {
		case v.send <- writeData{websocket.TextMessage, NewEnvelope(EnvelopeStopConversation).Encode()}:
		default:
			v.logger.Warn("Voice send queue full, stop envelope not delivered")
		}
		close(v.quit)
	})
}

func (v *VoiceChannel) teardown() {
	v.closeOnce.Do(func() {
		close(v.stopped)
		v.conn.Close()
		if v.onClosed != nil {
			v.onClosed()
		}
	})
}

// writePump owns all writes: queued envelopes and frames, keepalive pings,
// and the final close frame after Stop.
func (v *VoiceChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.teardown()
	}()

	for {
		select {
		case message := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(message.messageType, message.payload); err != nil {
				v.logger.Warn("Voice channel write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-v.quit:
			// Drain anything queued ahead of the close frame.
			for {
				select {
				case message := <-v.send:
					v.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := v.conn.WriteMessage(message.messageType, message.payload); err != nil {
						return
					}
				default:
					v.conn.SetWriteDeadline(time.Now().Add(writeWait))
					v.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

// readPump pumps inbound envelopes to the handler until the connection ends.
func (v *VoiceChannel) readPump() {
	defer v.teardown()

	v.conn.SetReadLimit(maxMessageSize)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				v.logger.Warn("Voice channel read error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			env, err := DecodeEnvelope(message)
			if err != nil {
				v.logger.Warn("Malformed voice envelope", zap.Error(err))
				continue
			}
			v.handler(env)
		case websocket.BinaryMessage:
			// The remote speaks in audio_response envelopes, not raw frames.
			v.logger.Debug("Ignoring binary voice frame", zap.Int("size", len(message)))
		default:
			v.logger.Warn("Unexpected voice frame type", zap.Int("type", messageType))
		}
	}
}
