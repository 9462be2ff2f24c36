package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// voiceRecorder captures what the fake remote receives on the voice socket.
type voiceRecorder struct {
	envelopes chan Envelope
	frames    chan []byte
}

func newVoiceServer(t *testing.T) (*httptest.Server, *voiceRecorder) {
	t.Helper()
	rec := &voiceRecorder{
		envelopes: make(chan Envelope, 16),
		frames:    make(chan []byte, 16),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch messageType {
			case websocket.TextMessage:
				env, err := DecodeEnvelope(message)
				if err == nil {
					rec.envelopes <- env
				}
			case websocket.BinaryMessage:
				rec.frames <- message
			}
		}
	}))
	t.Cleanup(server.Close)
	return server, rec
}

func waitEnvelope(t *testing.T, rec *voiceRecorder, want EnvelopeType) Envelope {
	t.Helper()
	select {
	case env := <-rec.envelopes:
		if env.Type != want {
			t.Fatalf("Expected envelope %s, got %s", want, env.Type)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s envelope", want)
		return Envelope{}
	}
}

func TestVoiceChannelStartThenFramesThenStop(t *testing.T) {
	server, rec := newVoiceServer(t)

	closed := make(chan struct{})
	v, err := DialVoice(context.Background(), wsURL(server, "/api/voice/ws"),
		func(Envelope) {}, func() { close(closed) },
		zap.NewNop(), newTestMetrics())
	if err != nil {
		t.Fatalf("DialVoice failed: %v", err)
	}

	waitEnvelope(t, rec, EnvelopeStartConversation)

	frame := []byte{0x01, 0x02, 0x03, 0x04}
	if err := v.SendFrame(frame); err != nil {
		t.Fatalf("SendFrame failed: %v", err)
	}

	select {
	case got := <-rec.frames:
		if !bytes.Equal(got, frame) {
			t.Errorf("Frame mismatch: got %v, want %v", got, frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for binary frame")
	}

	v.Stop()
	waitEnvelope(t, rec, EnvelopeStopConversation)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for onClosed")
	}

	if err := v.SendFrame(frame); err != ErrVoiceClosed {
		t.Errorf("Expected ErrVoiceClosed after stop, got %v", err)
	}
}

func TestVoiceChannelStopIsIdempotent(t *testing.T) {
	server, rec := newVoiceServer(t)

	v, err := DialVoice(context.Background(), wsURL(server, "/api/voice/ws"),
		func(Envelope) {}, nil, zap.NewNop(), newTestMetrics())
	if err != nil {
		t.Fatalf("DialVoice failed: %v", err)
	}

	waitEnvelope(t, rec, EnvelopeStartConversation)

	v.Stop()
	v.Stop()
	v.Stop()

	waitEnvelope(t, rec, EnvelopeStopConversation)

	// Only one stop envelope should arrive.
	select {
	case env := <-rec.envelopes:
		t.Fatalf("Unexpected extra envelope: %+v", env)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestVoiceChannelRemoteClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Deliver one envelope, then hang up.
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"conversation_ended","message":"bye"}`))
		conn.Close()
	}))
	defer server.Close()

	envelopes := make(chan Envelope, 4)
	closed := make(chan struct{})

	_, err := DialVoice(context.Background(), wsURL(server, "/ws"),
		func(env Envelope) { envelopes <- env }, func() { close(closed) },
		zap.NewNop(), newTestMetrics())
	if err != nil {
		t.Fatalf("DialVoice failed: %v", err)
	}

	select {
	case env := <-envelopes:
		if env.Type != EnvelopeConversationEnded {
			t.Errorf("Expected conversation_ended, got %s", env.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for envelope")
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for onClosed after remote hangup")
	}
}

func TestVoiceChannelDropsFramesWhenQueueFull(t *testing.T) {
	// A server that never reads keeps the write pump from draining once
	// the TCP buffers fill; the client-side queue must drop, not block.
	server, rec := newVoiceServer(t)

	v, err := DialVoice(context.Background(), wsURL(server, "/api/voice/ws"),
		func(Envelope) {}, nil, zap.NewNop(), newTestMetrics())
	if err != nil {
		t.Fatalf("DialVoice failed: %v", err)
	}
	defer v.Stop()

	waitEnvelope(t, rec, EnvelopeStartConversation)

	done := make(chan struct{})
	go func() {
		defer close(done)
		frame := make([]byte, 8192)
		for i := 0; i < 10000; i++ {
			if err := v.SendFrame(frame); err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SendFrame blocked instead of dropping")
	}
}
