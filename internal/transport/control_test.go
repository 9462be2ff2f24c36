package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kamihq/kami/internal/metrics"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func TestControlChannelReceivesEnvelopes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"text_response","message":"pushed"}`))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	envelopes := make(chan Envelope, 4)
	states := make(chan bool, 4)

	c := NewControlChannel(
		wsURL(server, "/ws"), server.URL+"/api/chat",
		func(env Envelope) { envelopes <- env },
		func(connected bool) { states <- connected },
		zap.NewNop(), newTestMetrics(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case connected := <-states:
		if !connected {
			t.Fatal("Expected connected state first")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for connection")
	}

	select {
	case env := <-envelopes:
		if env.Type != EnvelopeTextResponse || env.Message != "pushed" {
			t.Errorf("Unexpected envelope: %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for envelope")
	}

	if !c.Connected() {
		t.Error("Connected() should report true")
	}
}

func TestControlChannelReconnects(t *testing.T) {
	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := dials.Add(1)
		if n == 1 {
			// Drop the first connection immediately to force a redial.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	states := make(chan bool, 8)
	c := NewControlChannel(
		wsURL(server, "/ws"), server.URL+"/api/chat",
		func(Envelope) {},
		func(connected bool) { states <- connected },
		zap.NewNop(), newTestMetrics(),
	)
	c.reconnectDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// connect, drop, reconnect
	want := []bool{true, false, true}
	for i, expected := range want {
		select {
		case got := <-states:
			if got != expected {
				t.Fatalf("State %d = %v, want %v", i, got, expected)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("Timed out waiting for state change %d", i)
		}
	}

	if dials.Load() < 2 {
		t.Errorf("Expected at least 2 dials, got %d", dials.Load())
	}
}

func TestControlChannelStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	states := make(chan bool, 4)
	c := NewControlChannel(
		wsURL(server, "/ws"), server.URL+"/api/chat",
		func(Envelope) {},
		func(connected bool) { states <- connected },
		zap.NewNop(), newTestMetrics(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(finished)
	}()

	select {
	case <-states:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for connection")
	}

	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestChatExchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"response":"hi"}`))
	}))
	defer server.Close()

	c := NewControlChannel(
		wsURL(server, "/ws"), server.URL+"/api/chat",
		func(Envelope) {}, func(bool) {},
		zap.NewNop(), newTestMetrics(),
	)

	reply, err := c.Chat(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply != "hi" {
		t.Errorf("Expected reply %q, got %q", "hi", reply)
	}
}

func TestChatServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error":"model unavailable"}`))
	}))
	defer server.Close()

	c := NewControlChannel(
		wsURL(server, "/ws"), server.URL+"/api/chat",
		func(Envelope) {}, func(bool) {},
		zap.NewNop(), newTestMetrics(),
	)

	_, err := c.Chat(context.Background(), "hello")
	if err == nil {
		t.Fatal("Expected error from failed chat")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Errorf("Expected server reason in error, got %v", err)
	}
}
