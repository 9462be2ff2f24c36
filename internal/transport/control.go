// Package transport manages the two real-time channels to the remote
// assistant backend: the control channel carrying text chat and status
// envelopes, and the voice channel carrying conversation control plus raw
// PCM frames.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kamihq/kami/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio payloads

	// ReconnectDelay is the fixed control channel retry interval. No
	// backoff growth, no retry cap: the client is expected to stay open
	// for a desktop session.
	ReconnectDelay = 3 * time.Second

	// ChatTimeout bounds the text chat request/response exchange. The
	// remote contract specifies no timeout; 15s keeps a hung request from
	// pinning the typing indicator forever.
	ChatTimeout = 15 * time.Second
)

// ControlChannel holds the persistent control connection. It redials on any
// closure after a fixed delay, indefinitely, and exposes the request/response
// chat exchange.
type ControlChannel struct {
	wsURL   string
	chatURL string

	dialer     *websocket.Dialer
	httpClient *http.Client

	// handler receives every decoded inbound envelope, in arrival order.
	handler func(Envelope)

	// onState is called with true on open and false on close.
	onState func(connected bool)

	reconnectDelay time.Duration
	connected      atomic.Bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewControlChannel creates a control channel against the given endpoints.
// Run must be called to start connecting.
func NewControlChannel(
	wsURL string,
	chatURL string,
	handler func(Envelope),
	onState func(connected bool),
	logger *zap.Logger,
	m *metrics.Metrics,
) *ControlChannel {
	return &ControlChannel{
		wsURL:          wsURL,
		chatURL:        chatURL,
		dialer:         websocket.DefaultDialer,
		httpClient:     &http.Client{Timeout: ChatTimeout},
		handler:        handler,
		onState:        onState,
		reconnectDelay: ReconnectDelay,
		logger:         logger,
		metrics:        m,
	}
}

// Connected reports whether the control channel is currently open.
func (c *ControlChannel) Connected() bool {
	return c.connected.Load()
}

// Run dials and serves the control connection until the context is
// canceled. Every closure, local or remote, schedules exactly one redial
// after the fixed delay; the loop itself is the singular reconnect timer.
func (c *ControlChannel) Run(ctx context.Context) {
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Control channel dial failed",
				zap.String("url", c.wsURL),
				zap.Error(err))
			c.metrics.ControlReconnects.Inc()
			select {
			case <-time.After(c.reconnectDelay):
				continue
			case <-ctx.Done():
				return
			}
		}

		c.connected.Store(true)
		c.onState(true)
		c.logger.Info("Control channel connected", zap.String("url", c.wsURL))

		c.serve(ctx, conn)

		c.connected.Store(false)
		c.onState(false)

		if ctx.Err() != nil {
			return
		}

		c.logger.Info("Control channel closed, scheduling reconnect",
			zap.Duration("delay", c.reconnectDelay))
		c.metrics.ControlReconnects.Inc()
		select {
		case <-time.After(c.reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// serve pumps inbound envelopes until the connection dies. A keepalive
// goroutine pings the peer and force-closes the connection on context
// cancellation so the read loop unblocks.
func (c *ControlChannel) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Control channel read error", zap.Error(err))
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Unexpected control frame type", zap.Int("type", messageType))
			continue
		}

		env, err := DecodeEnvelope(message)
		if err != nil {
			// Protocol noise stays in the logs, never in the UI.
			c.logger.Warn("Malformed control envelope", zap.Error(err))
			continue
		}

		c.handler(env)
	}
}

// Chat issues the text chat request/response exchange. It returns the
// assistant reply text, or an error carrying the server-reported reason.
func (c *ControlChannel) Chat(ctx context.Context, message string) (string, error) {
	c.metrics.ChatRequests.Inc()

	body, err := json.Marshal(ChatRequest{Message: message})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ChatFailures.Inc()
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		c.metrics.ChatFailures.Inc()
		return "", fmt.Errorf("invalid chat response: %w", err)
	}

	if !chatResp.Success {
		c.metrics.ChatFailures.Inc()
		if chatResp.Error != "" {
			return "", fmt.Errorf("chat rejected: %s", chatResp.Error)
		}
		return "", fmt.Errorf("chat rejected with status %d", resp.StatusCode)
	}

	return chatResp.Response, nil
}
