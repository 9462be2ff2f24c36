// Package devserver is a development stand-in for the hosted assistant
// backend. It serves the same chat, control, and voice endpoints the
// production service exposes so the client can be developed and tested
// offline.
package devserver

import (
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kamihq/kami/domain/repositories"
	"github.com/kamihq/kami/internal/transport"
)

// Server wires the assistant emulation endpoints onto an echo instance.
type Server struct {
	hub        *Hub
	generator  repositories.ReplyGenerator
	sampleRate int
	logger     *zap.Logger

	mu      sync.Mutex
	history []repositories.ChatMessage
}

// New creates the development server. Run the hub before serving.
func New(generator repositories.ReplyGenerator, sampleRate int, logger *zap.Logger) *Server {
	return &Server{
		hub:        NewHub(logger),
		generator:  generator,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// Hub exposes the control hub so callers can start its loop and push
// envelopes.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Register installs all routes on the echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "kami-devserver",
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/api/chat", s.handleChat)

	e.GET("/ws", func(c echo.Context) error {
		return handleControlSocket(s.hub, c, s.logger)
	})

	e.GET("/api/voice/ws", func(c echo.Context) error {
		return handleVoiceSocket(c, s.hub, s.generator, s.sampleRate, s.logger)
	})
}

// handleChat serves one text exchange. Failures are reported in the
// response body, matching the hosted service's contract.
func (s *Server) handleChat(c echo.Context) error {
	var req transport.ChatRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("Failed to bind chat request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, transport.ChatResponse{
			Success: false,
			Error:   "invalid request format",
		})
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return c.JSON(http.StatusBadRequest, transport.ChatResponse{
			Success: false,
			Error:   "message is required",
		})
	}

	s.mu.Lock()
	history := make([]repositories.ChatMessage, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	reply, err := s.generator.Reply(c.Request().Context(), message, history)
	if err != nil {
		s.logger.Error("Reply generation failed", zap.Error(err))
		return c.JSON(http.StatusOK, transport.ChatResponse{
			Success: false,
			Error:   "failed to generate reply",
		})
	}

	s.mu.Lock()
	s.history = append(s.history,
		repositories.ChatMessage{Role: repositories.UserRole, Content: message},
		repositories.ChatMessage{Role: repositories.AssistantRole, Content: reply},
	)
	s.mu.Unlock()

	s.logger.Info("Chat exchange served",
		zap.Int("message_length", len(message)),
		zap.Int("reply_length", len(reply)))

	return c.JSON(http.StatusOK, transport.ChatResponse{
		Success:  true,
		Response: reply,
	})
}
