// Package llm provides reply generators for the development server's chat
// brain.
package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/kamihq/kami/domain/repositories"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultMaxTokens      = 1024
	defaultTimeoutSeconds = 30
)

const systemPrompt = "You are Kami, a friendly voice assistant. " +
	"Keep replies short and conversational; they may be spoken aloud."

// GeminiGenerator implements repositories.ReplyGenerator using Google's
// Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

// NewGeminiGenerator creates a Gemini-backed generator. It requires the
// GEMINI_API_KEY environment variable.
func NewGeminiGenerator(ctx context.Context, logger *zap.Logger) (*GeminiGenerator, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiGenerator{
		client: client,
		logger: logger,
		model:  defaultModel,
	}, nil
}

// Reply sends the conversation to Gemini and returns the generated turn.
func (g *GeminiGenerator) Reply(ctx context.Context, message string, history []repositories.ChatMessage) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+2)
	contents = append(contents, genai.NewContentFromText(systemPrompt, genai.RoleUser))

	for _, turn := range history {
		role := genai.Role(genai.RoleUser)
		if turn.Role == repositories.AssistantRole {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(defaultTemperature)),
		MaxOutputTokens: int32(defaultMaxTokens),
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeoutSeconds*time.Second)
	defer cancel()

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		g.logger.Error("Failed to generate reply", zap.Error(err))
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", fmt.Errorf("no content generated")
	}

	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		text += part.Text
	}
	if text == "" {
		return "", fmt.Errorf("empty reply generated")
	}

	g.logger.Info("Reply generated",
		zap.Int("history_length", len(history)),
		zap.Int("reply_length", len(text)))

	return text, nil
}
