// Package config loads the client configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kamihq/kami/domain/repositories"
)

// Config represents the complete client configuration.
type Config struct {
	Backend Backend `yaml:"backend"`
	Audio   Audio   `yaml:"audio"`
	Wake    Wake    `yaml:"wake"`
	Speech  Speech  `yaml:"speech"`
	Metrics Metrics `yaml:"metrics"`
	Logging Logging `yaml:"logging"`
}

// Backend contains the assistant backend endpoints.
type Backend struct {
	ChatURL      string `yaml:"chat_url"`
	ControlWSURL string `yaml:"control_ws_url"`
	VoiceWSURL   string `yaml:"voice_ws_url"`
}

// Audio contains microphone capture and playback parameters.
type Audio struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	FrameSize  int `yaml:"frame_size"` // samples per capture frame
}

// Wake contains wake-word detection configuration.
type Wake struct {
	Enabled bool     `yaml:"enabled"`
	Phrases []string `yaml:"phrases"`
}

// Speech contains cloud speech recognition configuration.
type Speech struct {
	LanguageCode string `yaml:"language_code"`
}

// Metrics contains the Prometheus exposition endpoint configuration.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Logging contains logger configuration.
type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	audio := repositories.DefaultAudioConfig()
	return &Config{
		Backend: Backend{
			ChatURL:      "http://localhost:8080/api/chat",
			ControlWSURL: "ws://localhost:8080/ws",
			VoiceWSURL:   "ws://localhost:8080/api/voice/ws",
		},
		Audio: Audio{
			SampleRate: audio.SampleRate,
			Channels:   audio.Channels,
			FrameSize:  audio.FrameSize,
		},
		Wake: Wake{
			Enabled: true,
			Phrases: []string{"hey kami", "okay kami", "hi kami", "kami"},
		},
		Speech: Speech{
			LanguageCode: "en-US",
		},
		Metrics: Metrics{
			Enabled: false,
			Address: ":9102",
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the configuration file at path, applies environment
// overrides, and validates the result. An empty path skips the file and
// uses defaults plus environment.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// applyEnv overrides file values from KAMI_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("KAMI_CHAT_URL"); v != "" {
		c.Backend.ChatURL = v
	}
	if v := os.Getenv("KAMI_CONTROL_WS_URL"); v != "" {
		c.Backend.ControlWSURL = v
	}
	if v := os.Getenv("KAMI_VOICE_WS_URL"); v != "" {
		c.Backend.VoiceWSURL = v
	}
	if v := os.Getenv("KAMI_LANGUAGE_CODE"); v != "" {
		c.Speech.LanguageCode = v
	}
	if v := os.Getenv("KAMI_WAKE_PHRASES"); v != "" {
		phrases := strings.Split(v, ",")
		for i := range phrases {
			phrases[i] = strings.TrimSpace(phrases[i])
		}
		c.Wake.Phrases = phrases
	}
	if v := os.Getenv("KAMI_METRICS_ADDRESS"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.Address = v
	}
	if v := os.Getenv("KAMI_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate performs validation of the configuration.
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Wake.Validate(); err != nil {
		return fmt.Errorf("wake config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates backend endpoints.
func (b *Backend) Validate() error {
	if !strings.HasPrefix(b.ChatURL, "http://") && !strings.HasPrefix(b.ChatURL, "https://") {
		return fmt.Errorf("chat_url must be an http(s) URL, got '%s'", b.ChatURL)
	}

	if !strings.HasPrefix(b.ControlWSURL, "ws://") && !strings.HasPrefix(b.ControlWSURL, "wss://") {
		return fmt.Errorf("control_ws_url must be a ws(s) URL, got '%s'", b.ControlWSURL)
	}

	if !strings.HasPrefix(b.VoiceWSURL, "ws://") && !strings.HasPrefix(b.VoiceWSURL, "wss://") {
		return fmt.Errorf("voice_ws_url must be a ws(s) URL, got '%s'", b.VoiceWSURL)
	}

	return nil
}

// Validate validates audio parameters.
func (a *Audio) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.FrameSize < 256 || a.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 256 and 16384 samples, got %d", a.FrameSize)
	}

	return nil
}

// Validate validates wake-word configuration.
func (w *Wake) Validate() error {
	if !w.Enabled {
		return nil
	}

	if len(w.Phrases) == 0 {
		return fmt.Errorf("at least one wake phrase is required when wake is enabled")
	}

	for _, phrase := range w.Phrases {
		if strings.TrimSpace(phrase) == "" {
			return fmt.Errorf("wake phrases cannot be blank")
		}
	}

	return nil
}

// Validate validates the metrics endpoint configuration.
func (m *Metrics) Validate() error {
	if m.Enabled && m.Address == "" {
		return fmt.Errorf("metrics address cannot be empty when metrics are enabled")
	}

	return nil
}

// Validate validates logging configuration.
func (l *Logging) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	return nil
}

// AudioConfig converts the audio section to the capture device config.
func (c *Config) AudioConfig() repositories.AudioConfig {
	return repositories.AudioConfig{
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
		FrameSize:  c.Audio.FrameSize,
	}
}
