package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kamihq/kami/adapters/device"
	"github.com/kamihq/kami/adapters/stt"
	"github.com/kamihq/kami/domain/entities"
	"github.com/kamihq/kami/internal/audio"
	"github.com/kamihq/kami/internal/config"
	"github.com/kamihq/kami/internal/metrics"
	"github.com/kamihq/kami/internal/session"
	"github.com/kamihq/kami/internal/transport"
	"github.com/kamihq/kami/internal/wakeword"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// Load .env before reading configuration
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kami: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Address, registry, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	capture := device.NewMalgoCapture(logger)
	sink := device.NewOtoSink(cfg.Audio.SampleRate, logger)
	player := audio.NewPlayer(sink, cfg.Audio.SampleRate, logger)

	dialVoice := func(ctx context.Context, handler func(transport.Envelope), onClosed func()) (session.VoiceConn, error) {
		return transport.DialVoice(ctx, cfg.Backend.VoiceWSURL, handler, onClosed, logger, m)
	}

	var coordinator *session.Coordinator
	control := transport.NewControlChannel(
		cfg.Backend.ControlWSURL,
		cfg.Backend.ChatURL,
		func(env transport.Envelope) { coordinator.HandleControlEnvelope(env) },
		func(connected bool) { coordinator.HandleControlState(connected) },
		logger,
		m,
	)

	coordinator = session.New(control, dialVoice, capture, player, cfg.AudioConfig(), logger, m)
	coordinator.AddObserver(newConsoleObserver())
	player.SetCallbacks(coordinator.HandlePlaybackStarted, coordinator.HandlePlaybackEnded)

	var wake *wakeword.Listener
	if cfg.Wake.Enabled {
		factory := stt.NewGoogleRecognizerFactory(capture, cfg.AudioConfig(), cfg.Speech.LanguageCode, logger)
		wake = wakeword.NewListener(
			factory,
			cfg.Wake.Phrases,
			coordinator.HandleWake,
			coordinator.HandleWakeState,
			coordinator.HandleWakePulse,
			logger,
			m,
		)
		coordinator.SetWakeListener(wake)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		control.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		coordinator.Run(ctx)
	}()

	if wake != nil {
		if err := wake.Start(); err != nil {
			logger.Warn("Wake word unavailable", zap.Error(err))
		}
	}

	go readCommands(coordinator, logger)

	logger.Info("Kami client started",
		zap.String("backend", cfg.Backend.ControlWSURL),
		zap.Bool("wake_enabled", cfg.Wake.Enabled))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	if wake != nil {
		wake.Stop()
	}
	cancel()
	wg.Wait()
	sink.Close()
	logger.Info("Client exited")
}

// readCommands turns stdin lines into session operations. Lines starting
// with a slash are commands; anything else is a chat message.
func readCommands(coordinator *session.Coordinator, logger *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "/voice":
			coordinator.StartVoice()
		case "/stop":
			coordinator.StopVoice()
		case "/mute":
			coordinator.ToggleMicrophone()
		default:
			coordinator.SendText(line)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("Stdin closed", zap.Error(err))
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("Metrics server stopped", zap.Error(err))
	}
}

func newLogger(cfg config.Logging) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

// consoleObserver renders session updates on the terminal.
type consoleObserver struct {
	out *os.File
}

func newConsoleObserver() *consoleObserver {
	return &consoleObserver{out: os.Stdout}
}

func (o *consoleObserver) TranscriptAppended(msg entities.Message) {
	prefix := "you"
	if msg.Role == entities.RoleAssistant {
		prefix = "kami"
	}
	fmt.Fprintf(o.out, "%s> %s\n", prefix, msg.Content)
}

func (o *consoleObserver) StatusChanged(status entities.Status) {
	fmt.Fprintf(o.out, "[%s]\n", status)
}

func (o *consoleObserver) NoticeRaised(notice entities.Notice) {
	fmt.Fprintf(o.out, "! %s\n", notice.Text)
}

func (o *consoleObserver) NoticeExpired(string) {}

func (o *consoleObserver) TypingChanged(visible bool) {
	if visible {
		fmt.Fprintln(o.out, "kami is typing...")
	}
}

func (o *consoleObserver) IndicatorsChanged(indicators entities.Indicators) {
	if indicators.MicMuted {
		fmt.Fprintln(o.out, "[mic muted]")
	}
}
