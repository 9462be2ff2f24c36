// Package metrics contains the Prometheus instrumentation for the client
// and the development server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the assistant session.
type Metrics struct {
	// Control channel metrics
	ControlReconnects prometheus.Counter
	ChatRequests      prometheus.Counter
	ChatFailures      prometheus.Counter

	// Voice channel metrics
	FramesSent      prometheus.Counter
	BytesSent       prometheus.Counter
	FramesDropped   prometheus.Counter
	VoiceSessions   prometheus.Counter
	PlaybackErrors  prometheus.Counter
	AudioResponses  prometheus.Counter

	// Session metrics
	NoticesRaised prometheus.Counter
	WakeTriggers  prometheus.Counter
	ActiveVoice   prometheus.Gauge
}

// New creates and registers all metrics on the given registerer. Binaries
// pass prometheus.DefaultRegisterer; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ControlReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "kami_control_reconnects_total",
			Help: "Total number of control channel reconnect attempts",
		}),
		ChatRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "kami_chat_requests_total",
			Help: "Total number of text chat requests issued",
		}),
		ChatFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kami_chat_failures_total",
			Help: "Total number of failed text chat requests",
		}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "kami_voice_frames_sent_total",
			Help: "Total number of PCM frames streamed on the voice channel",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "kami_voice_bytes_sent_total",
			Help: "Total PCM bytes streamed on the voice channel",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "kami_voice_frames_dropped_total",
			Help: "Total number of frames dropped because the send queue was full",
		}),
		VoiceSessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "kami_voice_sessions_total",
			Help: "Total number of voice sessions started",
		}),
		PlaybackErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "kami_playback_errors_total",
			Help: "Total number of assistant audio payloads that failed to decode or play",
		}),
		AudioResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "kami_audio_responses_total",
			Help: "Total number of assistant audio payloads received",
		}),
		NoticesRaised: factory.NewCounter(prometheus.CounterOpts{
			Name: "kami_notices_raised_total",
			Help: "Total number of transient notices shown to the user",
		}),
		WakeTriggers: factory.NewCounter(prometheus.CounterOpts{
			Name: "kami_wake_triggers_total",
			Help: "Total number of wake phrase detections",
		}),
		ActiveVoice: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kami_voice_active",
			Help: "Whether a voice session is currently active (0 or 1)",
		}),
	}
}
