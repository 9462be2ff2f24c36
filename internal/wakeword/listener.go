// Package wakeword runs the continuous local speech-trigger loop. It is
// fully independent of the remote session: recognition happens on-device
// and only a wake signal crosses into the session coordinator.
package wakeword

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kamihq/kami/domain/repositories"
	"github.com/kamihq/kami/internal/metrics"
)

// State represents the listener lifecycle.
type State string

const (
	StateStopped     State = "stopped"
	StateListening   State = "listening"
	StateMuted       State = "muted"
	StateUnavailable State = "unavailable"
)

const (
	// restartDelay is the fixed wait before re-arming after the
	// recognition stream ends unexpectedly.
	restartDelay = 1 * time.Second

	// pulseDuration is how long the triggered indicator stays lit.
	pulseDuration = 3 * time.Second
)

// DefaultPhrases are the trigger variants matched against final results.
func DefaultPhrases() []string {
	return []string{"hey kami", "okay kami", "hi kami", "kami"}
}

// Matches reports whether an utterance contains any trigger phrase.
// Case-insensitive substring match: no word-boundary enforcement, so a
// longer word containing a phrase also matches.
func Matches(utterance string, phrases []string) bool {
	lowered := strings.ToLower(utterance)
	for _, phrase := range phrases {
		if phrase != "" && strings.Contains(lowered, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// Listener is the restartable speech-trigger state machine.
type Listener struct {
	factory repositories.RecognizerFactory
	phrases []string

	// onWake fires on every trigger phrase detection.
	onWake func()

	// onState reports lifecycle transitions for the UI indicator.
	onState func(State)

	// onPulse reports the 3s triggered display pulse.
	onPulse func(active bool)

	logger  *zap.Logger
	metrics *metrics.Metrics

	mu           sync.Mutex
	state        State
	recognizer   repositories.SpeechRecognizer
	cancel       context.CancelFunc
	run          uint64 // generation token; stale stream endings are dropped
	restartTimer *time.Timer
	pulseTimer   *time.Timer
}

// NewListener creates a stopped listener. Callbacks may be nil; they are
// invoked from listener goroutines and must not call back into the listener.
func NewListener(
	factory repositories.RecognizerFactory,
	phrases []string,
	onWake func(),
	onState func(State),
	onPulse func(active bool),
	logger *zap.Logger,
	m *metrics.Metrics,
) *Listener {
	if len(phrases) == 0 {
		phrases = DefaultPhrases()
	}
	return &Listener{
		factory: factory,
		phrases: phrases,
		onWake:  onWake,
		onState: onState,
		onPulse: onPulse,
		logger:  logger,
		metrics: m,
		state:   StateStopped,
	}
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start arms the listener. If the platform has no speech-trigger facility
// the listener disables itself permanently and reports StateUnavailable
// instead of failing.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateListening, StateMuted:
		return nil
	case StateUnavailable:
		return repositories.ErrNotSupported
	}

	return l.startLocked()
}

// startLocked begins a recognition run. Caller holds the mutex.
func (l *Listener) startLocked() error {
	recognizer, err := l.factory()
	if err != nil {
		if errors.Is(err, repositories.ErrNotSupported) {
			l.logger.Warn("Speech trigger facility unavailable, wake word disabled")
			l.setStateLocked(StateUnavailable)
			return err
		}
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	results, err := recognizer.Start(ctx)
	if err != nil {
		cancel()
		recognizer.Close()
		return err
	}

	l.recognizer = recognizer
	l.cancel = cancel
	l.run++
	run := l.run
	l.setStateLocked(StateListening)

	go l.consume(run, results)
	return nil
}

// consume processes recognition results for one run and schedules the
// self-heal restart when the stream ends while still armed.
func (l *Listener) consume(run uint64, results <-chan repositories.RecognitionResult) {
	for result := range results {
		if !result.Final {
			// Interim partials are never evaluated.
			continue
		}
		if Matches(result.Text, l.phrases) {
			l.trigger(run, result.Text)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if run != l.run || l.state != StateListening {
		// A manual stop, mute, or newer run already superseded this one.
		return
	}

	l.logger.Warn("Recognition stream ended unexpectedly, scheduling restart",
		zap.Duration("delay", restartDelay))
	l.scheduleRestartLocked(run)
}

// scheduleRestartLocked arms the singular restart timer. Caller holds the
// mutex. A pending timer is replaced, never stacked.
func (l *Listener) scheduleRestartLocked(run uint64) {
	if l.restartTimer != nil {
		l.restartTimer.Stop()
	}
	l.restartTimer = time.AfterFunc(restartDelay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if run != l.run || l.state != StateListening {
			return
		}
		if err := l.startLocked(); err != nil {
			// Most likely a race with a manual stop; swallowed.
			l.logger.Warn("Wake word restart failed", zap.Error(err))
		}
	})
}

// trigger raises the wake event and lights the 3s display pulse,
// cancel-and-replace on repeated triggers inside the window. The run token
// guards results still in flight when a mute or stop lands: a superseded
// run drops the result instead of firing.
func (l *Listener) trigger(run uint64, utterance string) {
	l.mu.Lock()
	if run != l.run || l.state != StateListening {
		l.mu.Unlock()
		l.logger.Debug("Dropping stale wake result", zap.String("utterance", utterance))
		return
	}

	l.logger.Info("Wake phrase detected", zap.String("utterance", utterance))
	l.metrics.WakeTriggers.Inc()

	if l.pulseTimer != nil {
		l.pulseTimer.Stop()
	}
	if l.onPulse != nil {
		l.onPulse(true)
	}
	l.pulseTimer = time.AfterFunc(pulseDuration, func() {
		if l.onPulse != nil {
			l.onPulse(false)
		}
	})
	l.mu.Unlock()

	if l.onWake != nil {
		l.onWake()
	}
}

// Mute suspends listening without tearing the listener down.
func (l *Listener) Mute() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateListening {
		return
	}

	l.stopRecognitionLocked()
	l.setStateLocked(StateMuted)
}

// Unmute re-arms immediately from the muted state.
func (l *Listener) Unmute() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateMuted {
		return nil
	}

	return l.startLocked()
}

// Stop fully stops the listener and its timers.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateStopped || l.state == StateUnavailable {
		return
	}

	l.stopRecognitionLocked()
	if l.pulseTimer != nil {
		l.pulseTimer.Stop()
	}
	l.setStateLocked(StateStopped)
}

// stopRecognitionLocked cancels the active run and the pending restart.
// Caller holds the mutex.
func (l *Listener) stopRecognitionLocked() {
	l.run++
	if l.restartTimer != nil {
		l.restartTimer.Stop()
		l.restartTimer = nil
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.recognizer != nil {
		l.recognizer.Close()
		l.recognizer = nil
	}
}

func (l *Listener) setStateLocked(state State) {
	if l.state == state {
		return
	}
	l.state = state
	if l.onState != nil {
		l.onState(state)
	}
}
