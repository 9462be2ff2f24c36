package wakeword

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kamihq/kami/adapters/stt"
	"github.com/kamihq/kami/domain/repositories"
	"github.com/kamihq/kami/internal/metrics"
)

func TestMatches(t *testing.T) {
	phrases := DefaultPhrases()

	tests := []struct {
		utterance string
		want      bool
	}{
		{"Hey Kami, what's up", true},
		{"hey kami", true},
		{"HEY KAMI", true},
		{"okay Kami please", true},
		{"kamisutra", true}, // substring match, no word boundary
		{"hello there", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := Matches(tt.utterance, phrases); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.utterance, got, tt.want)
		}
	}
}

type listenerHarness struct {
	listener   *Listener
	recognizer chan *stt.MockRecognizer
	wakes      chan struct{}
	states     chan State
	pulses     chan bool
}

func newHarness(t *testing.T) *listenerHarness {
	t.Helper()
	h := &listenerHarness{
		recognizer: make(chan *stt.MockRecognizer, 8),
		wakes:      make(chan struct{}, 8),
		states:     make(chan State, 8),
		pulses:     make(chan bool, 8),
	}

	factory := stt.NewMockRecognizerFactory(zap.NewNop(), func(r *stt.MockRecognizer) {
		h.recognizer <- r
	})

	h.listener = NewListener(
		factory, nil,
		func() { h.wakes <- struct{}{} },
		func(s State) { h.states <- s },
		func(active bool) { h.pulses <- active },
		zap.NewNop(),
		metrics.New(prometheus.NewRegistry()),
	)
	return h
}

func (h *listenerHarness) currentRecognizer(t *testing.T) *stt.MockRecognizer {
	t.Helper()
	select {
	case r := <-h.recognizer:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a recognizer to be created")
		return nil
	}
}

func (h *listenerHarness) expectState(t *testing.T, want State) {
	t.Helper()
	select {
	case got := <-h.states:
		if got != want {
			t.Fatalf("Expected state %s, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for state %s", want)
	}
}

func TestListenerTriggersOnFinalMatch(t *testing.T) {
	h := newHarness(t)

	if err := h.listener.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.expectState(t, StateListening)

	r := h.currentRecognizer(t)
	r.Emit("interim kami fragment", false) // interim, must be ignored
	r.Emit("Hey Kami, are you there", true)

	select {
	case <-h.wakes:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a wake event")
	}

	select {
	case <-h.wakes:
		t.Fatal("Interim result must not raise a wake event")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case active := <-h.pulses:
		if !active {
			t.Error("Expected pulse on")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected triggered pulse")
	}
}

func TestListenerStartIsIdempotent(t *testing.T) {
	h := newHarness(t)

	if err := h.listener.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.currentRecognizer(t)

	if err := h.listener.Start(); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}

	select {
	case <-h.recognizer:
		t.Fatal("Second start must not create another recognizer")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestListenerMuteUnmute(t *testing.T) {
	h := newHarness(t)

	if err := h.listener.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.expectState(t, StateListening)
	first := h.currentRecognizer(t)

	h.listener.Mute()
	h.expectState(t, StateMuted)

	// The muted recognizer is closed; emits are dropped and no wake fires.
	first.Emit("hey kami", true)
	select {
	case <-h.wakes:
		t.Fatal("Muted listener must not raise wake events")
	case <-time.After(200 * time.Millisecond):
	}

	if err := h.listener.Unmute(); err != nil {
		t.Fatalf("Unmute failed: %v", err)
	}
	h.expectState(t, StateListening)

	second := h.currentRecognizer(t)
	second.Emit("hey kami", true)
	select {
	case <-h.wakes:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected wake after unmute")
	}
}

func TestListenerMuteDropsInFlightResult(t *testing.T) {
	recognizers := make(chan *stt.MockRecognizer, 2)
	factory := stt.NewMockRecognizerFactory(zap.NewNop(), func(r *stt.MockRecognizer) {
		recognizers <- r
	})

	// The first wake parks the consume goroutine so a second final result
	// can be queued behind it before the mute lands.
	var wakes atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	l := NewListener(factory, nil,
		func() {
			if wakes.Add(1) == 1 {
				close(entered)
				<-release
			}
		},
		nil, nil,
		zap.NewNop(), metrics.New(prometheus.NewRegistry()))

	if err := l.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var r *stt.MockRecognizer
	select {
	case r = <-recognizers:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a recognizer")
	}

	r.Emit("hey kami", true)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the first wake event")
	}

	// Queue another matching result, then mute while the first wake is
	// still in flight. The queued result must be dropped, not fired.
	r.Emit("hey kami again", true)
	l.Mute()
	close(release)

	time.Sleep(300 * time.Millisecond)
	if got := wakes.Load(); got != 1 {
		t.Fatalf("Expected exactly 1 wake across the mute, got %d", got)
	}
	if l.State() != StateMuted {
		t.Errorf("Expected muted, got %s", l.State())
	}
}

func TestListenerSelfHealsAfterStreamEnd(t *testing.T) {
	h := newHarness(t)

	if err := h.listener.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := h.currentRecognizer(t)

	first.EndStream()

	// A fresh recognizer appears after the fixed restart delay.
	select {
	case <-h.recognizer:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected a restart recognizer")
	}

	if h.listener.State() != StateListening {
		t.Errorf("Expected listening after self-heal, got %s", h.listener.State())
	}
}

func TestListenerStopSuppressesRestart(t *testing.T) {
	h := newHarness(t)

	if err := h.listener.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := h.currentRecognizer(t)

	h.listener.Stop()
	first.EndStream()

	select {
	case <-h.recognizer:
		t.Fatal("Stopped listener must not restart")
	case <-time.After(1500 * time.Millisecond):
	}

	if h.listener.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", h.listener.State())
	}
}

func TestListenerUnavailableFacility(t *testing.T) {
	factory := func() (repositories.SpeechRecognizer, error) {
		return nil, repositories.ErrNotSupported
	}

	states := make(chan State, 4)
	l := NewListener(factory, nil, nil,
		func(s State) { states <- s }, nil,
		zap.NewNop(), metrics.New(prometheus.NewRegistry()))

	if err := l.Start(); !errors.Is(err, repositories.ErrNotSupported) {
		t.Fatalf("Expected ErrNotSupported, got %v", err)
	}

	select {
	case got := <-states:
		if got != StateUnavailable {
			t.Fatalf("Expected unavailable state, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected state change to unavailable")
	}

	// Permanent: further starts fail without probing again.
	if err := l.Start(); !errors.Is(err, repositories.ErrNotSupported) {
		t.Errorf("Expected permanent ErrNotSupported, got %v", err)
	}
}
