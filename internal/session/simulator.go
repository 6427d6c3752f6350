package session

import (
	"context"
	"sync"
	"time"

	"github.com/RichardoC/voz/internal/models"
)

// Simulator stands in for the voice SDK in design mode. It connects
// immediately, toggles assistant speech on a fixed interval and optionally
// plays a scripted transcript, one event per tick.
type Simulator struct {
	interval time.Duration
	script   []Event
	events   chan Event

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewSimulator(interval time.Duration, script []Event) *Simulator {
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	return &Simulator{
		interval: interval,
		script:   script,
		events:   make(chan Event, 64),
	}
}

func (s *Simulator) Events() <-chan Event { return s.events }

func (s *Simulator) Start(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stop)
	return nil
}

// Stop halts the simulation and emits call-end.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	select {
	case s.events <- Event{Kind: KindCallEnd}:
	default:
	}
	return nil
}

// SetMuted is accepted and ignored; there is no microphone to mute.
func (s *Simulator) SetMuted(bool) error { return nil }

func (s *Simulator) Send(context.Context, Say) error { return nil }

func (s *Simulator) loop(stop <-chan struct{}) {
	defer s.wg.Done()
	if !s.emit(stop, Event{Kind: KindCallStart}) {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	speaking := false
	next := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			kind := KindSpeechStart
			if speaking {
				kind = KindSpeechEnd
			}
			speaking = !speaking
			if !s.emit(stop, Event{Kind: kind, Role: models.RoleAssistant}) {
				return
			}
			if next < len(s.script) {
				if !s.emit(stop, s.script[next]) {
					return
				}
				next++
			}
		}
	}
}

// DemoScript is a short exchange played in design mode so captions and
// committed messages have something to show.
func DemoScript() []Event {
	return []Event{
		{Kind: KindTranscript, Role: models.RoleUser, Text: "What's the weather in Boston?", Final: true},
		{Kind: KindTranscript, Role: models.RoleAssistant, Text: "It looks sunny"},
		{Kind: KindTranscript, Role: models.RoleAssistant, Text: "It looks sunny in Boston today."},
		{Kind: KindTranscript, Role: models.RoleUser, Text: "Great, thanks!", Final: true},
	}
}

func (s *Simulator) emit(stop <-chan struct{}, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-stop:
		return false
	}
}
