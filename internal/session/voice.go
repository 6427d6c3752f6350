package session

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by voice operations after the voice has shut down.
var ErrClosed = errors.New("session: voice closed")

// Voice is the hosted voice SDK as seen by a call: control methods plus a
// stream of lifecycle and transcript events.
type Voice interface {
	Start(ctx context.Context, assistantID string) error
	Stop() error
	Send(ctx context.Context, msg Say) error
	Events() <-chan Event
}

// Muter is implemented by voices that support muting the microphone.
type Muter interface {
	SetMuted(muted bool) error
}

// Feed is a Voice whose events are pushed in by the caller, e.g. frames read
// from the page bridge or lines from a recorded session. Commands go to send;
// a nil send drops them.
type Feed struct {
	events chan Event
	done   chan struct{}
	send   func(Command) error

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func NewFeed(buffer int, send func(Command) error) *Feed {
	return &Feed{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		send:   send,
	}
}

// Push delivers ev to the call. It blocks while the buffer is full and
// reports false once the feed is closed.
func (f *Feed) Push(ev Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.events <- ev:
		return true
	case <-f.done:
		return false
	}
}

// Close ends the event stream. It is safe to call more than once.
func (f *Feed) Close() {
	f.once.Do(func() {
		close(f.done)
		f.mu.Lock()
		f.closed = true
		close(f.events)
		f.mu.Unlock()
	})
}

func (f *Feed) Events() <-chan Event { return f.events }

func (f *Feed) Start(_ context.Context, assistantID string) error {
	return f.command(Command{Command: "start", AssistantID: assistantID})
}

func (f *Feed) Stop() error {
	return f.command(Command{Command: "stop"})
}

func (f *Feed) SetMuted(muted bool) error {
	return f.command(Command{Command: "setMuted", Muted: &muted})
}

func (f *Feed) Send(_ context.Context, msg Say) error {
	return f.command(Command{Command: "say", Message: &msg})
}

func (f *Feed) command(cmd Command) error {
	if f.send == nil {
		return nil
	}
	select {
	case <-f.done:
		return ErrClosed
	default:
	}
	cmd.Type = "command"
	return f.send(cmd)
}
