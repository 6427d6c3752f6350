package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/RichardoC/voz/internal/models"
	"github.com/RichardoC/voz/internal/title"
)

// DefaultMinDuration is the shortest call worth keeping in history.
const DefaultMinDuration = 10 * time.Second

// State is the call's position in disconnected → connecting →
// connected{listening, speaking} → ended.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateListening    State = "listening"
	StateSpeaking     State = "speaking"
	StateEnded        State = "ended"
)

// Connected reports whether the call is live.
func (s State) Connected() bool {
	return s == StateListening || s == StateSpeaking
}

// Conversations is the durable side of a call.
type Conversations interface {
	Create(initialTitle string) models.Summary
	Get(chatID string) (models.Summary, bool)
	Append(chatID string, role models.Role, text string) models.Message
	ListMessages(chatID string) []models.Message
	FinalizeDuration(chatID string, seconds int)
	Remove(chatID string)
}

// Recapper produces the spoken recap used when a conversation is resumed.
type Recapper interface {
	Recap(ctx context.Context, chat models.Summary, msgs []models.Message) (string, error)
}

type Options struct {
	AssistantID string
	// ChatID resumes an existing conversation; empty starts a new one.
	ChatID   string
	Resume   bool
	Captions bool
	// MinDuration below which a new conversation is discarded at end.
	MinDuration time.Duration
	Recapper    Recapper
	// Publish receives view updates; nil drops them.
	Publish func(Update)
	Now     func() time.Time
}

type commandKind int

const (
	cmdStart commandKind = iota + 1
	cmdEnd
	cmdMute
)

type command struct {
	kind  commandKind
	muted bool
}

// Call is the per-call context: it owns the reconciler and every at-most-once
// flag for one voice session. All state is touched only from Run.
type Call struct {
	voice  Voice
	convos Conversations
	logger *zap.Logger
	opts   Options

	rec      *Reconciler
	commands chan command
	done     chan struct{}

	chatID      string
	created     bool
	baseSec     int
	state       State
	createdAt   time.Time
	connectedAt time.Time
	hadActivity bool
	named       bool
	muted       bool
	recapSent   bool
	callEnded   bool
	finalized   bool
}

// NewCall prepares a call. A new conversation is created unless opts.ChatID
// names an existing one.
func NewCall(voice Voice, convos Conversations, logger *zap.Logger, opts Options) *Call {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinDuration <= 0 {
		opts.MinDuration = DefaultMinDuration
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	c := &Call{
		voice:    voice,
		convos:   convos,
		opts:     opts,
		rec:      NewReconciler(opts.Now),
		commands: make(chan command, 8),
		done:     make(chan struct{}),
		state:    StateDisconnected,
	}
	c.createdAt = opts.Now()

	if chat, ok := convos.Get(opts.ChatID); opts.ChatID != "" && ok {
		c.chatID = chat.ID
		c.baseSec = chat.DurationSec
		c.named = !title.IsPlaceholder(chat.Title)
	} else {
		chat := convos.Create("")
		c.chatID = chat.ID
		c.created = true
	}
	c.logger = logger.With(zap.String("chatID", c.chatID))
	return c
}

func (c *Call) ChatID() string { return c.chatID }

// Created reports whether this call started a new conversation.
func (c *Call) Created() bool { return c.created }

// Start asks the voice SDK to connect.
func (c *Call) Start() { c.enqueue(command{kind: cmdStart}) }

// End finalizes the call and stops the voice session. Duplicate end signals
// are harmless.
func (c *Call) End() { c.enqueue(command{kind: cmdEnd}) }

// SetMuted records the requested mute state and forwards it best effort.
func (c *Call) SetMuted(muted bool) { c.enqueue(command{kind: cmdMute, muted: muted}) }

// Done is closed when Run returns.
func (c *Call) Done() <-chan struct{} { return c.done }

func (c *Call) enqueue(cmd command) {
	select {
	case c.commands <- cmd:
	case <-c.done:
	}
}

// Run is the single reconciliation loop. It returns once the call has been
// finalized, the voice stream closes, or ctx is cancelled.
func (c *Call) Run(ctx context.Context) error {
	defer close(c.done)
	c.publish(Update{Type: UpdateState, ChatID: c.chatID, State: c.state})

	events := c.voice.Events()
	for !c.finalized {
		select {
		case <-ctx.Done():
			c.finalize()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				c.finalize()
				return nil
			}
			c.handle(ctx, ev)
		case cmd := <-c.commands:
			c.do(ctx, cmd)
		}
	}
	return nil
}

func (c *Call) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case KindCallStart:
		c.connectedAt = c.opts.Now()
		c.setState(StateListening)
		c.sendRecap(ctx)
	case KindCallEnd:
		c.callEnded = true
		c.finalize()
	case KindSpeechStart:
		c.hadActivity = true
		if c.state.Connected() {
			c.setState(StateSpeaking)
		}
	case KindSpeechEnd:
		if c.state.Connected() {
			c.setState(StateListening)
		}
		c.apply(ev)
	case KindTranscript:
		c.hadActivity = true
		c.apply(ev)
	case KindControl:
		switch ev.Action {
		case ActionStart:
			c.do(ctx, command{kind: cmdStart})
		case ActionEnd:
			c.do(ctx, command{kind: cmdEnd})
		case ActionMute, ActionUnmute:
			c.do(ctx, command{kind: cmdMute, muted: ev.Action == ActionMute})
		}
	}
}

func (c *Call) do(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdStart:
		if c.state != StateDisconnected {
			return
		}
		c.setState(StateConnecting)
		if err := c.voice.Start(ctx, c.opts.AssistantID); err != nil {
			c.logger.Error("failed to start voice session", zap.Error(err))
			c.setState(StateDisconnected)
		}
	case cmdEnd:
		c.finalize()
	case cmdMute:
		c.muted = cmd.muted
		if m, ok := c.voice.(Muter); ok {
			if err := m.SetMuted(cmd.muted); err != nil {
				c.logger.Warn("failed to set mute", zap.Bool("muted", cmd.muted), zap.Error(err))
			}
		} else {
			c.logger.Warn("voice session does not support mute", zap.Bool("muted", cmd.muted))
		}
		c.publish(Update{Type: UpdateState, ChatID: c.chatID, State: c.state, Muted: c.muted})
	}
}

func (c *Call) apply(ev Event) {
	before := c.rec.Live(ev.Role)
	if msg, ok := c.rec.Apply(ev); ok {
		c.commit(msg)
	}
	if live := c.rec.Live(ev.Role); c.opts.Captions && live != before {
		c.publish(Update{Type: UpdateLive, ChatID: c.chatID, Role: ev.Role, Text: live})
	}
}

func (c *Call) commit(m models.Message) {
	stored := c.convos.Append(c.chatID, m.Role, m.Text)
	c.publish(Update{Type: UpdateMessage, ChatID: c.chatID, Message: &stored})

	if c.named {
		return
	}
	if chat, ok := c.convos.Get(c.chatID); ok && !title.IsPlaceholder(chat.Title) {
		c.named = true
		c.logger.Info("conversation titled", zap.String("title", chat.Title))
		c.publish(Update{Type: UpdateTitle, ChatID: c.chatID, Title: chat.Title})
	}
}

// sendRecap replays a short summary once when resuming. Failures are ignored.
func (c *Call) sendRecap(ctx context.Context) {
	if !c.opts.Resume || c.created || c.recapSent || c.opts.Recapper == nil {
		return
	}
	c.recapSent = true

	chat, ok := c.convos.Get(c.chatID)
	msgs := c.convos.ListMessages(c.chatID)
	if !ok || len(msgs) == 0 {
		return
	}
	text, err := c.opts.Recapper.Recap(ctx, chat, msgs)
	if err != nil || text == "" {
		c.logger.Warn("recap unavailable", zap.Error(err))
		return
	}
	if err := c.voice.Send(ctx, NewSay(text)); err != nil {
		c.logger.Warn("failed to send recap", zap.Error(err))
	}
}

// finalize settles duration and retention exactly once and stops the voice
// session. New conversations with no voice activity or shorter than
// MinDuration are removed. Resumed conversations are never removed.
func (c *Call) finalize() {
	if c.finalized {
		return
	}
	c.finalized = true
	c.rec.Reset(true)

	start := c.createdAt
	if !c.connectedAt.IsZero() {
		start = c.connectedAt
	}
	elapsed := c.opts.Now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	seconds := int(elapsed / time.Second)

	retained := true
	switch {
	case c.created && (!c.hadActivity || elapsed < c.opts.MinDuration):
		c.convos.Remove(c.chatID)
		retained = false
		c.logger.Info("discarded short conversation",
			zap.Bool("activity", c.hadActivity), zap.Duration("elapsed", elapsed))
	case c.hadActivity:
		seconds += c.baseSec
		c.convos.FinalizeDuration(c.chatID, seconds)
	default:
		seconds = c.baseSec
	}

	if !c.callEnded {
		if err := c.voice.Stop(); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Warn("failed to stop voice session", zap.Error(err))
		}
	}

	c.setState(StateEnded)
	c.publish(Update{Type: UpdateEnded, ChatID: c.chatID, Retained: retained, DurationSec: seconds})
}

func (c *Call) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.publish(Update{Type: UpdateState, ChatID: c.chatID, State: s, Muted: c.muted})
}

func (c *Call) publish(u Update) {
	if c.opts.Publish != nil {
		c.opts.Publish(u)
	}
}
