package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RichardoC/voz/internal/db"
	"github.com/RichardoC/voz/internal/models"
	"github.com/RichardoC/voz/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeVoice struct {
	events   chan Event
	starts   []string
	stops    int
	said     []Say
	muted    []bool
	muteErr  error
	stopErr  error
	startErr error
}

func newFakeVoice() *fakeVoice { return &fakeVoice{events: make(chan Event, 16)} }

func (v *fakeVoice) Events() <-chan Event { return v.events }
func (v *fakeVoice) Start(_ context.Context, id string) error {
	v.starts = append(v.starts, id)
	return v.startErr
}
func (v *fakeVoice) Stop() error {
	v.stops++
	return v.stopErr
}
func (v *fakeVoice) Send(_ context.Context, s Say) error {
	v.said = append(v.said, s)
	return nil
}
func (v *fakeVoice) SetMuted(m bool) error {
	v.muted = append(v.muted, m)
	return v.muteErr
}

// countingStore records durable side effects.
type countingStore struct {
	*store.Store
	finalized int
	removed   int
}

func (s *countingStore) FinalizeDuration(id string, sec int) {
	s.finalized++
	s.Store.FinalizeDuration(id, sec)
}

func (s *countingStore) Remove(id string) {
	s.removed++
	s.Store.Remove(id)
}

type staticRecap string

func (r staticRecap) Recap(context.Context, models.Summary, []models.Message) (string, error) {
	if r == "" {
		return "", errors.New("no recap")
	}
	return string(r), nil
}

type harness struct {
	clock   *fakeClock
	voice   *fakeVoice
	store   *countingStore
	updates []Update
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newFakeClock()
	return &harness{
		clock: clock,
		voice: newFakeVoice(),
		store: &countingStore{Store: store.New(db.NewMemory(), zap.NewNop(), store.WithClock(clock.Now))},
	}
}

func (h *harness) call(opts Options) *Call {
	opts.Now = h.clock.Now
	opts.Publish = func(u Update) { h.updates = append(h.updates, u) }
	return NewCall(h.voice, h.store, zap.NewNop(), opts)
}

func (h *harness) ofType(typ string) []Update {
	var out []Update
	for _, u := range h.updates {
		if u.Type == typ {
			out = append(out, u)
		}
	}
	return out
}

func feed(c *Call, events ...Event) {
	for _, ev := range events {
		c.handle(context.Background(), ev)
	}
}

func userFinal(text string) Event {
	return Event{Kind: KindTranscript, Role: models.RoleUser, Text: text, Final: true}
}

func assistantPartial(text string) Event {
	return Event{Kind: KindTranscript, Role: models.RoleAssistant, Text: text}
}

var endControl = Event{Kind: KindControl, Action: ActionEnd}

func TestCall_RetainsActiveConversation(t *testing.T) {
	h := newHarness(t)
	c := h.call(Options{AssistantID: "asst-1"})
	require.True(t, c.Created())

	feed(c, Event{Kind: KindControl, Action: ActionStart})
	assert.Equal(t, []string{"asst-1"}, h.voice.starts)
	assert.Equal(t, StateConnecting, c.state)

	feed(c,
		Event{Kind: KindCallStart},
		userFinal("What's the weather in Boston?"),
		Event{Kind: KindSpeechStart, Role: models.RoleAssistant},
		assistantPartial("It is sunny"),
		assistantPartial("It is sunny today."),
		Event{Kind: KindSpeechEnd, Role: models.RoleAssistant},
		Event{Kind: KindTranscript, Role: models.RoleAssistant, Text: "It is sunny today.", Final: true},
	)
	h.clock.Advance(15 * time.Second)
	feed(c, endControl)

	chat, ok := h.store.Get(c.ChatID())
	require.True(t, ok)
	assert.Equal(t, 15, chat.DurationSec)
	assert.Equal(t, "Weather in Boston", chat.Title)
	assert.Equal(t, "It is sunny today.", chat.LastMessagePreview)

	msgs := h.store.ListMessages(c.ChatID())
	require.Len(t, msgs, 2)
	assert.Equal(t, "What's the weather in Boston?", msgs[0].Text)
	assert.Equal(t, "It is sunny today.", msgs[1].Text)

	assert.Equal(t, 1, h.voice.stops)
	assert.Equal(t, StateEnded, c.state)
	ended := h.ofType(UpdateEnded)
	require.Len(t, ended, 1)
	assert.True(t, ended[0].Retained)
}

func TestCall_DiscardsSilentConversation(t *testing.T) {
	h := newHarness(t)
	c := h.call(Options{})

	feed(c, Event{Kind: KindCallStart})
	h.clock.Advance(time.Minute)
	feed(c, Event{Kind: KindCallEnd})

	_, ok := h.store.Get(c.ChatID())
	assert.False(t, ok)
	assert.Empty(t, h.store.List())
	assert.Zero(t, h.voice.stops, "upstream already ended the call")
}

func TestCall_DiscardsShortConversation(t *testing.T) {
	h := newHarness(t)
	c := h.call(Options{})

	feed(c, Event{Kind: KindCallStart}, userFinal("hello"))
	h.clock.Advance(9 * time.Second)
	feed(c, endControl)

	assert.Empty(t, h.store.List())
	assert.Empty(t, h.store.ListMessages(c.ChatID()))
	ended := h.ofType(UpdateEnded)
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Retained)
}

func TestCall_ThresholdIsInclusive(t *testing.T) {
	h := newHarness(t)
	c := h.call(Options{})

	feed(c, Event{Kind: KindCallStart}, Event{Kind: KindSpeechStart, Role: models.RoleAssistant})
	h.clock.Advance(DefaultMinDuration)
	feed(c, endControl)

	chat, ok := h.store.Get(c.ChatID())
	require.True(t, ok)
	assert.Equal(t, 10, chat.DurationSec)
}

func TestCall_FinalizeExactlyOnce(t *testing.T) {
	h := newHarness(t)
	c := h.call(Options{})

	feed(c, Event{Kind: KindCallStart}, userFinal("Plan a trip to Japan"))
	h.clock.Advance(20 * time.Second)

	c.finalize()
	h.clock.Advance(20 * time.Second)
	c.finalize()
	feed(c, Event{Kind: KindCallEnd}, endControl)

	assert.Equal(t, 1, h.store.finalized)
	assert.Zero(t, h.store.removed)
	assert.Equal(t, 1, h.voice.stops)
	chat, _ := h.store.Get(c.ChatID())
	assert.Equal(t, 20, chat.DurationSec)
	assert.Len(t, h.ofType(UpdateEnded), 1)
}

func TestCall_ResumeSendsRecapAndAccumulates(t *testing.T) {
	h := newHarness(t)
	prior := h.store.Create("")
	h.store.Append(prior.ID, models.RoleUser, "Tell me about jazz history")
	h.store.FinalizeDuration(prior.ID, 30)

	c := h.call(Options{ChatID: prior.ID, Resume: true, Recapper: staticRecap("Last time we talked about jazz.")})
	require.False(t, c.Created())
	assert.Equal(t, prior.ID, c.ChatID())

	feed(c, Event{Kind: KindCallStart}, Event{Kind: KindCallStart})
	require.Len(t, h.voice.said, 1)
	assert.Equal(t, NewSay("Last time we talked about jazz."), h.voice.said[0])

	feed(c, userFinal("What about bebop?"))
	h.clock.Advance(12 * time.Second)
	feed(c, endControl)

	chat, ok := h.store.Get(prior.ID)
	require.True(t, ok)
	assert.Equal(t, 42, chat.DurationSec)
	assert.Equal(t, "Jazz History", chat.Title)
	assert.Len(t, h.store.ListMessages(prior.ID), 2)
}

func TestCall_ResumeWithoutActivityKeepsConversation(t *testing.T) {
	h := newHarness(t)
	prior := h.store.Create("")
	h.store.Append(prior.ID, models.RoleUser, "Tell me about jazz history")
	h.store.FinalizeDuration(prior.ID, 30)

	c := h.call(Options{ChatID: prior.ID, Resume: true, Recapper: staticRecap("")})
	feed(c, Event{Kind: KindCallStart})
	assert.Empty(t, h.voice.said, "failed recap is skipped")
	h.clock.Advance(2 * time.Second)
	feed(c, endControl)

	chat, ok := h.store.Get(prior.ID)
	require.True(t, ok)
	assert.Equal(t, 30, chat.DurationSec)
	assert.Zero(t, h.store.removed)
}

func TestCall_UnknownChatIDStartsNew(t *testing.T) {
	h := newHarness(t)
	c := h.call(Options{ChatID: "missing", Resume: true})
	assert.True(t, c.Created())
	assert.NotEqual(t, "missing", c.ChatID())
}

func TestCall_MuteIsBestEffort(t *testing.T) {
	h := newHarness(t)
	h.voice.muteErr = errors.New("no mic")
	c := h.call(Options{})

	feed(c, Event{Kind: KindControl, Action: ActionMute})
	assert.Equal(t, []bool{true}, h.voice.muted)
	assert.True(t, c.muted)

	states := h.ofType(UpdateState)
	require.NotEmpty(t, states)
	assert.True(t, states[len(states)-1].Muted)

	feed(c, Event{Kind: KindControl, Action: ActionUnmute})
	assert.False(t, c.muted)
}

func TestCall_StartFailureReturnsToDisconnected(t *testing.T) {
	h := newHarness(t)
	h.voice.startErr = errors.New("network down")
	c := h.call(Options{})

	feed(c, Event{Kind: KindControl, Action: ActionStart})
	assert.Equal(t, StateDisconnected, c.state)
}

func TestCall_StopErrorDuringTeardownIgnored(t *testing.T) {
	h := newHarness(t)
	h.voice.stopErr = errors.New("already gone")
	c := h.call(Options{})

	feed(c, Event{Kind: KindCallStart}, userFinal("a long enough chat"))
	h.clock.Advance(time.Minute)
	feed(c, endControl)

	assert.True(t, c.finalized)
	_, ok := h.store.Get(c.ChatID())
	assert.True(t, ok)
}

func TestCall_CaptionsToggle(t *testing.T) {
	h := newHarness(t)
	c := h.call(Options{Captions: true})
	feed(c, Event{Kind: KindCallStart}, assistantPartial("It is"), assistantPartial("It is"), assistantPartial("It is warm"))

	live := h.ofType(UpdateLive)
	require.Len(t, live, 2)
	assert.Equal(t, "It is warm", live[1].Text)

	h2 := newHarness(t)
	c2 := h2.call(Options{})
	feed(c2, Event{Kind: KindCallStart}, assistantPartial("It is"))
	assert.Empty(t, h2.ofType(UpdateLive))
}

func TestCall_TitlePublishedOnce(t *testing.T) {
	h := newHarness(t)
	c := h.call(Options{})
	feed(c,
		Event{Kind: KindCallStart},
		userFinal("Can you tell me about the history of Rome"),
		userFinal("And Carthage too"),
	)

	titles := h.ofType(UpdateTitle)
	require.Len(t, titles, 1)
	assert.Equal(t, "History of Rome", titles[0].Title)
	assert.Len(t, h.ofType(UpdateMessage), 2)
}

func TestCall_StateMachine(t *testing.T) {
	h := newHarness(t)
	c := h.call(Options{})
	assert.Equal(t, StateDisconnected, c.state)

	feed(c, Event{Kind: KindControl, Action: ActionStart})
	assert.Equal(t, StateConnecting, c.state)
	feed(c, Event{Kind: KindCallStart})
	assert.Equal(t, StateListening, c.state)
	feed(c, Event{Kind: KindSpeechStart, Role: models.RoleAssistant})
	assert.Equal(t, StateSpeaking, c.state)
	feed(c, Event{Kind: KindSpeechEnd, Role: models.RoleAssistant})
	assert.Equal(t, StateListening, c.state)
	feed(c, Event{Kind: KindCallEnd})
	assert.Equal(t, StateEnded, c.state)
}

func TestCall_RunWithFeed(t *testing.T) {
	h := newHarness(t)
	f := NewFeed(16, nil)
	c := NewCall(f, h.store, zap.NewNop(), Options{Now: h.clock.Now})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()

	require.True(t, f.Push(Event{Kind: KindCallStart}))
	require.True(t, f.Push(userFinal("Explain quantum computing")))
	require.True(t, f.Push(Event{Kind: KindSpeechStart, Role: models.RoleAssistant}))
	require.True(t, f.Push(assistantPartial("Quantum computers use qubits.")))
	require.True(t, f.Push(Event{Kind: KindSpeechEnd, Role: models.RoleAssistant}))
	f.Close()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the feed closed")
	}
	<-c.Done()

	// the fake clock never advanced, so the new conversation is too short to keep
	assert.Empty(t, h.store.List())
	c.End() // after Run has returned this must not block
}

func TestCall_RunCancelled(t *testing.T) {
	h := newHarness(t)
	c := NewCall(h.voice, h.store, zap.NewNop(), Options{Now: h.clock.Now})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCall_RunWithSimulator(t *testing.T) {
	st := store.New(db.NewMemory(), zap.NewNop())
	sim := NewSimulator(5*time.Millisecond, DemoScript())

	messages := make(chan models.Message, 32)
	c := NewCall(sim, st, zap.NewNop(), Options{
		MinDuration: time.Nanosecond,
		Publish: func(u Update) {
			if u.Type == UpdateMessage {
				messages <- *u.Message
			}
		},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()
	c.Start()

	for i := 0; i < 3; i++ {
		select {
		case <-messages:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for message %d", i+1)
		}
	}
	c.End()
	require.NoError(t, <-errCh)

	var got []string
	for _, m := range st.ListMessages(c.ChatID()) {
		got = append(got, m.Text)
	}
	assert.Equal(t, []string{
		"What's the weather in Boston?",
		"It looks sunny in Boston today.",
		"Great, thanks!",
	}, got)
	chat, ok := st.Get(c.ChatID())
	require.True(t, ok)
	assert.Equal(t, "Weather in Boston", chat.Title)
}
