package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RichardoC/voz/internal/models"
)

// Reconciler turns partial and final transcript fragments into one live
// buffer per speaker plus an ordered list of committed messages.
//
// Duplicate commits are detected by exact role and text against the last
// committed message only; upstream utterance ids are not reliable enough to
// key on.
type Reconciler struct {
	live      map[models.Role]string
	committed []models.Message
	now       func() time.Time
}

func NewReconciler(now func() time.Time) *Reconciler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{live: map[models.Role]string{}, now: now}
}

// Apply routes a transcript or speech-end event. It returns the newly
// committed message, if any.
func (r *Reconciler) Apply(ev Event) (models.Message, bool) {
	switch ev.Kind {
	case KindTranscript:
		if ev.Final {
			return r.Final(ev.Role, ev.Text)
		}
		r.Partial(ev.Role, ev.Text)
	case KindSpeechEnd:
		return r.SpeechEnd(ev.Role)
	}
	return models.Message{}, false
}

// Partial replaces the live buffer for role. Last write wins.
func (r *Reconciler) Partial(role models.Role, text string) {
	r.live[role] = text
}

// Final commits text for role unless it repeats the last committed message.
// The live buffer is cleared either way.
func (r *Reconciler) Final(role models.Role, text string) (models.Message, bool) {
	delete(r.live, role)
	if r.isLast(role, text) {
		return models.Message{}, false
	}
	return r.commit(role, text), true
}

// SpeechEnd commits whatever the assistant left in its live buffer, covering
// streams that never mark an utterance final. The buffer is always cleared.
func (r *Reconciler) SpeechEnd(role models.Role) (models.Message, bool) {
	text := r.live[role]
	delete(r.live, role)
	if role != models.RoleAssistant || strings.TrimSpace(text) == "" || r.isLast(role, text) {
		return models.Message{}, false
	}
	return r.commit(role, text), true
}

// Reset clears the live buffers and, when clearCommitted is set, the
// committed list held in memory.
func (r *Reconciler) Reset(clearCommitted bool) {
	r.live = map[models.Role]string{}
	if clearCommitted {
		r.committed = nil
	}
}

// Live returns the in-progress text for role.
func (r *Reconciler) Live(role models.Role) string {
	return r.live[role]
}

func (r *Reconciler) Committed() []models.Message {
	return append([]models.Message(nil), r.committed...)
}

func (r *Reconciler) isLast(role models.Role, text string) bool {
	if len(r.committed) == 0 {
		return false
	}
	last := r.committed[len(r.committed)-1]
	return last.Role == role && last.Text == text
}

func (r *Reconciler) commit(role models.Role, text string) models.Message {
	m := models.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: r.now(),
	}
	r.committed = append(r.committed, m)
	return m
}
