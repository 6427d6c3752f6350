// Package store persists conversation summaries and message logs in a flat
// key-value backend. Every mutation is a read-modify-write of whole records;
// it assumes a single writer.
package store

import (
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/RichardoC/voz/internal/db"
	"github.com/RichardoC/voz/internal/models"
	"github.com/RichardoC/voz/internal/title"
)

const (
	chatsKey     = "voz:chats"
	previewLimit = 120
)

func messagesKey(chatID string) string {
	return "voz:chat:" + chatID + ":messages"
}

type Store struct {
	kv     db.KV
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store over kv. A nil kv means storage is unavailable: reads
// return empty results and writes are skipped.
func New(kv db.KV, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		kv:     kv,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether a backend is configured.
func (s *Store) Available() bool {
	return s.kv != nil
}

// List returns every summary, most recently updated first.
func (s *Store) List() []models.Summary {
	chats := s.loadChats()
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats
}

func (s *Store) Get(chatID string) (models.Summary, bool) {
	for _, c := range s.loadChats() {
		if c.ID == chatID {
			return c, true
		}
	}
	return models.Summary{}, false
}

// ListMessages returns the log in commit order, or an empty slice.
func (s *Store) ListMessages(chatID string) []models.Message {
	msgs := []models.Message{}
	if !s.load(messagesKey(chatID), &msgs) {
		return []models.Message{}
	}
	return msgs
}

// Create inserts a new summary and its empty message log.
func (s *Store) Create(initialTitle string) models.Summary {
	if initialTitle == "" {
		initialTitle = title.Placeholder
	}
	now := s.now()
	chat := models.Summary{
		ID:        uuid.NewString(),
		Title:     initialTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.saveChats(append([]models.Summary{chat}, s.List()...))
	s.save(messagesKey(chat.ID), []models.Message{})
	s.logger.Debug("created conversation", zap.String("chatID", chat.ID))
	return chat
}

// Append adds a committed message to the log and refreshes the owning
// summary: updatedAt, assistant preview, and the title while it is still a
// placeholder.
func (s *Store) Append(chatID string, role models.Role, text string) models.Message {
	chats := s.List()
	idx := indexOf(chats, chatID)

	ts := s.now()
	if idx >= 0 && ts.Before(chats[idx].UpdatedAt) {
		ts = chats[idx].UpdatedAt
	}
	msg := models.Message{
		ID:        newMessageID(),
		ChatID:    chatID,
		Role:      role,
		Text:      text,
		Timestamp: ts,
	}

	if idx < 0 {
		// A log must never exist without its summary.
		s.logger.Warn("append to unknown conversation", zap.String("chatID", chatID))
		return msg
	}

	msgs := append(s.ListMessages(chatID), msg)
	s.save(messagesKey(chatID), msgs)

	c := chats[idx]
	c.UpdatedAt = ts
	if role == models.RoleAssistant && strings.TrimSpace(text) != "" {
		c.LastMessagePreview = Preview(text)
	}
	if title.IsPlaceholder(c.Title) {
		if t := strings.TrimSpace(title.Synthesize(firstText(msgs, models.RoleUser), firstText(msgs, models.RoleAssistant))); t != "" {
			c.Title = t
		}
	}
	s.saveChats(moveToFront(chats, idx, c))
	return msg
}

// Rename overwrites the title. A renamed conversation is no longer a
// placeholder, so Append will not retitle it.
func (s *Store) Rename(chatID, newTitle string) {
	chats := s.loadChats()
	idx := indexOf(chats, chatID)
	if idx < 0 {
		return
	}
	chats[idx].Title = newTitle
	s.saveChats(chats)
}

// FinalizeDuration records the call duration. Repeating the same value is a no-op.
func (s *Store) FinalizeDuration(chatID string, seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	chats := s.List()
	idx := indexOf(chats, chatID)
	if idx < 0 || chats[idx].DurationSec == seconds {
		return
	}
	c := chats[idx]
	c.DurationSec = seconds
	if now := s.now(); now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
	s.saveChats(moveToFront(chats, idx, c))
}

// Remove deletes a conversation's log and summary.
func (s *Store) Remove(chatID string) {
	if s.kv == nil {
		return
	}
	// The log goes first so an interrupted remove never leaves an orphaned log.
	if err := s.kv.Delete(messagesKey(chatID)); err != nil {
		s.logger.Warn("failed to delete messages", zap.String("chatID", chatID), zap.Error(err))
		return
	}
	chats := s.loadChats()
	if idx := indexOf(chats, chatID); idx >= 0 {
		s.saveChats(append(chats[:idx], chats[idx+1:]...))
	}
}

// Preview truncates text to the preview limit, marking truncation with an ellipsis.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLimit {
		return text
	}
	return string([]rune(text)[:previewLimit]) + "…"
}

func (s *Store) loadChats() []models.Summary {
	chats := []models.Summary{}
	if !s.load(chatsKey, &chats) {
		return []models.Summary{}
	}
	return chats
}

func (s *Store) saveChats(chats []models.Summary) {
	s.save(chatsKey, chats)
}

func (s *Store) load(key string, v any) bool {
	if s.kv == nil {
		return false
	}
	raw, err := s.kv.Get(key)
	if errors.Is(err, db.ErrNotFound) {
		return false
	}
	if err != nil {
		s.logger.Warn("storage read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := sonic.Unmarshal(raw, v); err != nil {
		s.logger.Warn("discarding malformed record", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) save(key string, v any) {
	if s.kv == nil {
		return
	}
	raw, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to encode record", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.kv.Set(key, raw); err != nil {
		s.logger.Warn("storage write failed", zap.String("key", key), zap.Error(err))
	}
}

func indexOf(chats []models.Summary, chatID string) int {
	for i, c := range chats {
		if c.ID == chatID {
			return i
		}
	}
	return -1
}

func moveToFront(chats []models.Summary, idx int, c models.Summary) []models.Summary {
	next := make([]models.Summary, 0, len(chats))
	next = append(next, c)
	next = append(next, chats[:idx]...)
	return append(next, chats[idx+1:]...)
}

func firstText(msgs []models.Message, role models.Role) string {
	for _, m := range msgs {
		if m.Role == role {
			return m.Text
		}
	}
	return ""
}

func newMessageID() string {
	id, err := nanoid.New()
	if err != nil {
		return uuid.NewString()
	}
	return id
}
