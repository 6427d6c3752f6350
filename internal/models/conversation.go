package models

import "time"

// Role identifies who spoke a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known speakers.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is the list entry for one conversation.
type Summary struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
	DurationSec        int       `json:"durationSec"`
	LastMessagePreview string    `json:"lastMessagePreview"`
}
