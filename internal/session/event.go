package session

import (
	"github.com/bytedance/sonic"

	"github.com/RichardoC/voz/internal/models"
)

// Kind names a session event as delivered by the voice SDK.
type Kind string

const (
	KindCallStart   Kind = "call-start"
	KindCallEnd     Kind = "call-end"
	KindSpeechStart Kind = "speech-start"
	KindSpeechEnd   Kind = "speech-end"
	KindTranscript  Kind = "transcript"
	// KindControl carries a page action (start, end, mute, unmute) rather
	// than an SDK event.
	KindControl Kind = "control"
)

// Page actions carried by KindControl events.
const (
	ActionStart  = "start"
	ActionEnd    = "end"
	ActionMute   = "mute"
	ActionUnmute = "unmute"
)

type Event struct {
	Kind        Kind
	Role        models.Role
	Text        string
	Final       bool
	UtteranceID string
	Action      string
}

// frame is the JSON shape of an inbound bridge frame.
type frame struct {
	Type           string `json:"type"`
	Role           string `json:"role,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
	TranscriptType string `json:"transcriptType,omitempty"`
	IsFinal        *bool  `json:"isFinal,omitempty"`
	UtteranceID    string `json:"utteranceId,omitempty"`
	Action         string `json:"action,omitempty"`
	Message        *frame `json:"message,omitempty"`
}

// Decode parses one inbound frame. Anything malformed or unknown reports
// ok=false and should be dropped.
func Decode(data []byte) (Event, bool) {
	var f frame
	if err := sonic.Unmarshal(data, &f); err != nil {
		return Event{}, false
	}
	return f.event()
}

func (f frame) event() (Event, bool) {
	switch Kind(f.Type) {
	case KindCallStart, KindCallEnd:
		return Event{Kind: Kind(f.Type)}, true
	case KindSpeechStart, KindSpeechEnd:
		role := models.Role(f.Role)
		if role == "" {
			role = models.RoleAssistant
		}
		if !role.Valid() {
			return Event{}, false
		}
		return Event{Kind: Kind(f.Type), Role: role}, true
	case KindTranscript:
		role := models.Role(f.Role)
		if !role.Valid() || f.Transcript == "" {
			return Event{}, false
		}
		return Event{
			Kind:        KindTranscript,
			Role:        role,
			Text:        f.Transcript,
			Final:       f.TranscriptType == "final" || (f.IsFinal != nil && *f.IsFinal),
			UtteranceID: f.UtteranceID,
		}, true
	case KindControl:
		switch f.Action {
		case ActionStart, ActionEnd, ActionMute, ActionUnmute:
			return Event{Kind: KindControl, Action: f.Action}, true
		}
		return Event{}, false
	case "message":
		if f.Message == nil {
			return Event{}, false
		}
		return f.Message.event()
	default:
		return Event{}, false
	}
}

// Command is an outbound instruction for the voice SDK.
type Command struct {
	Type        string `json:"type"`
	Command     string `json:"command"`
	AssistantID string `json:"assistantId,omitempty"`
	Muted       *bool  `json:"muted,omitempty"`
	Message     *Say   `json:"message,omitempty"`
}

// Say asks the assistant to speak a message verbatim.
type Say struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewSay builds a say message.
func NewSay(text string) Say {
	return Say{Type: "say", Message: text}
}

// Update is published to the page whenever visible call state changes.
type Update struct {
	Type        string          `json:"type"`
	ChatID      string          `json:"chatId,omitempty"`
	State       State           `json:"state,omitempty"`
	Muted       bool            `json:"muted,omitempty"`
	Role        models.Role     `json:"role,omitempty"`
	Text        string          `json:"text"`
	Message     *models.Message `json:"message,omitempty"`
	Title       string          `json:"title,omitempty"`
	Retained    bool            `json:"retained,omitempty"`
	DurationSec int             `json:"durationSec,omitempty"`
}

const (
	UpdateState   = "state"
	UpdateLive    = "live"
	UpdateMessage = "message"
	UpdateTitle   = "title"
	UpdateEnded   = "ended"
)
