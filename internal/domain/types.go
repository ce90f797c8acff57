package domain

import (
	"fmt"
	"strings"
	"time"
)

// Language is a response/speech language the user can select.
type Language struct {
	Name string
	Code string
}

var (
	English = Language{Name: "English", Code: "en"}
	Tamil   = Language{Name: "Tamil", Code: "ta"}
)

// Languages lists the selectable languages in display order.
var Languages = []Language{English, Tamil}

func (l Language) String() string {
	return l.Name
}

// ParseLanguage resolves a language by display name or two-letter code.
func ParseLanguage(s string) (Language, error) {
	s = strings.TrimSpace(s)
	for _, l := range Languages {
		if strings.EqualFold(l.Name, s) || strings.EqualFold(l.Code, s) {
			return l, nil
		}
	}
	return Language{}, fmt.Errorf("unsupported language %q", s)
}

// InputMode is how the image was acquired.
type InputMode int

const (
	Upload InputMode = iota
	Capture
)

func (m InputMode) String() string {
	switch m {
	case Capture:
		return "capture"
	default:
		return "upload"
	}
}

func ParseInputMode(s string) (InputMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "upload", "upload image":
		return Upload, nil
	case "capture", "scan", "scan image":
		return Capture, nil
	default:
		return Upload, fmt.Errorf("unsupported input mode %q", s)
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one message in the follow-up conversation.
type ChatTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func UserTurn(text string) ChatTurn {
	return ChatTurn{Role: RoleUser, Text: text}
}

func AssistantTurn(text string) ChatTurn {
	return ChatTurn{Role: RoleAssistant, Text: text}
}

// Event is a journal entry describing a session transition.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Event kinds.
const (
	EventStarted         = "started"
	EventModeChanged     = "mode_changed"
	EventLanguageChanged = "language_changed"
	EventImageCleared    = "image_cleared"
	EventIdentified      = "identified"
	EventIdentifyFailed  = "identify_failed"
	EventAudioReady      = "audio_ready"
	EventAudioFailed     = "audio_failed"
	EventChat            = "chat"
	EventChatFailed      = "chat_failed"
	EventEnded           = "ended"
)
