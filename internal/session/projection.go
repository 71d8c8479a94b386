package session

import (
	"strings"

	"github.com/ashureev/timetalks/internal/domain"
)

// MessageKind tags a transcript entry for styling.
type MessageKind string

// Message kinds.
const (
	KindUser      MessageKind = "user"
	KindSystem    MessageKind = "system"
	KindCharacter MessageKind = "character"
	KindOther     MessageKind = "other"
)

// Entry is a transcript message as shown to the user.
type Entry struct {
	Sender string      `json:"sender"`
	Body   string      `json:"body"`
	Kind   MessageKind `json:"kind"`
}

// Projection is what a rendering layer should show for a session.
type Projection struct {
	SessionID       string            `json:"session_id"`
	ActiveCharacter *domain.Character `json:"active_character"`
	Transcript      []Entry           `json:"transcript"`
	Draft           string            `json:"draft"`
	Pending         bool              `json:"pending"`
	Typing          bool              `json:"typing"`
	ComposerEnabled bool              `json:"composer_enabled"`
	SubmitEnabled   bool              `json:"submit_enabled"`
}

// Project derives the projection of s. It does not modify s.
func Project(sessionID string, s *State) Projection {
	p := Projection{
		SessionID:  sessionID,
		Transcript: make([]Entry, 0, len(s.transcript)),
		Draft:      s.draft,
		Pending:    s.pending,
		Typing:     s.typing,
	}

	activeName := ""
	if s.active != nil {
		c := *s.active
		p.ActiveCharacter = &c
		activeName = c.Name
	}

	for _, m := range s.transcript {
		p.Transcript = append(p.Transcript, Entry{
			Sender: m.Sender,
			Body:   m.Body,
			Kind:   kindOf(m, activeName),
		})
	}

	p.ComposerEnabled = p.ActiveCharacter != nil && !p.Pending
	p.SubmitEnabled = p.CanSubmit(p.Draft)
	return p
}

// CanSubmit reports whether input could be submitted in this state.
func (p Projection) CanSubmit(input string) bool {
	return p.ComposerEnabled && strings.TrimSpace(input) != ""
}

func kindOf(m domain.ChatMessage, activeName string) MessageKind {
	switch {
	case m.IsUser():
		return KindUser
	case m.IsSystem():
		return KindSystem
	case activeName != "" && m.Sender == activeName:
		return KindCharacter
	default:
		return KindOther
	}
}
