package domain

// Sender markers used in the transcript besides character names.
const (
	SenderUser   = "You"
	SenderSystem = "System"
)

// ChatMessage is a single transcript entry. Entries are never modified once
// appended.
type ChatMessage struct {
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

// IsUser reports whether the message was written by the local user.
func (m ChatMessage) IsUser() bool {
	return m.Sender == SenderUser
}

// IsSystem reports whether the message is an error report.
func (m ChatMessage) IsSystem() bool {
	return m.Sender == SenderSystem
}
