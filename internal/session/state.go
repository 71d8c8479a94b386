// Package session implements the conversation session: the active character,
// the transcript, and the request/response cycle that runs for each message
// the user submits.
package session

import "github.com/ashureev/timetalks/internal/domain"

// State holds the canonical facts of a session. It has no locking of its own;
// Controller owns it and serialises every mutation.
type State struct {
	active     *domain.Character
	transcript []domain.ChatMessage
	draft      string
	pending    bool
	typing     bool

	// epoch changes on every selection so cycles started under an earlier
	// selection can be recognised.
	epoch uint64
}

// selectCharacter makes c active and resets the conversation.
func (s *State) selectCharacter(c domain.Character) {
	s.active = &c
	s.transcript = nil
	s.pending = false
	s.typing = false
	s.epoch++
}

func (s *State) appendMessage(sender, body string) {
	s.transcript = append(s.transcript, domain.ChatMessage{Sender: sender, Body: body})
}

// Active returns the selected character, if any.
func (s *State) Active() (domain.Character, bool) {
	if s.active == nil {
		return domain.Character{}, false
	}
	return *s.active, true
}

// Transcript returns a copy of the transcript in append order.
func (s *State) Transcript() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Pending reports whether a cycle is in flight.
func (s *State) Pending() bool { return s.pending }

// Typing reports whether the composing indicator is on.
func (s *State) Typing() bool { return s.typing }

// Draft returns the unsent input text.
func (s *State) Draft() string { return s.draft }
