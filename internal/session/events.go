package session

import "time"

// EventKind identifies a cycle event.
type EventKind string

// Cycle events.
const (
	EventUserMessage   EventKind = "user_message"
	EventReply         EventKind = "reply"
	EventSystemMessage EventKind = "system_message"
	EventDiscarded     EventKind = "discarded"
)

// Event describes one step of a cycle for observers such as the cycle log.
type Event struct {
	Timestamp   time.Time
	SessionID   string
	CycleID     string
	CharacterID int
	Kind        EventKind
	Sender      string
	Body        string
	// Cause is the underlying error of a failed cycle. It never reaches the
	// transcript.
	Cause    string
	Duration time.Duration
}

// Recorder receives cycle events. Record must not block.
type Recorder interface {
	Record(Event)
}

type noopRecorder struct{}

func (noopRecorder) Record(Event) {}
