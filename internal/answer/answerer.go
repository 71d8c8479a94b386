// Package answer talks to the remote service that answers questions in the
// voice of a character.
package answer

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnreachable wraps every failure where no usable answer payload came back:
// network errors, cancelled requests and undecodable bodies.
var ErrUnreachable = errors.New("answering service unreachable")

// Question is one request to the answering service.
type Question struct {
	CharacterID int    `json:"figure_id"`
	Text        string `json:"question"`
}

// Answerer returns a character's answer to a question.
//
// Implementations report application-level failures as *ServiceError and
// everything else as an error wrapping ErrUnreachable.
type Answerer interface {
	Ask(ctx context.Context, q Question) (string, error)
}

// ServiceError is a failure reported by a reachable answering service.
type ServiceError struct {
	StatusCode int
	// Message is the service-provided reason. It may be empty.
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("answering service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("answering service returned status %d: %s", e.StatusCode, e.Message)
}

// AsServiceError extracts a *ServiceError from err.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func unreachable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}
