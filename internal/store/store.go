// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/timetalks/internal/domain"
)

// CharacterRepository is the source of the character catalog.
type CharacterRepository interface {
	// ListCharacters returns all characters in catalog order.
	ListCharacters(ctx context.Context) ([]domain.Character, error)

	// CountCharacters returns the number of stored characters.
	CountCharacters(ctx context.Context) (int, error)

	// ReplaceCharacters atomically replaces the stored catalog.
	ReplaceCharacters(ctx context.Context, characters []domain.Character) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
