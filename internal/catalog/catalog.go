// Package catalog holds the fixed, read-only set of characters a session can
// select from.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/timetalks/internal/domain"
)

var errEmptyCatalog = errors.New("catalog has no characters")

// Catalog is an ordered, immutable list of characters addressable by
// position or by id.
type Catalog struct {
	characters []domain.Character
	byID       map[int]int
}

// New validates characters and returns a catalog owning a copy of them.
func New(characters []domain.Character) (*Catalog, error) {
	if len(characters) == 0 {
		return nil, errEmptyCatalog
	}

	c := &Catalog{
		characters: make([]domain.Character, len(characters)),
		byID:       make(map[int]int, len(characters)),
	}
	copy(c.characters, characters)

	for i, ch := range c.characters {
		if strings.TrimSpace(ch.Name) == "" {
			return nil, fmt.Errorf("character at index %d has no name", i)
		}
		if prev, dup := c.byID[ch.ID]; dup {
			return nil, fmt.Errorf("duplicate character id %d at index %d and %d", ch.ID, prev, i)
		}
		c.byID[ch.ID] = i
	}
	return c, nil
}

// Len returns the number of characters.
func (c *Catalog) Len() int {
	return len(c.characters)
}

// At returns the character at index.
func (c *Catalog) At(index int) (domain.Character, bool) {
	if index < 0 || index >= len(c.characters) {
		return domain.Character{}, false
	}
	return c.characters[index], true
}

// IndexOf returns the position of the character with the given id.
func (c *Catalog) IndexOf(id int) (int, bool) {
	i, ok := c.byID[id]
	return i, ok
}

// ByID returns the character with the given id.
func (c *Catalog) ByID(id int) (domain.Character, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.Character{}, false
	}
	return c.characters[i], true
}

// All returns a copy of the characters in catalog order.
func (c *Catalog) All() []domain.Character {
	out := make([]domain.Character, len(c.characters))
	copy(out, c.characters)
	return out
}
