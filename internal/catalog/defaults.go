package catalog

import "github.com/ashureev/timetalks/internal/domain"

// DefaultCharacters returns the built-in historical figures.
func DefaultCharacters() []domain.Character {
	return []domain.Character{
		{
			ID:          1,
			Name:        "Albert Einstein",
			Description: "Physicist, Theory of Relativity",
			Period:      "1879-1955",
			Field:       "Physics",
			Avatar:      "https://upload.wikimedia.org/wikipedia/commons/d/d3/Albert_Einstein_Head.jpg",
			Theme:       "purple",
		},
		{
			ID:          2,
			Name:        "Isaac Newton",
			Description: "Mathematician, Laws of Motion",
			Period:      "1643-1727",
			Field:       "Mathematics & Physics",
			Avatar:      "/netwon.jpg",
			Theme:       "green",
		},
		{
			ID:          3,
			Name:        "Marie Curie",
			Description: "Chemist, Radioactivity Pioneer",
			Period:      "1867-1934",
			Field:       "Chemistry & Physics",
			Avatar:      "/marie.jpg",
			Theme:       "pink",
		},
	}
}

// Default returns a catalog of the built-in historical figures.
func Default() *Catalog {
	c, err := New(DefaultCharacters())
	if err != nil {
		panic("catalog: invalid built-in characters: " + err.Error())
	}
	return c
}
