package catalog

import (
	"fmt"
	"io"
	"os"

	"github.com/ashureev/timetalks/internal/domain"
	"gopkg.in/yaml.v3"
)

// file is the on-disk layout of a catalog file:
//
//	characters:
//	  - id: 1
//	    name: Albert Einstein
//	    period: 1879-1955
//	    field: Physics
type file struct {
	Characters []domain.Character `yaml:"characters"`
}

// ReadYAML decodes characters from a YAML document.
func ReadYAML(r io.Reader) ([]domain.Character, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog yaml: %w", err)
	}
	return f.Characters, nil
}

// LoadFile reads and validates a YAML catalog file.
func LoadFile(path string) (*Catalog, error) {
	characters, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(characters)
}

// ReadFile decodes characters from the YAML file at path without validating
// them.
func ReadFile(path string) ([]domain.Character, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ReadYAML(f)
}
