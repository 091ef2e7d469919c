package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Registry is a read-only roster of known personas. Lookup order is roster
// order, which also decides ambiguous utterance matches.
type Registry struct {
	items []Persona
}

// NewRegistry returns a Registry holding the supplied personas.
func NewRegistry(items []Persona) *Registry {
	return &Registry{items: append([]Persona(nil), items...)}
}

// LoadRegistry builds the registry from a JSON roster file, or from the
// built-in seed when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return NewRegistry(Seed()), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona roster: %w", err)
	}
	var items []Persona
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse persona roster: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("persona roster %s is empty", path)
	}
	for i := range items {
		if strings.TrimSpace(items[i].Name) == "" {
			return nil, fmt.Errorf("persona roster %s: entry %d has no name", path, i)
		}
		if items[i].Gender == "" {
			items[i].Gender = GenderUnknown
		}
	}
	return NewRegistry(items), nil
}

// List returns the roster in order.
func (r *Registry) List() []Persona {
	return append([]Persona(nil), r.items...)
}

// Find looks up a persona by exact name, case-insensitively, falling back to
// aliases.
func (r *Registry) Find(name string) (Persona, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Persona{}, false
	}
	for _, item := range r.items {
		if strings.EqualFold(item.Name, name) {
			return item, true
		}
	}
	for _, item := range r.items {
		for _, alias := range item.Aliases {
			if strings.EqualFold(alias, name) {
				return item, true
			}
		}
	}
	return Persona{}, false
}
