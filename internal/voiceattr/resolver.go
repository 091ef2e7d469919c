// Package voiceattr resolves the gender attribute used to pick a synthesis
// voice for the active persona.
package voiceattr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kemet-ai/kemet/internal/capability"
	"github.com/kemet-ai/kemet/internal/persona"
)

// Resolver answers "which voice profile fits this persona". Registry
// metadata wins; otherwise a one-shot classification is cached for the
// process lifetime, de-duplicated across concurrent first requests.
type Resolver struct {
	model capability.Generator
	log   zerolog.Logger

	mu    sync.RWMutex
	cache map[string]persona.Gender
	group singleflight.Group
}

func NewResolver(model capability.Generator, log zerolog.Logger) *Resolver {
	return &Resolver{
		model: model,
		log:   log,
		cache: make(map[string]persona.Gender),
	}
}

// Resolve returns the persona's gender. Classification failure degrades to
// unknown and is not cached, so a later turn may retry.
func (r *Resolver) Resolve(ctx context.Context, p persona.Persona) persona.Gender {
	if p.Gender != persona.GenderUnknown && p.Gender != "" {
		return p.Gender
	}
	if p.IsNarrator() {
		return persona.GenderUnknown
	}

	key := strings.ToLower(p.Name)

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	result, err, _ := r.group.Do(key, func() (any, error) {
		gender, err := r.classify(ctx, p)
		if err != nil {
			return persona.GenderUnknown, err
		}
		r.mu.Lock()
		r.cache[key] = gender
		r.mu.Unlock()
		return gender, nil
	})
	if err != nil {
		r.log.Warn().Err(err).Str("persona", p.Name).Msg("gender classification failed, voice attribute unknown")
		return persona.GenderUnknown
	}
	return result.(persona.Gender)
}

func (r *Resolver) classify(ctx context.Context, p persona.Persona) (persona.Gender, error) {
	prompt := fmt.Sprintf(
		"Was the historical figure %q male or female? Answer with exactly one word, \"male\" or \"female\".",
		p.Name)
	raw, err := r.model.Complete(ctx, prompt)
	if err != nil {
		return persona.GenderUnknown, err
	}
	switch strings.ToLower(strings.Trim(strings.TrimSpace(raw), `."'`)) {
	case "male":
		return persona.GenderMale, nil
	case "female":
		return persona.GenderFemale, nil
	default:
		return persona.GenderUnknown, fmt.Errorf("unusable classification %q", raw)
	}
}
