package persona

import "strings"

// Resolution is the outcome of resolving the speaking persona for one turn.
type Resolution struct {
	Persona Persona
	// Switched is true when the turn changed the active persona.
	Switched bool
	// Ambiguous is true when the utterance mentioned more than one roster
	// persona; roster order decided the winner. Diagnostic only.
	Ambiguous bool
}

// Resolve decides which persona speaks this turn. It is a pure function of
// the utterance, the rewritten query, the roster, and the persona committed
// by the previous assistant message. No model call, no hidden state.
//
// Priority: an explicit mention of a different persona switches to it; with
// no previous persona any mention adopts that persona; otherwise the
// previous persona is retained; with nothing established the narrator
// sentinel is used.
func Resolve(r *Registry, utterance, rewritten string, previous *Persona) Resolution {
	mentioned := mentionsIn(r, utterance)
	if len(mentioned) == 0 {
		mentioned = mentionsIn(r, rewritten)
	}

	ambiguous := len(mentioned) > 1

	if len(mentioned) > 0 {
		first := mentioned[0]
		if previous == nil || !strings.EqualFold(first.Name, previous.Name) {
			return Resolution{Persona: first, Switched: previous != nil, Ambiguous: ambiguous}
		}
		return Resolution{Persona: *previous, Ambiguous: ambiguous}
	}

	if previous != nil && !previous.IsNarrator() {
		return Resolution{Persona: *previous}
	}

	return Resolution{Persona: Narrator()}
}

// mentionsIn returns the roster personas mentioned in text, in roster order.
func mentionsIn(r *Registry, text string) []Persona {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil
	}

	var found []Persona
	for _, item := range r.items {
		if mentions(text, item) {
			found = append(found, item)
		}
	}
	return found
}

func mentions(lowerText string, p Persona) bool {
	if containsFold(lowerText, p.Name) {
		return true
	}
	for _, alias := range p.Aliases {
		if containsFold(lowerText, alias) {
			return true
		}
	}
	// A distinctive leading name token counts as a partial match
	// ("Hatshepsut" for "Hatshepsut", "Ramses" for "Ramses II").
	head, _, _ := strings.Cut(p.Name, " ")
	if len(head) >= 4 && containsFold(lowerText, head) {
		return true
	}
	return false
}

func containsFold(lowerText, needle string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	return needle != "" && strings.Contains(lowerText, needle)
}
