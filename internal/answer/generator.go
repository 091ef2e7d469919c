// Package answer turns a persona, retrieved context, and conversation
// history into grounded answer text.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/kemet-ai/kemet/internal/capability"
	"github.com/kemet-ai/kemet/internal/conversation"
	"github.com/kemet-ai/kemet/internal/persona"
	"github.com/kemet-ai/kemet/internal/retrieval"
)

// Refusal is the scoped answer for questions the corpus does not cover.
// Keeping one fixed line makes the insufficient-coverage contract checkable.
const Refusal = "The chronicles do not record this specific detail."

// Generator builds the grounded-answer prompt and invokes the model.
type Generator struct {
	model         capability.Generator
	historyWindow int
}

func NewGenerator(model capability.Generator, historyWindow int) *Generator {
	if historyWindow <= 0 {
		historyWindow = 6
	}
	return &Generator{model: model, historyWindow: historyWindow}
}

// Generate answers the rewritten query strictly from contextBlock, speaking
// as the resolved persona. An empty context short-circuits to the refusal
// without a model call.
func (g *Generator) Generate(ctx context.Context, p persona.Persona, contextBlock, query string, history []conversation.Message) (string, error) {
	if contextBlock == "" || contextBlock == retrieval.EmptyContextMarker {
		return Refusal, nil
	}

	prompt := g.buildPrompt(p, contextBlock, query, history)
	raw, err := g.model.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}

	// Markdown emphasis reads badly when the answer is synthesized aloud.
	cleaned := strings.TrimSpace(strings.ReplaceAll(raw, "*", ""))
	if cleaned == "" {
		return Refusal, nil
	}
	return cleaned, nil
}

func (g *Generator) buildPrompt(p persona.Persona, contextBlock, query string, history []conversation.Message) string {
	recent := history
	if len(recent) > g.historyWindow {
		recent = recent[len(recent)-g.historyWindow:]
	}

	var b strings.Builder
	if p.IsNarrator() {
		b.WriteString("You are a careful historian of ancient Egypt. ")
		b.WriteString("Answer in a neutral third person.\n")
	} else {
		fmt.Fprintf(&b, "You are %s", p.Name)
		if p.Title != "" {
			fmt.Fprintf(&b, ", %s", p.Title)
		}
		b.WriteString(". Answer in the first person, in your own voice, ")
		b.WriteString("as if recounting your own life and reign.\n")
	}
	b.WriteString("Answer ONLY from the retrieved context below. ")
	b.WriteString("Do not invent facts that are not in the context. ")
	fmt.Fprintf(&b, "If the context does not cover the question, reply exactly: %s\n\n", Refusal)

	b.WriteString("### Retrieved Context\n")
	b.WriteString(contextBlock)
	b.WriteString("\n\n")

	if len(recent) > 0 {
		b.WriteString("### Conversation So Far\n")
		for _, msg := range recent {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("### Question\n")
	b.WriteString(query)
	b.WriteString("\n\n### Answer\n")
	return b.String()
}
