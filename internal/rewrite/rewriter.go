// Package rewrite turns a possibly context-dependent user utterance into a
// standalone query that retrieval can embed on its own.
package rewrite

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kemet-ai/kemet/internal/capability"
	"github.com/kemet-ai/kemet/internal/conversation"
)

// Result carries the rewritten query plus whether the model was consulted.
// Degraded means the rewrite step failed and the raw utterance is used as-is.
type Result struct {
	Query    string
	Used     bool
	Degraded bool
}

// Rewriter resolves pronouns and ellipses against recent conversation
// history. A turn with no history passes through unchanged.
type Rewriter struct {
	generator     capability.Generator
	historyWindow int
	log           zerolog.Logger
}

func NewRewriter(generator capability.Generator, historyWindow int, log zerolog.Logger) *Rewriter {
	if historyWindow <= 0 {
		historyWindow = 6
	}
	return &Rewriter{generator: generator, historyWindow: historyWindow, log: log}
}

// Rewrite produces a standalone query. Failures never fail the turn: the
// original utterance is returned with Degraded set.
func (r *Rewriter) Rewrite(ctx context.Context, utterance string, history []conversation.Message, personaName string) Result {
	utterance = strings.TrimSpace(utterance)
	if len(history) == 0 {
		return Result{Query: utterance}
	}

	prompt := r.buildPrompt(utterance, history, personaName)
	raw, err := r.generator.Complete(ctx, prompt)
	if err != nil {
		r.log.Warn().Err(err).Msg("query rewrite failed, using original utterance")
		return Result{Query: utterance, Degraded: true}
	}

	rewritten := cleanRewrite(raw)
	if rewritten == "" {
		return Result{Query: utterance, Degraded: true}
	}
	return Result{Query: rewritten, Used: true}
}

func (r *Rewriter) buildPrompt(utterance string, history []conversation.Message, personaName string) string {
	recent := history
	if len(recent) > r.historyWindow {
		recent = recent[len(recent)-r.historyWindow:]
	}

	var b strings.Builder
	b.WriteString("You rewrite follow-up questions into standalone search queries.\n")
	b.WriteString("Resolve pronouns and references using the conversation below. ")
	b.WriteString("Keep the rewritten query short and self-contained. ")
	b.WriteString("If the question already stands alone, return it unchanged.\n\n")
	if personaName != "" {
		fmt.Fprintf(&b, "Active persona: %s\n\n", personaName)
	}
	b.WriteString("### Conversation History:\n")
	for _, msg := range recent {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	b.WriteString("\n### New User Question:\n")
	b.WriteString(utterance)
	b.WriteString("\n\n### Rewritten Query:")
	return b.String()
}

// cleanRewrite strips the model's framing: surrounding quotes, a leading
// label echo, and anything past the first line.
func cleanRewrite(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimPrefix(s, "Rewritten Query:")
	s = strings.Trim(s, ` "'`)
	return strings.TrimSpace(s)
}
