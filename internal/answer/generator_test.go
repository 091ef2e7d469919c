package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kemet-ai/kemet/internal/capability"
	"github.com/kemet-ai/kemet/internal/conversation"
	"github.com/kemet-ai/kemet/internal/persona"
	"github.com/kemet-ai/kemet/internal/retrieval"
)

type scriptedModel struct {
	reply string
	err   error
	calls int
	last  string
}

func (m *scriptedModel) Complete(_ context.Context, prompt string) (string, error) {
	m.calls++
	m.last = prompt
	return m.reply, m.err
}

func testPersona() persona.Persona {
	return persona.Persona{Name: "Ramses II", Title: "Pharaoh of Egypt", Partition: "ramses-ii"}
}

func TestGenerateRefusesOnEmptyContextWithoutModelCall(t *testing.T) {
	model := &scriptedModel{reply: "should never be used"}
	g := NewGenerator(model, 6)

	got, err := g.Generate(context.Background(), testPersona(), retrieval.EmptyContextMarker, "anything", nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != Refusal {
		t.Fatalf("expected refusal, got %q", got)
	}
	if model.calls != 0 {
		t.Fatalf("model called %d times on empty context", model.calls)
	}
}

func TestGenerateStripsMarkdownEmphasis(t *testing.T) {
	model := &scriptedModel{reply: "I raised the **twin temples** of Abu Simbel."}
	g := NewGenerator(model, 6)

	got, err := g.Generate(context.Background(), testPersona(),
		"[Source 1] chronicle.txt\nContent: Ramses II raised Abu Simbel.", "temples", nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if strings.Contains(got, "*") {
		t.Fatalf("emphasis markers survived: %q", got)
	}
}

func TestGeneratePropagatesModelFailure(t *testing.T) {
	model := &scriptedModel{err: errors.New("upstream down")}
	g := NewGenerator(model, 6)

	_, err := g.Generate(context.Background(), testPersona(),
		"[Source 1] chronicle.txt\nContent: something.", "temples", nil)
	if err == nil {
		t.Fatal("expected the upstream error to propagate")
	}
}

func TestPromptPersonaAndNarratorModes(t *testing.T) {
	model := &scriptedModel{reply: "ok"}
	g := NewGenerator(model, 2)

	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "oldest"},
		{Role: conversation.RoleAssistant, Content: "middle"},
		{Role: conversation.RoleUser, Content: "newest"},
	}
	if _, err := g.Generate(context.Background(), testPersona(), "[Source 1] x\nContent: y.", "q", history); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(model.last, "You are Ramses II, Pharaoh of Egypt") {
		t.Fatalf("persona framing missing: %q", model.last)
	}
	if !strings.Contains(model.last, "first person") {
		t.Fatal("first-person instruction missing")
	}
	if strings.Contains(model.last, "oldest") {
		t.Fatal("history outside window leaked into prompt")
	}

	if _, err := g.Generate(context.Background(), persona.Narrator(), "[Source 1] x\nContent: y.", "q", nil); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(model.last, "third person") {
		t.Fatal("narrator mode should instruct third person")
	}
	if strings.Contains(model.last, "first person") {
		t.Fatal("narrator prompt must not claim a first-person identity")
	}
}

func TestGenerateGroundsOnMockProvider(t *testing.T) {
	g := NewGenerator(capability.NewMockProvider(8, nil), 6)

	got, err := g.Generate(context.Background(), testPersona(),
		"[Source 1] chronicle-of-kings.txt\nContent: Ramses II raised the twin temples of Abu Simbel.",
		"What temples did Ramses II build?", nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(got, "Abu Simbel") {
		t.Fatalf("expected answer grounded in context, got %q", got)
	}
}
