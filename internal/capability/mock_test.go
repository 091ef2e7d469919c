package capability

import (
	"context"
	"strings"
	"testing"
)

func TestMockEmbedIsDeterministic(t *testing.T) {
	p := NewMockProvider(8, nil)

	a, err := p.Embed(context.Background(), "temples of Abu Simbel")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	b, err := p.Embed(context.Background(), "temples of Abu Simbel")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(a) != 8 {
		t.Fatalf("expected 8 dims, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at dim %d: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestMockSearchFiltersPartitions(t *testing.T) {
	p := NewMockProvider(8, nil)

	results, err := p.Search(context.Background(), nil, []string{"ramses-ii", SharedPartition}, 30)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results from the built-in corpus")
	}
	for _, r := range results {
		if r.Partition != "ramses-ii" && r.Partition != SharedPartition {
			t.Fatalf("partition %q leaked into scoped search", r.Partition)
		}
	}
}

func TestMockRerankReturnsSubset(t *testing.T) {
	p := NewMockProvider(8, nil)
	candidates, err := p.Search(context.Background(), nil, nil, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	topK := 2
	ranked, err := p.Rerank(context.Background(), "temples of Ramses", candidates, topK)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if len(ranked) > topK {
		t.Fatalf("expected at most %d results, got %d", topK, len(ranked))
	}
	ids := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		ids[c.ID] = true
	}
	for _, r := range ranked {
		if !ids[r.ID] {
			t.Fatalf("reranked passage %q was not among candidates", r.ID)
		}
	}
	if len(ranked) > 0 && !strings.Contains(strings.ToLower(ranked[0].Text), "ramses") {
		t.Fatalf("expected keyword match first, got %q", ranked[0].Text)
	}
}

func TestMockCompleteDispatchesOnPromptShape(t *testing.T) {
	p := NewMockProvider(8, nil)

	gender, err := p.Complete(context.Background(), `Answer with exactly one word, "male" or "female".`)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if gender != "male" {
		t.Fatalf("expected gender answer, got %q", gender)
	}

	rewritten, err := p.Complete(context.Background(),
		"Active persona: Ramses II\n### New User Question:\nwhat about his temples?\n### Rewritten Query:")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !strings.Contains(rewritten, "Ramses II") {
		t.Fatalf("expected pronoun resolved to persona, got %q", rewritten)
	}

	refusal, err := p.Complete(context.Background(),
		"### Retrieved Context\nNo relevant context found.\n### Question\nanything")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if refusal != "The chronicles do not record this specific detail." {
		t.Fatalf("expected refusal line, got %q", refusal)
	}
}

func TestNewSetModeSelection(t *testing.T) {
	ctx := context.Background()

	set, err := NewSet(ctx, SetConfig{Mode: "mock", EmbeddingDim: 8})
	if err != nil {
		t.Fatalf("mock mode failed: %v", err)
	}
	if set.Detail != "mock" {
		t.Fatalf("expected mock detail, got %q", set.Detail)
	}

	if _, err := NewSet(ctx, SetConfig{Mode: "gemini"}); err == nil {
		t.Fatal("expected gemini mode without API key to fail")
	}

	if _, err := NewSet(ctx, SetConfig{Mode: "teapot"}); err == nil {
		t.Fatal("expected unknown mode to fail")
	}

	set, err = NewSet(ctx, SetConfig{Mode: "auto", EmbeddingDim: 8})
	if err != nil {
		t.Fatalf("auto mode without credentials failed: %v", err)
	}
	if set.Detail != "embed+generate=mock index=mock rerank=mock" {
		t.Fatalf("unexpected auto detail: %q", set.Detail)
	}
}
