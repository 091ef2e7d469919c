package capability

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// MockProvider is a deterministic local stand-in for every external
// capability, used when no real provider is configured and in tests.
type MockProvider struct {
	dim    int
	corpus []Passage
}

// NewMockProvider builds a provider over an optional built-in corpus.
func NewMockProvider(dim int, corpus []Passage) *MockProvider {
	if dim <= 0 {
		dim = 8
	}
	if corpus == nil {
		corpus = mockCorpus()
	}
	return &MockProvider{dim: dim, corpus: corpus}
}

func (p *MockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	// Deterministic pseudo-embedding: token hashes folded into buckets.
	vec := make([]float32, p.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%p.dim] += 1
	}
	return vec, nil
}

func (p *MockProvider) Search(_ context.Context, _ []float32, partitions []string, topN int) ([]Passage, error) {
	allowed := make(map[string]bool, len(partitions))
	for _, part := range partitions {
		allowed[part] = true
	}

	var out []Passage
	for _, passage := range p.corpus {
		if len(allowed) > 0 && !allowed[passage.Partition] {
			continue
		}
		out = append(out, passage)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func (p *MockProvider) Rerank(_ context.Context, query string, candidates []Passage, topK int) ([]Passage, error) {
	terms := strings.Fields(strings.ToLower(query))

	scored := make([]Passage, len(candidates))
	copy(scored, candidates)
	for i := range scored {
		text := strings.ToLower(scored[i].Text)
		overlap := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				overlap++
			}
		}
		scored[i].Score = float64(overlap)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (p *MockProvider) Complete(ctx context.Context, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	switch {
	case strings.Contains(prompt, "Rewritten Query:"):
		return mockRewrite(prompt), nil
	case strings.Contains(prompt, `"male" or "female"`):
		return "male", nil
	default:
		return mockAnswer(prompt), nil
	}
}

// mockRewrite echoes the new question, resolving the most common pronoun
// forms against the persona named in the prompt so multi-turn flows stay
// testable offline.
func mockRewrite(prompt string) string {
	question := sectionAfter(prompt, "### New User Question:")
	personaName := strings.TrimSpace(sectionAfter(prompt, "Active persona:"))

	if personaName == "" {
		return question
	}
	replacer := strings.NewReplacer(
		"his ", personaName+" ",
		"her ", personaName+" ",
		"their ", personaName+" ",
		"him", personaName,
		"he ", personaName+" ",
		"she ", personaName+" ",
	)
	return strings.TrimSpace(replacer.Replace(strings.ToLower(question)))
}

func mockAnswer(prompt string) string {
	contextBlock := sectionAfter(prompt, "### Retrieved Context")
	if strings.Contains(contextBlock, "No relevant context found") || strings.TrimSpace(contextBlock) == "" {
		return "The chronicles do not record this specific detail."
	}
	first := contextBlock
	if idx := strings.Index(contextBlock, "Content: "); idx >= 0 {
		first = contextBlock[idx+len("Content: "):]
	}
	if idx := strings.IndexByte(first, '\n'); idx > 0 {
		first = first[:idx]
	}
	return fmt.Sprintf("Hear me: %s", strings.TrimSpace(first))
}

func sectionAfter(prompt, header string) string {
	idx := strings.Index(prompt, header)
	if idx < 0 {
		return ""
	}
	rest := prompt[idx+len(header):]
	if end := strings.Index(rest, "###"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func mockCorpus() []Passage {
	return []Passage{
		{ID: "ramses-001", Partition: "ramses-ii", Source: "chronicle-of-kings.txt", Score: 0.93,
			Text: "Ramses II ruled Egypt for sixty-six years and raised the twin temples of Abu Simbel."},
		{ID: "ramses-002", Partition: "ramses-ii", Source: "chronicle-of-kings.txt", Score: 0.88,
			Text: "Ramses II signed the first recorded peace treaty after the battle of Kadesh."},
		{ID: "hatshepsut-001", Partition: "hatshepsut", Source: "chronicle-of-queens.txt", Score: 0.91,
			Text: "Hatshepsut commissioned the mortuary temple at Deir el-Bahari and led trade expeditions to Punt."},
		{ID: "shared-001", Partition: "shared", Source: "nile-geography.txt", Score: 0.74,
			Text: "The Nile floods deposited silt that made the valley fields fertile each season."},
		{ID: "shared-002", Partition: "shared", Source: "nile-geography.txt", Score: 0.69,
			Text: "Thebes served as the capital of Egypt during much of the New Kingdom."},
	}
}
