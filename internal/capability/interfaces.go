package capability

import (
	"context"
	"fmt"
)

// Passage is one corpus chunk returned by the similarity index.
type Passage struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Source    string  `json:"source,omitempty"`
	Partition string  `json:"partition,omitempty"`
	Score     float64 `json:"score"`
}

// Embedder produces a fixed-dimension vector for a query string.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchIndex answers nearest-neighbour queries against the corpus,
// restricted to the given partitions. Results come back ranked by score
// descending, ties broken by ascending chunk id.
type SearchIndex interface {
	Search(ctx context.Context, vector []float32, partitions []string, topN int) ([]Passage, error)
}

// Reranker re-scores candidates against the query and returns the topK in
// final rank order. The output is always a subset of the input.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Passage, topK int) ([]Passage, error)
}

// Generator is the generative completion capability, shared by query
// rewriting, answer generation and gender classification.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CallError is a typed upstream failure carrying retry classification.
type CallError struct {
	Provider  string
	Code      string
	Transient bool
	Err       error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Provider, e.Code)
}

func (e *CallError) Unwrap() error { return e.Err }

// Retryable implements the reliability classifier hook.
func (e *CallError) Retryable() bool { return e.Transient }
