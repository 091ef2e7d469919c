// Package retrieval embeds a standalone query, fetches candidates from the
// similarity index scoped to the active persona, reranks them, and assembles
// the context block the answer stage grounds on.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kemet-ai/kemet/internal/capability"
	"github.com/kemet-ai/kemet/internal/persona"
	"github.com/kemet-ai/kemet/internal/reliability"
)

// EmptyContextMarker is what Context holds when nothing usable came back.
// The answer stage branches on it instead of calling the model blind.
const EmptyContextMarker = "No relevant context found."

// Result is the outcome of one retrieve+rerank pass.
type Result struct {
	Passages       []capability.Passage
	Context        string
	RetrievedCount int
	RerankedCount  int
	Degraded       bool
}

// Coordinator runs the retrieve and rerank stages with bounded retries.
// Persistent upstream failure degrades to an empty context set; the turn
// proceeds and generation produces an insufficient-information answer.
type Coordinator struct {
	embedder capability.Embedder
	index    capability.SearchIndex
	reranker capability.Reranker
	policy   reliability.Policy
	topN     int
	topK     int
	budget   int
	observe  func(stage string, ms float64)
	log      zerolog.Logger
}

type Config struct {
	TopN       int
	TopK       int
	CharBudget int
	Policy     reliability.Policy

	// Observer, when set, receives per-stage latencies ("retrieve" covers
	// embed plus index search, "rerank" the rerank call).
	Observer func(stage string, ms float64)
}

func NewCoordinator(embedder capability.Embedder, index capability.SearchIndex, reranker capability.Reranker, cfg Config, log zerolog.Logger) *Coordinator {
	if cfg.TopN <= 0 {
		cfg.TopN = 30
	}
	if cfg.TopK <= 0 || cfg.TopK > cfg.TopN {
		cfg.TopK = min(8, cfg.TopN)
	}
	if cfg.CharBudget <= 0 {
		cfg.CharBudget = 6000
	}
	observe := cfg.Observer
	if observe == nil {
		observe = func(string, float64) {}
	}
	return &Coordinator{
		embedder: embedder,
		index:    index,
		reranker: reranker,
		policy:   cfg.Policy,
		topN:     cfg.TopN,
		topK:     cfg.TopK,
		budget:   cfg.CharBudget,
		observe:  observe,
		log:      log,
	}
}

// Retrieve runs embed, index search, and rerank for the given query.
func (c *Coordinator) Retrieve(ctx context.Context, query string, p persona.Persona) Result {
	retrieveStart := time.Now()

	var vector []float32
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = c.embedder.Embed(ctx, query)
		return embedErr
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("embedding failed after retry, degrading to empty context")
		return degraded()
	}

	partitions := []string{capability.SharedPartition}
	if p.Partition != "" {
		partitions = []string{p.Partition, capability.SharedPartition}
	}

	var candidates []capability.Passage
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		var searchErr error
		candidates, searchErr = c.index.Search(ctx, vector, partitions, c.topN)
		return searchErr
	})
	c.observe("retrieve", millisSince(retrieveStart))
	if err != nil {
		c.log.Warn().Err(err).Msg("index search failed after retry, degrading to empty context")
		return degraded()
	}
	if len(candidates) == 0 {
		return Result{Context: EmptyContextMarker}
	}

	rerankStart := time.Now()
	var ranked []capability.Passage
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		var rerankErr error
		ranked, rerankErr = c.reranker.Rerank(ctx, query, candidates, c.topK)
		return rerankErr
	})
	c.observe("rerank", millisSince(rerankStart))
	if err != nil {
		c.log.Warn().Err(err).Msg("rerank failed after retry, degrading to empty context")
		return degraded()
	}

	kept, block := c.buildContext(ranked)
	return Result{
		Passages:       kept,
		Context:        block,
		RetrievedCount: len(candidates),
		RerankedCount:  len(ranked),
	}
}

// buildContext renders the kept passages as numbered source sections under
// the character budget, dropping whole passages lowest-rank-first.
func (c *Coordinator) buildContext(ranked []capability.Passage) ([]capability.Passage, string) {
	var (
		b    strings.Builder
		kept []capability.Passage
	)
	for _, p := range ranked {
		section := formatSection(len(kept)+1, p)
		if b.Len()+len(section) > c.budget {
			break
		}
		b.WriteString(section)
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return nil, EmptyContextMarker
	}
	return kept, strings.TrimRight(b.String(), "\n")
}

func formatSection(n int, p capability.Passage) string {
	source := p.Source
	if source == "" {
		source = p.ID
	}
	return fmt.Sprintf("[Source %d] %s\nContent: %s\n\n", n, source, p.Text)
}

func degraded() Result {
	return Result{Context: EmptyContextMarker, Degraded: true}
}

func millisSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
