package capability

import (
	"context"
	"fmt"
	"strings"
)

// Set bundles the external collaborators the pipeline consumes.
type Set struct {
	Embedder  Embedder
	Index     SearchIndex
	Reranker  Reranker
	Generator Generator

	// Detail describes the resolved backends for startup logging.
	Detail string

	// Cleanup releases pooled resources on shutdown.
	Cleanup func() error
}

// SetConfig controls capability construction.
type SetConfig struct {
	Mode           string
	GeminiAPIKey   string
	GeminiModel    string
	EmbeddingModel string
	EmbeddingDim   int
	DatabaseURL    string
	RerankerURL    string
}

// NewSet resolves the capability backends. Mode "auto" prefers real
// providers when configured and falls back to the deterministic mock,
// "gemini" requires an API key, "mock" forces the local stand-in.
func NewSet(ctx context.Context, cfg SetConfig) (*Set, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	mock := NewMockProvider(cfg.EmbeddingDim, nil)
	set := &Set{
		Embedder:  mock,
		Index:     mock,
		Reranker:  mock,
		Generator: mock,
		Detail:    "mock",
		Cleanup:   func() error { return nil },
	}

	switch mode {
	case "mock":
		return set, nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, fmt.Errorf("CAPABILITY_PROVIDER=gemini but GEMINI_API_KEY is not set")
		}
	case "auto":
	default:
		return nil, fmt.Errorf("unsupported capability provider %q (expected auto|gemini|mock)", cfg.Mode)
	}

	details := []string{"embed+generate=mock", "index=mock", "rerank=mock"}

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := NewGeminiProvider(ctx, GeminiConfig{
			APIKey:         cfg.GeminiAPIKey,
			Model:          cfg.GeminiModel,
			EmbeddingModel: cfg.EmbeddingModel,
		})
		if err != nil {
			return nil, err
		}
		set.Embedder = gemini
		set.Generator = gemini
		details[0] = fmt.Sprintf("embed+generate=gemini:%s", cfg.GeminiModel)
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		index, err := NewPgvectorIndex(ctx, cfg.DatabaseURL, cfg.EmbeddingDim)
		if err != nil {
			return nil, err
		}
		set.Index = index
		set.Cleanup = index.Close
		details[1] = "index=pgvector"
	}

	if strings.TrimSpace(cfg.RerankerURL) != "" {
		set.Reranker = NewHTTPReranker(cfg.RerankerURL)
		details[2] = "rerank=http"
	}

	set.Detail = strings.Join(details, " ")
	return set, nil
}
