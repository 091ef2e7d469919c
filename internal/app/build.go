// Package app wires configuration, storage, capabilities, and the pipeline
// into a runnable API server.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kemet-ai/kemet/internal/answer"
	"github.com/kemet-ai/kemet/internal/capability"
	"github.com/kemet-ai/kemet/internal/config"
	"github.com/kemet-ai/kemet/internal/conversation"
	"github.com/kemet-ai/kemet/internal/httpapi"
	"github.com/kemet-ai/kemet/internal/observability"
	"github.com/kemet-ai/kemet/internal/persona"
	"github.com/kemet-ai/kemet/internal/pipeline"
	"github.com/kemet-ai/kemet/internal/reliability"
	"github.com/kemet-ai/kemet/internal/retrieval"
	"github.com/kemet-ai/kemet/internal/rewrite"
	"github.com/kemet-ai/kemet/internal/voiceattr"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Turns    *pipeline.Coordinator
	Registry *persona.Registry
	Metrics  *observability.Metrics

	// Detail names the resolved capability backends for startup logging.
	Detail string

	// Cleanup releases external resources (DB pools, provider clients).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewStageWindow(256)

	registry, err := persona.LoadRegistry(cfg.PersonaRosterPath)
	if err != nil {
		return nil, fmt.Errorf("persona roster load failed: %w", err)
	}

	store, err := conversation.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("conversation store init failed: %w", err)
	}

	capabilities, err := capability.NewSet(ctx, capability.SetConfig{
		Mode:           cfg.CapabilityProvider,
		GeminiAPIKey:   cfg.GeminiAPIKey,
		GeminiModel:    cfg.GeminiModel,
		EmbeddingModel: cfg.EmbeddingModel,
		EmbeddingDim:   cfg.EmbeddingDim,
		DatabaseURL:    cfg.DatabaseURL,
		RerankerURL:    cfg.RerankerURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("capability init failed: %w", err)
	}

	policy := reliability.Policy{
		Timeout:     cfg.CapabilityTimeout,
		MaxRetries:  1,
		BackoffBase: cfg.RetryBackoffBase,
		BackoffCap:  cfg.RetryBackoffCap,
	}

	retriever := retrieval.NewCoordinator(
		capabilities.Embedder,
		capabilities.Index,
		capabilities.Reranker,
		retrieval.Config{
			TopN:       cfg.RetrieveTopN,
			TopK:       cfg.RerankTopK,
			CharBudget: cfg.ContextCharBudget,
			Policy:     policy,
			Observer:   window.Observe,
		},
		componentLogger(log, "retrieval"),
	)

	turns := pipeline.NewCoordinator(pipeline.Deps{
		Store:     store,
		Locks:     conversation.NewLocks(),
		Registry:  registry,
		Rewriter:  rewrite.NewRewriter(capabilities.Generator, cfg.HistoryWindow, componentLogger(log, "rewrite")),
		Retriever: retriever,
		Generator: answer.NewGenerator(capabilities.Generator, cfg.HistoryWindow),
		Voices:    voiceattr.NewResolver(capabilities.Generator, componentLogger(log, "voiceattr")),
		Metrics:   metrics,
		Window:    window,
		Log:       componentLogger(log, "pipeline"),
	}, pipeline.Options{
		HistoryWindow: cfg.HistoryWindow,
		RedactStored:  cfg.RedactStoredText,
		Policy:        policy,
	})

	api := httpapi.New(cfg, turns, registry, window, componentLogger(log, "httpapi"))

	cleanup := func() error {
		var errs []string
		if capabilities.Cleanup != nil {
			if err := capabilities.Cleanup(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Turns:    turns,
		Registry: registry,
		Metrics:  metrics,
		Detail:   capabilities.Detail,
		Cleanup:  cleanup,
	}, nil
}

func componentLogger(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
