package capability

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider backs the embedding and generative capabilities with the
// Google GenAI API.
type GeminiProvider struct {
	client         *genai.Client
	model          string
	embeddingModel string
}

type GeminiConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiProvider{
		client:         client,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := p.client.Models.EmbedContent(ctx, p.embeddingModel, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_QUERY",
	})
	if err != nil {
		return nil, &CallError{Provider: "gemini", Code: "embed_failed", Transient: true, Err: err}
	}
	if len(result.Embeddings) == 0 {
		return nil, &CallError{Provider: "gemini", Code: "empty_embedding", Transient: false,
			Err: fmt.Errorf("no embeddings returned")}
	}
	return result.Embeddings[0].Values, nil
}

func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return "", &CallError{Provider: "gemini", Code: "generate_failed", Transient: true, Err: err}
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", &CallError{Provider: "gemini", Code: "empty_completion", Transient: true,
			Err: fmt.Errorf("model returned no text")}
	}
	return text, nil
}
