package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kemet-ai/kemet/internal/reliability"
)

// HTTPReranker calls a cross-encoder reranking service over its JSON
// /rerank contract (text-embeddings-inference style).
type HTTPReranker struct {
	url    string
	client *http.Client
}

func NewHTTPReranker(url string) *HTTPReranker {
	return &HTTPReranker{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []Passage, topK int) ([]Passage, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	payload, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &CallError{Provider: "reranker", Code: "request_failed", Transient: true, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &CallError{
			Provider:  "reranker",
			Code:      fmt.Sprintf("status_%d", res.StatusCode),
			Transient: reliability.IsRetryableHTTPStatus(res.StatusCode),
			Err:       fmt.Errorf("rerank status %d: %s", res.StatusCode, string(body)),
		}
	}

	var results []rerankResult
	if err := json.NewDecoder(res.Body).Decode(&results); err != nil {
		return nil, &CallError{Provider: "reranker", Code: "bad_response", Transient: false, Err: err}
	}

	out := make([]Passage, 0, topK)
	for _, item := range results {
		if item.Index < 0 || item.Index >= len(candidates) {
			continue
		}
		p := candidates[item.Index]
		p.Score = item.Score
		out = append(out, p)
		if topK > 0 && len(out) == topK {
			break
		}
	}
	return out, nil
}
