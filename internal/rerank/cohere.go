package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xxxsen/repoqa/internal/config"
)

const (
	defaultCohereBaseURL = "https://api.cohere.com"
	defaultCohereModel   = "rerank-v3.5"
)

type Cohere struct {
	client  *http.Client
	apiKey  string
	baseURL string
	model   string
}

// New returns the cohere reranker, or NoOp when no api key is configured.
func New(cfg config.RerankerConfig) Reranker {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return NoOp{}
	}
	return NewCohere(cfg)
}

func NewCohere(cfg config.RerankerConfig) *Cohere {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultCohereBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultCohereModel
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Cohere{
		client:  &http.Client{Timeout: timeout},
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		model:   model,
	}
}

func (c *Cohere) Name() string {
	return "cohere/" + c.model
}

type cohereRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (c *Cohere) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}
	data, err := json.Marshal(cohereRequest{Model: c.model, Query: query, Documents: documents, TopN: topN})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/rerank", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("cohere rerank failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode cohere rerank: %w", err)
	}
	results := make([]Result, 0, len(out.Results))
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("cohere rerank returned index %d for %d documents", r.Index, len(documents))
		}
		results = append(results, Result{Index: r.Index, Score: r.RelevanceScore})
	}
	return results, nil
}
