package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/opencrew/deepresearch/internal/metrics"
)

const (
	defaultPerplexityURL   = "https://api.perplexity.ai/chat/completions"
	defaultPerplexityModel = "sonar-pro"
)

// PerplexityClient is the single-query LLM-grounded backend. Queries run
// sequentially against the chat-completions endpoint; the grounded answer
// text lands on the first item and the remaining cited URLs become
// placeholder entries pointing back at it.
type PerplexityClient struct {
	httpClient *http.Client
	apiKey     string
	logger     *zap.Logger
	baseURL    string
	model      string
}

// PerplexityOption customizes a PerplexityClient.
type PerplexityOption func(*PerplexityClient)

// WithPerplexityBaseURL overrides the API endpoint for tests.
func WithPerplexityBaseURL(u string) PerplexityOption {
	return func(c *PerplexityClient) { c.baseURL = u }
}

// WithPerplexityModel selects the grounded model.
func WithPerplexityModel(m string) PerplexityOption {
	return func(c *PerplexityClient) { c.model = m }
}

// NewPerplexityClient builds the single-query backend.
func NewPerplexityClient(apiKey string, logger *zap.Logger, opts ...PerplexityOption) *PerplexityClient {
	c := &PerplexityClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		logger:     logger,
		baseURL:    defaultPerplexityURL,
		model:      defaultPerplexityModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PerplexityClient) Name() string { return BackendPerplexity }

type perplexityRequest struct {
	Model    string              `json:"model"`
	Messages []perplexityMessage `json:"messages"`
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityResponse struct {
	Citations []string `json:"citations"`
	Choices   []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Search runs one grounded call per query, sequentially.
func (c *PerplexityClient) Search(ctx context.Context, queries []string) ([]Result, error) {
	results := make([]Result, 0, len(queries))
	for _, q := range queries {
		r, err := c.searchOne(ctx, q)
		if err != nil {
			metrics.SearchCalls.WithLabelValues(BackendPerplexity, "error").Inc()
			return nil, fmt.Errorf("search: perplexity query %q: %w", q, err)
		}
		metrics.SearchCalls.WithLabelValues(BackendPerplexity, "ok").Inc()
		results = append(results, r)
	}
	return results, nil
}

func (c *PerplexityClient) searchOne(ctx context.Context, query string) (Result, error) {
	body, err := json.Marshal(perplexityRequest{
		Model: c.model,
		Messages: []perplexityMessage{
			{Role: "system", Content: "Search the web and provide factual, sourced information."},
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Result{}, fmt.Errorf("upstream status %d: %s", resp.StatusCode, snippet)
	}

	var decoded perplexityResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Result{}, fmt.Errorf("empty response")
	}

	answer := decoded.Choices[0].Message.Content

	// First item carries the full answer; further citations are placeholders
	// so their URLs still survive deduplication and compilation.
	items := []Item{{
		Title:   "Perplexity Search: " + query,
		Content: answer,
		Score:   1.0,
	}}
	if len(decoded.Citations) > 0 {
		items[0].URL = decoded.Citations[0]
	}
	for i, u := range decoded.Citations {
		if i == 0 {
			continue
		}
		items = append(items, Item{
			Title:   fmt.Sprintf("Additional source %d", i),
			URL:     u,
			Content: "See primary source for the full answer.",
			Score:   0.5,
		})
	}

	return Result{Query: query, Items: items}, nil
}
