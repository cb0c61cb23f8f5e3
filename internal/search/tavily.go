package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/opencrew/deepresearch/internal/keys"
	"github.com/opencrew/deepresearch/internal/metrics"
)

const defaultTavilyURL = "https://api.tavily.com/search"

// TavilyClient issues one HTTP call per query, all in parallel, each call
// using a freshly rotated API key. Transient upstream gateway errors (502)
// are retried with key rotation and linear backoff; a query that still fails
// falls back to the single-query backend, and if that also fails the query
// degrades to an empty result rather than raising.
type TavilyClient struct {
	httpClient *http.Client
	rotator    *keys.Rotator
	limiter    *rate.Limiter
	fallback   Provider
	logger     *zap.Logger

	baseURL       string
	maxResults    int
	includeRaw    bool
	retryAttempts int
	backoffUnit   time.Duration
}

// TavilyOption customizes a TavilyClient.
type TavilyOption func(*TavilyClient)

// WithTavilyBaseURL overrides the API endpoint (tests point this at a local
// httptest server).
func WithTavilyBaseURL(u string) TavilyOption {
	return func(c *TavilyClient) { c.baseURL = u }
}

// WithTavilyFallback sets the single-query backend used when a query
// exhausts its retries.
func WithTavilyFallback(p Provider) TavilyOption {
	return func(c *TavilyClient) { c.fallback = p }
}

// WithTavilyBackoffUnit shrinks the linear backoff step in tests.
func WithTavilyBackoffUnit(d time.Duration) TavilyOption {
	return func(c *TavilyClient) { c.backoffUnit = d }
}

// WithTavilyRateLimit caps outbound queries per second across all
// concurrent search tasks sharing this client.
func WithTavilyRateLimit(qps float64, burst int) TavilyOption {
	return func(c *TavilyClient) { c.limiter = rate.NewLimiter(rate.Limit(qps), burst) }
}

// NewTavilyClient builds the concurrent backend over a key rotator.
func NewTavilyClient(rotator *keys.Rotator, logger *zap.Logger, opts ...TavilyOption) *TavilyClient {
	c := &TavilyClient{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		rotator:       rotator,
		limiter:       rate.NewLimiter(rate.Limit(10), 20),
		logger:        logger,
		baseURL:       defaultTavilyURL,
		maxResults:    5,
		includeRaw:    true,
		retryAttempts: 2,
		backoffUnit:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TavilyClient) Name() string { return BackendTavily }

type tavilyRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	IncludeRawContent bool   `json:"include_raw_content"`
	SearchDepth       string `json:"search_depth"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		Content    string  `json:"content"`
		RawContent string  `json:"raw_content"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

// Search fans one request out per query. Per-query failures degrade; the
// returned slice always has one entry per query, in query order.
func (c *TavilyClient) Search(ctx context.Context, queries []string) ([]Result, error) {
	results := make([]Result, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()
			results[i] = c.searchOne(ctx, query)
		}(i, q)
	}
	wg.Wait()

	return results, nil
}

func (c *TavilyClient) searchOne(ctx context.Context, query string) Result {
	var lastErr error

	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			// Linear backoff: 1s, 2s, ... before each retry.
			select {
			case <-time.After(time.Duration(attempt) * c.backoffUnit):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
			metrics.SearchRetries.WithLabelValues(BackendTavily).Inc()
		}

		items, err := c.call(ctx, query)
		if err == nil {
			metrics.SearchCalls.WithLabelValues(BackendTavily, "ok").Inc()
			return Result{Query: query, Items: items}
		}
		lastErr = err

		if !isRetryable(err) {
			break
		}
		c.logger.Warn("Transient search failure, rotating key",
			zap.String("query", query),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	metrics.SearchCalls.WithLabelValues(BackendTavily, "error").Inc()

	if c.fallback != nil {
		c.logger.Info("Falling back to single-query backend",
			zap.String("query", query),
			zap.Error(lastErr),
		)
		if fr, err := c.fallback.Search(ctx, []string{query}); err == nil && len(fr) == 1 {
			metrics.SearchFallbacks.WithLabelValues(c.fallback.Name()).Inc()
			return Result{Query: query, Items: fr[0].Items}
		}
	}

	c.logger.Error("Search failed after retries and fallback, returning empty result",
		zap.String("query", query),
		zap.Error(lastErr),
	)
	return Result{Query: query}
}

// transientStatusError marks a retryable upstream failure.
type transientStatusError struct {
	status int
}

func (e *transientStatusError) Error() string {
	return fmt.Sprintf("search: upstream returned %d", e.status)
}

func isRetryable(err error) bool {
	var tse *transientStatusError
	if errors.As(err, &tse) {
		return tse.status == http.StatusBadGateway
	}
	return false
}

func (c *TavilyClient) call(ctx context.Context, query string) ([]Item, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// Fresh key per attempt so a rate-limited key rotates out.
	body, err := json.Marshal(tavilyRequest{
		APIKey:            c.rotator.Next(),
		Query:             query,
		MaxResults:        c.maxResults,
		IncludeRawContent: c.includeRaw,
		SearchDepth:       "advanced",
	})
	if err != nil {
		return nil, fmt.Errorf("search: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadGateway {
		return nil, &transientStatusError{status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("search: upstream status %d: %s", resp.StatusCode, snippet)
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}

	items := make([]Item, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		items = append(items, Item{
			Title:      r.Title,
			URL:        r.URL,
			Content:    r.Content,
			RawContent: r.RawContent,
			Score:      r.Score,
		})
	}
	return items, nil
}
