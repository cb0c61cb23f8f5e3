package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opencrew/deepresearch/internal/metrics"
)

const defaultOpenAIURL = "https://api.openai.com/v1/chat/completions"

type openaiClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	timeout    time.Duration
	onUsage    UsageCallback
}

func newOpenAIClient(opts Options) *openaiClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	return &openaiClient{
		// The HTTP client carries no timeout of its own; every call is
		// bounded by the per-request context deadline instead.
		httpClient: &http.Client{},
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		timeout:    opts.timeout(),
		onUsage:    opts.OnUsage,
	}
}

func (c *openaiClient) Provider() Provider { return ProviderOpenAI }

type openaiRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *openaiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	body, err := json.Marshal(openaiRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.LLMCalls.WithLabelValues(string(ProviderOpenAI), req.Task, "error").Inc()
		return nil, timeoutErr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.LLMCalls.WithLabelValues(string(ProviderOpenAI), req.Task, "error").Inc()
		return nil, fmt.Errorf("llm: openai status %d: %s", resp.StatusCode, snippet)
	}

	var decoded openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.LLMCalls.WithLabelValues(string(ProviderOpenAI), req.Task, "error").Inc()
		return nil, fmt.Errorf("llm: decode openai response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		metrics.LLMCalls.WithLabelValues(string(ProviderOpenAI), req.Task, "error").Inc()
		return nil, fmt.Errorf("llm: openai returned no choices")
	}

	out := &Response{
		Content: decoded.Choices[0].Message.Content,
		Model:   decoded.Model,
		Usage: Usage{
			InputTokens:  decoded.Usage.PromptTokens,
			OutputTokens: decoded.Usage.CompletionTokens,
		},
		Duration: time.Since(start),
	}

	recordUsage(ProviderOpenAI, req, out, c.onUsage)
	return out, nil
}

// recordUsage updates metrics and fires the telemetry callback; shared by
// both provider implementations.
func recordUsage(p Provider, req Request, resp *Response, cb UsageCallback) {
	metrics.LLMCalls.WithLabelValues(string(p), req.Task, "ok").Inc()
	metrics.LLMTokens.WithLabelValues(string(p), "input").Add(float64(resp.Usage.InputTokens))
	metrics.LLMTokens.WithLabelValues(string(p), "output").Add(float64(resp.Usage.OutputTokens))
	metrics.LLMDuration.WithLabelValues(string(p), req.Task).Observe(resp.Duration.Seconds())

	if cb != nil {
		cb(UsageEvent{
			Message:  resp.Content,
			Task:     req.Task,
			Model:    resp.Model,
			Provider: p,
			Usage:    resp.Usage,
			Duration: resp.Duration,
		})
	}
}
