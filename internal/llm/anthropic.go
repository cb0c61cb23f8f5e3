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

const (
	defaultAnthropicURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion        = "2023-06-01"
	anthropicDefaultMaxToks = 4096
)

type anthropicClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	timeout    time.Duration
	onUsage    UsageCallback
}

func newAnthropicClient(opts Options) *anthropicClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	return &anthropicClient{
		httpClient: &http.Client{},
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		timeout:    opts.timeout(),
		onUsage:    opts.OnUsage,
	}
}

func (c *anthropicClient) Provider() Provider { return ProviderAnthropic }

type anthropicRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	// The messages API takes the system prompt out of band.
	system := ""
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, m)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxToks
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     req.Model,
		System:    system,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.LLMCalls.WithLabelValues(string(ProviderAnthropic), req.Task, "error").Inc()
		return nil, timeoutErr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.LLMCalls.WithLabelValues(string(ProviderAnthropic), req.Task, "error").Inc()
		return nil, fmt.Errorf("llm: anthropic status %d: %s", resp.StatusCode, snippet)
	}

	var decoded anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.LLMCalls.WithLabelValues(string(ProviderAnthropic), req.Task, "error").Inc()
		return nil, fmt.Errorf("llm: decode anthropic response: %w", err)
	}

	var text string
	for _, block := range decoded.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		metrics.LLMCalls.WithLabelValues(string(ProviderAnthropic), req.Task, "error").Inc()
		return nil, fmt.Errorf("llm: anthropic returned no text content")
	}

	out := &Response{
		Content: text,
		Model:   decoded.Model,
		Usage: Usage{
			InputTokens:  decoded.Usage.InputTokens,
			OutputTokens: decoded.Usage.OutputTokens,
		},
		Duration: time.Since(start),
	}

	recordUsage(ProviderAnthropic, req, out, c.onUsage)
	return out, nil
}
