package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider identifies an LLM provider. Clients are selected by this enum at
// construction, never by runtime type inspection.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// ErrTimeout is returned when a call exceeds its configured deadline. It is
// distinct from other failures because the workflow treats it as fatal for
// the current run rather than transient bad luck.
var ErrTimeout = errors.New("llm: call exceeded deadline")

// ErrUnknownProvider is returned for an unsupported provider name.
var ErrUnknownProvider = errors.New("llm: unknown provider")

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // system|user|assistant
	Content string `json:"content"`
}

// Request is a single completion call.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
	// Task labels the call for telemetry (plan_queries, write_section, ...).
	Task string
}

// Usage captures token counts reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the provider-normalized completion result.
type Response struct {
	Content  string
	Model    string
	Usage    Usage
	Duration time.Duration
}

// UsageEvent is handed to the telemetry callback after every call.
type UsageEvent struct {
	Message  string
	Task     string
	Model    string
	Provider Provider
	Usage    Usage
	Duration time.Duration
}

// UsageCallback receives telemetry after each LLM call.
type UsageCallback func(UsageEvent)

// Client is the capability interface implemented once per provider.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Provider() Provider
}

// Options configures client construction.
type Options struct {
	APIKey  string
	BaseURL string // override for tests; empty selects the provider default
	Timeout time.Duration
	OnUsage UsageCallback
}

const defaultTimeout = 120 * time.Second

func (o *Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return defaultTimeout
}

// NewClient constructs the client for the named provider. An unknown
// provider is a configuration error, raised immediately.
func NewClient(p Provider, opts Options) (Client, error) {
	switch p {
	case ProviderOpenAI:
		return newOpenAIClient(opts), nil
	case ProviderAnthropic:
		return newAnthropicClient(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
}

// ParseJSON decodes a structured model output into v, tolerating the usual
// markdown code fences. Anything else malformed is surfaced to the caller;
// structured-output failures are not retried here.
func ParseJSON(content string, v any) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	// Some models wrap JSON in prose; recover the outermost object.
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		start := strings.IndexAny(s, "{[")
		if start < 0 {
			return fmt.Errorf("llm: no JSON found in model output")
		}
		s = s[start:]
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("llm: malformed structured output: %w", err)
	}
	return nil
}

// timeoutErr maps a context deadline into the distinct timeout error.
func timeoutErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
