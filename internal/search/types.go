package search

import (
	"context"
	"errors"
	"fmt"
)

// Backend names selectable via configuration.
const (
	BackendTavily     = "tavily"
	BackendPerplexity = "perplexity"
)

// ErrUnknownBackend is returned for a search backend name that is not
// supported. Configuration errors are never silently defaulted.
var ErrUnknownBackend = errors.New("search: unknown backend")

// Item is a single search hit.
type Item struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content,omitempty"`
	Score      float64 `json:"score"`
}

// Result groups the hits returned for one query.
type Result struct {
	Query string `json:"query"`
	Items []Item `json:"items"`
}

// Provider is the uniform interface over interchangeable web-search backends.
type Provider interface {
	// Search resolves all queries and returns one Result per query, in
	// query order. Backends degrade per query rather than failing the
	// whole batch.
	Search(ctx context.Context, queries []string) ([]Result, error)
	Name() string
}

// SelectProvider resolves a configured backend name against the wired
// providers. Unknown names and known names without a wired provider are
// errors; configuration mistakes are never silently defaulted.
func SelectProvider(name string, providers map[string]Provider) (Provider, error) {
	switch name {
	case BackendTavily, BackendPerplexity:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	p, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("search: backend %q not configured", name)
	}
	return p, nil
}
