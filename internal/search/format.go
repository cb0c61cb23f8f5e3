package search

import (
	"fmt"
	"strings"
)

// charsPerToken approximates the tokenizer: the excerpt budget is measured
// in characters at ~4 chars per token.
const charsPerToken = 4

// FormatResults merges all results' items across queries into one context
// string. Items are deduplicated by URL (last write wins) and each unique
// source is rendered as a block with title, URL and a content excerpt
// truncated to roughly maxTokensPerSource tokens.
func FormatResults(results []Result, maxTokensPerSource int) string {
	type entry struct {
		item  Item
		order int
	}

	merged := map[string]entry{}
	order := 0
	for _, r := range results {
		for _, it := range r.Items {
			if it.URL == "" && it.Content == "" {
				continue
			}
			key := it.URL
			if prev, ok := merged[key]; ok {
				// Last write wins, first-seen position kept.
				merged[key] = entry{item: it, order: prev.order}
				continue
			}
			merged[key] = entry{item: it, order: order}
			order++
		}
	}

	if len(merged) == 0 {
		return ""
	}

	ordered := make([]entry, order)
	for _, e := range merged {
		ordered[e.order] = e
	}

	budget := maxTokensPerSource * charsPerToken
	var b strings.Builder
	b.WriteString("Sources:\n\n")
	for _, e := range ordered {
		content := e.item.Content
		if e.item.RawContent != "" {
			content = e.item.RawContent
		}
		content = truncate(content, budget)

		fmt.Fprintf(&b, "Source: %s\nURL: %s\nContent: %s\n\n", e.item.Title, e.item.URL, content)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "... [truncated]"
}
