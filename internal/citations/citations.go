package citations

import (
	"net/url"
	"regexp"
	"strings"
)

// Citation is a single normalized source reference. A citation with an empty
// URL is invalid and is discarded by the compiler.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

var (
	// Matches a "Sources" heading in any of the usual markdown spellings:
	// "### Sources", "**Sources:**", "Sources", "## sources:" ...
	sourcesHeadingRe = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?[*_]*\s*sources\s*:?\s*[*_]*\s*$`)

	headingRe = regexp.MustCompile(`^\s*#{1,6}\s`)

	// Leading bullet or numbered-list markers on citation lines.
	listMarkerRe = regexp.MustCompile(`^\s*(?:[-*+]\s+|\d+[.)]\s+)+`)

	urlRe = regexp.MustCompile(`https?://[^\s\)\]>"']+`)
)

// parseCitationLine extracts a citation from a single line. The first
// http(s):// substring is the URL; everything before it, stripped of list
// markers, link punctuation and trailing colons, is the title. Lines without
// a URL yield ok=false.
func parseCitationLine(line string) (Citation, bool) {
	loc := urlRe.FindStringIndex(line)
	if loc == nil {
		return Citation{}, false
	}
	rawURL := strings.TrimRight(line[loc[0]:loc[1]], ".,;")

	title := line[:loc[0]]
	title = listMarkerRe.ReplaceAllString(title, "")
	title = strings.Trim(title, " \t[]()*_")
	title = strings.TrimRight(title, ":- \t")
	title = strings.TrimSpace(title)

	return Citation{Title: title, URL: rawURL}, true
}

// ExtractSourcesBlock scans section markdown line by line, strips a trailing
// "Sources" block and returns the cleaned body plus the citations found in
// that block. A blank line or a new heading ends the block and returns the
// scanner to normal-text mode. Citation lines that contain no URL are dropped
// from the output without producing a citation.
func ExtractSourcesBlock(text string) (string, []Citation) {
	var (
		cleaned   []string
		citations []Citation
		inSources bool
	)

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if inSources {
			if trimmed == "" || headingRe.MatchString(line) {
				inSources = false
				// The terminating line is ordinary text again.
				if sourcesHeadingRe.MatchString(line) {
					inSources = true
					continue
				}
				cleaned = append(cleaned, line)
				continue
			}
			if c, ok := parseCitationLine(line); ok {
				citations = append(citations, c)
			}
			// URL-less lines inside the block are dropped as well.
			continue
		}

		if sourcesHeadingRe.MatchString(line) {
			inSources = true
			continue
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimRight(strings.Join(cleaned, "\n"), "\n") + trailingNewline(text), citations
}

// trailingNewline preserves a final newline when the input had one; the
// transform stays idempotent either way.
func trailingNewline(text string) string {
	if strings.HasSuffix(text, "\n") {
		return "\n"
	}
	return ""
}

// RemoveInlineCitationLines removes any remaining bullet line that itself
// contains a URL, extracting it as an additional citation. This guards
// against sources cited inline outside the dedicated block.
func RemoveInlineCitationLines(text string) (string, []Citation) {
	var (
		cleaned   []string
		citations []Citation
	)

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		isBullet := strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "- ") ||
			trimmed == "*" || trimmed == "-"
		if isBullet && urlRe.MatchString(line) {
			if c, ok := parseCitationLine(line); ok {
				citations = append(citations, c)
			}
			continue
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimRight(strings.Join(cleaned, "\n"), "\n") + trailingNewline(text), citations
}

// ExtractAll runs both passes over one section's markdown and returns the
// fully cleaned body with every discovered citation.
func ExtractAll(text string) (string, []Citation) {
	body, cites := ExtractSourcesBlock(text)
	body, inline := RemoveInlineCitationLines(body)
	return body, append(cites, inline...)
}

// NormalizeURL canonicalizes a URL for deduplication: lowercased scheme and
// host, no www. prefix, no fragment, tracking query parameters removed, no
// trailing slash.
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Host = strings.TrimPrefix(parsed.Host, "www.")
	parsed.Fragment = ""

	if parsed.RawQuery != "" {
		q := parsed.Query()
		for _, param := range []string{
			"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
			"fbclid", "gclid", "msclkid",
			"ref", "source",
		} {
			q.Del(param)
		}
		parsed.RawQuery = q.Encode()
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/")

	return parsed.String(), nil
}
