package citations

import (
	"fmt"
	"strings"
)

// SectionDoc is one named report section with its raw markdown content,
// in planned order.
type SectionDoc struct {
	Name    string
	Content string
}

// CompiledReport is the deterministic output of CompileReport.
type CompiledReport struct {
	FinalReport string
	Citations   []Citation
}

// CompileReport runs both extraction passes per section, concatenates the
// cleaned bodies under one heading per section name and appends a single
// consolidated "Citations" section. Citations are deduplicated by normalized
// URL (first occurrence wins); a citation with an empty URL is discarded.
// Identical input always yields identical output.
func CompileReport(sections []SectionDoc) CompiledReport {
	var (
		b    strings.Builder
		all  []Citation
		seen = map[string]bool{}
	)

	for i, s := range sections {
		body, cites := ExtractAll(s.Content)
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## " + s.Name + "\n\n")
		b.WriteString(strings.TrimSpace(body))
		b.WriteString("\n")

		for _, c := range cites {
			if strings.TrimSpace(c.URL) == "" {
				continue
			}
			key := c.URL
			if normalized, err := NormalizeURL(c.URL); err == nil && normalized != "" {
				key = normalized
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, c)
		}
	}

	if len(all) > 0 {
		b.WriteString("\n## Citations\n\n")
		for _, c := range all {
			title := c.Title
			if title == "" {
				title = "Untitled"
			}
			b.WriteString(fmt.Sprintf("- [%s](%s)\n", title, c.URL))
		}
	}

	return CompiledReport{FinalReport: b.String(), Citations: all}
}
