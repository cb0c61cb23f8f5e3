package activities

import (
	"context"
	"fmt"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/opencrew/deepresearch/internal/metrics"
)

// GenerateSectionQueries produces the search queries for one section's
// research iteration.
func (a *Activities) GenerateSectionQueries(ctx context.Context, in SectionQueriesInput) (QueriesResult, error) {
	prompt := fmt.Sprintf(sectionQueriesSystemPrompt,
		in.SectionName, in.SectionDescription, in.NumberOfQueries)
	raw, err := a.complete(ctx, in.Model, "section_queries", prompt)
	if err != nil {
		return QueriesResult{}, err
	}
	var result QueriesResult
	if err := parseInto("section_queries", raw, &result); err != nil {
		return QueriesResult{}, err
	}
	return result, nil
}

// WriteSection drafts or revises a research section from the formatted
// sources. When ExistingContent is set the model revises rather than starts
// over.
func (a *Activities) WriteSection(ctx context.Context, in WriteSectionInput) (WriteSectionResult, error) {
	summaryBlock := ""
	if in.DocumentSummary != "" {
		summaryBlock = fmt.Sprintf("\nBackground supplied by the user:\n%s\n", in.DocumentSummary)
	}
	existingBlock := ""
	if in.ExistingContent != "" {
		existingBlock = fmt.Sprintf("\nThe previous draft below missed part of the scope. Revise it using the new sources instead of starting over:\n%s\n", in.ExistingContent)
	}
	prompt := fmt.Sprintf(writeSectionSystemPrompt,
		in.Topic, in.Section.Name, in.Section.Description,
		summaryBlock, existingBlock, in.SourceText)
	raw, err := a.complete(ctx, in.Model, "write_section", prompt)
	if err != nil {
		return WriteSectionResult{}, err
	}
	content := strings.TrimSpace(raw)
	if content == "" {
		return WriteSectionResult{}, temporal.NewNonRetryableApplicationError(
			"write_section: model returned empty content", "MalformedOutput", nil)
	}
	return WriteSectionResult{Content: content}, nil
}

// GradeSection reviews a drafted section against its scope and, on failure,
// returns follow-up queries targeting the gaps.
func (a *Activities) GradeSection(ctx context.Context, in GradeSectionInput) (GradeResult, error) {
	prompt := fmt.Sprintf(gradeSectionSystemPrompt,
		in.Topic, in.Section.Name, in.Section.Description, in.Content, in.NumberOfQueries)
	raw, err := a.complete(ctx, in.Model, "grade_section", prompt)
	if err != nil {
		return GradeResult{}, err
	}
	var result GradeResult
	if err := parseInto("grade_section", raw, &result); err != nil {
		return GradeResult{}, err
	}
	switch result.Grade {
	case GradePass, GradeFail:
	default:
		return GradeResult{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("grade_section: unknown grade %q", result.Grade), "MalformedOutput", nil)
	}
	metrics.SectionGrades.WithLabelValues(result.Grade).Inc()
	a.logger.Debug("Graded section",
		zap.String("section", in.Section.Name),
		zap.String("grade", result.Grade),
		zap.Int("follow_ups", len(result.FollowUpQueries)))
	return result, nil
}

// WriteFinalSection writes a non-research section (introduction, conclusion)
// from the completed research sections.
func (a *Activities) WriteFinalSection(ctx context.Context, in WriteFinalSectionInput) (WriteSectionResult, error) {
	prompt := fmt.Sprintf(writeFinalSectionSystemPrompt,
		in.Topic, in.Section.Name, in.Section.Description, in.ResearchContext)
	raw, err := a.complete(ctx, in.Model, "write_final_section", prompt)
	if err != nil {
		return WriteSectionResult{}, err
	}
	content := strings.TrimSpace(raw)
	if content == "" {
		return WriteSectionResult{}, temporal.NewNonRetryableApplicationError(
			"write_final_section: model returned empty content", "MalformedOutput", nil)
	}
	return WriteSectionResult{Content: content}, nil
}
