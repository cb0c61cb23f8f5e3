package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/opencrew/deepresearch/internal/activities"
)

// SectionResearchWorkflow researches and writes one section: generate
// queries, search, draft, grade, and on a failing grade search again with the
// grader's follow-up queries. The loop runs at most MaxSearchDepth searches;
// a section that never passes is returned best effort with QualityMet false.
func SectionResearchWorkflow(ctx workflow.Context, input SectionInput) (SectionResult, error) {
	logger := workflow.GetLogger(ctx)
	settings := input.Settings.withDefaults()

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	})

	emitEvent(ctx, input.RunID, activities.EmitResearchUpdateInput{
		Type:    "SECTION_STARTED",
		Section: input.Section.Name,
	})

	queries, err := sectionQueries(ctx, input, settings)
	if err != nil {
		return SectionResult{Section: input.Section}, err
	}

	var (
		content    string
		qualityMet bool
		iterations int
	)
	for iterations < *settings.MaxSearchDepth {
		iterations++

		emitEvent(ctx, input.RunID, activities.EmitResearchUpdateInput{
			Type:    "SECTION_SEARCHING",
			Section: input.Section.Name,
		})

		var sources activities.SearchOutput
		err = workflow.ExecuteActivity(ctx, activities.SearchWebActivity, activities.SearchInput{
			Queries:           queries,
			Backend:           settings.SearchBackend,
			SourceTokenBudget: settings.SourceTokenBudget,
		}).Get(ctx, &sources)
		if err != nil {
			return SectionResult{Section: input.Section, SearchIterations: iterations}, err
		}

		var draft activities.WriteSectionResult
		err = workflow.ExecuteActivity(ctx, activities.WriteSectionActivity, activities.WriteSectionInput{
			Topic:           input.Topic,
			Section:         input.Section,
			SourceText:      sources.SourceText,
			DocumentSummary: input.DocumentSummary,
			ExistingContent: content,
			Model:           settings.Writer,
		}).Get(ctx, &draft)
		if err != nil {
			return SectionResult{Section: input.Section, SearchIterations: iterations}, err
		}
		content = draft.Content

		var grade activities.GradeResult
		err = workflow.ExecuteActivity(ctx, activities.GradeSectionActivity, activities.GradeSectionInput{
			Topic:           input.Topic,
			Section:         input.Section,
			Content:         content,
			NumberOfQueries: settings.NumberOfQueries,
			Model:           settings.Planner,
		}).Get(ctx, &grade)
		if err != nil {
			return SectionResult{Section: input.Section, SearchIterations: iterations}, err
		}

		emitEvent(ctx, input.RunID, activities.EmitResearchUpdateInput{
			Type:    "SECTION_GRADED",
			Section: input.Section.Name,
			Message: grade.Grade,
		})

		if grade.Grade == activities.GradePass {
			qualityMet = true
			break
		}
		if len(grade.FollowUpQueries) > 0 {
			queries = grade.FollowUpQueries
		}
	}

	if !qualityMet {
		logger.Warn("Section finished without meeting the quality bar",
			"section", input.Section.Name,
			"iterations", iterations)
	}

	emitEvent(ctx, input.RunID, activities.EmitResearchUpdateInput{
		Type:    "SECTION_COMPLETED",
		Section: input.Section.Name,
	})

	section := input.Section
	section.Content = content
	return SectionResult{
		Section:          section,
		QualityMet:       qualityMet,
		SearchIterations: iterations,
	}, nil
}

// sectionQueries generates the opening search queries, retrying once when the
// model returns none and finally falling back to the section scope itself.
func sectionQueries(ctx workflow.Context, input SectionInput, settings ResearchSettings) ([]string, error) {
	in := activities.SectionQueriesInput{
		SectionName:        input.Section.Name,
		SectionDescription: input.Section.Description,
		NumberOfQueries:    settings.NumberOfQueries,
		Model:              settings.Planner,
	}
	for attempt := 0; attempt < 2; attempt++ {
		var result activities.QueriesResult
		if err := workflow.ExecuteActivity(ctx, activities.GenerateSectionQueriesActivity, in).Get(ctx, &result); err != nil {
			return nil, err
		}
		if len(result.Queries) > 0 {
			return result.Queries, nil
		}
	}
	return []string{input.Section.Name + ": " + input.Section.Description}, nil
}

// emitEvent publishes a progress event, ignoring failures. Progress streaming
// is best effort and never blocks the research itself.
func emitEvent(ctx workflow.Context, runID string, in activities.EmitResearchUpdateInput) {
	in.RunID = runID
	in.Timestamp = workflow.Now(ctx)
	opts := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	_ = workflow.ExecuteActivity(opts, activities.EmitResearchUpdateActivity, in).Get(opts, nil)
}
