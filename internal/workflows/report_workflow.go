package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/opencrew/deepresearch/internal/activities"
	"github.com/opencrew/deepresearch/internal/citations"
)

// ResearchReportWorkflow runs a full research report: plan the sections,
// block for human approval of the plan, research the approved sections in
// parallel child workflows, write the remaining sections from the research,
// and compile the report with its citation list.
//
// The workflow never fails with a bare error. Every outcome, including
// failure, is a structurally complete ReportResult so callers can rely on its
// shape.
func ResearchReportWorkflow(ctx workflow.Context, input ReportInput) (ReportResult, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)
	settings := input.Settings.withDefaults()

	result := ReportResult{
		Topic:     input.Topic,
		Status:    StatusFailed,
		Sections:  []ReportSection{},
		Citations: []activities.Citation{},
	}
	if strings.TrimSpace(input.Topic) == "" {
		result.ErrorMessage = "topic is required"
		return result, nil
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	})
	runID := info.WorkflowExecution.ID

	emitEvent(ctx, runID, activities.EmitResearchUpdateInput{Type: "RUN_STARTED", Message: input.Topic})
	persistRun(ctx, input, "running", "", "", 0)

	// Plan loop. Each cycle proposes a plan and blocks on the review signal;
	// rejection or feedback starts another cycle.
	plan, planCycles, err := planWithApproval(ctx, input, settings)
	if err != nil {
		return failRun(ctx, input, result, err)
	}
	result.PlanCycles = planCycles

	// Optional user document, summarized once the plan is approved and threaded
	// through the section writing prompts.
	documentSummary := ""
	if strings.TrimSpace(input.Document) != "" {
		var summary activities.SummarizeDocumentResult
		err := workflow.ExecuteActivity(ctx, activities.SummarizeDocumentActivity, activities.SummarizeDocumentInput{
			Document: input.Document,
			Model:    settings.Writer,
		}).Get(ctx, &summary)
		if err != nil {
			return failRun(ctx, input, result, fmt.Errorf("summarize document: %w", err))
		}
		documentSummary = summary.Summary
		emitEvent(ctx, runID, activities.EmitResearchUpdateInput{Type: "DOCUMENT_SUMMARIZED"})
	}

	researchSections := make([]activities.Section, 0, len(plan))
	for _, s := range plan {
		if s.Research {
			researchSections = append(researchSections, s)
		}
	}

	sectionResults, err := researchInParallel(ctx, input, settings, documentSummary, researchSections)
	if err != nil {
		return failRun(ctx, input, result, err)
	}

	// Assemble results back into plan order, writing the non-research
	// sections from the completed research.
	researchContext := formatResearchContext(sectionResults)
	byName := make(map[string]SectionResult, len(sectionResults))
	for _, sr := range sectionResults {
		byName[sr.Section.Name] = sr
	}

	finalDrafts, err := writeFinalSections(ctx, input, settings, plan, researchContext)
	if err != nil {
		return failRun(ctx, input, result, err)
	}

	docs := make([]citations.SectionDoc, 0, len(plan))
	for i, s := range plan {
		rs := ReportSection{
			Name:        s.Name,
			Description: s.Description,
			Research:    s.Research,
			QualityMet:  true,
		}
		if s.Research {
			sr := byName[s.Name]
			rs.Content = sr.Section.Content
			rs.QualityMet = sr.QualityMet
			rs.SearchIterations = sr.SearchIterations
		} else {
			rs.Content = finalDrafts[i]
		}
		_, sectionCites := citations.ExtractAll(rs.Content)
		for _, c := range sectionCites {
			rs.Citations = append(rs.Citations, activities.Citation{Title: c.Title, URL: c.URL})
		}
		result.Sections = append(result.Sections, rs)
		result.CompletedSections++
		docs = append(docs, citations.SectionDoc{Name: s.Name, Content: rs.Content})

		persistSection(ctx, info.WorkflowExecution.ID, rs)
	}

	compiled := citations.CompileReport(docs)
	result.FinalReport = compiled.FinalReport
	for _, c := range compiled.Citations {
		result.Citations = append(result.Citations, activities.Citation{Title: c.Title, URL: c.URL})
	}
	result.Status = StatusCompleted

	persistCitations(ctx, info.WorkflowExecution.ID, result.Citations)
	persistRun(ctx, input, StatusCompleted, result.FinalReport, "", result.PlanCycles)
	emitEvent(ctx, runID, activities.EmitResearchUpdateInput{Type: "REPORT_COMPILED"})

	logger.Info("Research report completed",
		"topic", input.Topic,
		"sections", result.CompletedSections,
		"citations", len(result.Citations),
		"plan_cycles", planCycles)
	return result, nil
}

// planWithApproval proposes plans until the reviewer approves one. Returns
// the approved sections and the number of planning cycles taken.
func planWithApproval(ctx workflow.Context, input ReportInput, settings ResearchSettings) ([]activities.Section, int, error) {
	runID := workflow.GetInfo(ctx).WorkflowExecution.ID
	signalCh := workflow.GetSignalChannel(ctx, SignalPlanFeedback)

	feedback := ""
	cycles := 0
	for {
		cycles++

		var queries activities.QueriesResult
		err := workflow.ExecuteActivity(ctx, activities.GeneratePlanQueriesActivity, activities.PlanQueriesInput{
			Topic:           input.Topic,
			ReportStructure: settings.ReportStructure,
			NumberOfQueries: settings.NumberOfQueries,
			Model:           settings.Planner,
		}).Get(ctx, &queries)
		if err != nil {
			return nil, cycles, fmt.Errorf("plan queries: %w", err)
		}

		var sources activities.SearchOutput
		err = workflow.ExecuteActivity(ctx, activities.SearchWebActivity, activities.SearchInput{
			Queries:           queries.Queries,
			Backend:           settings.SearchBackend,
			SourceTokenBudget: settings.SourceTokenBudget,
		}).Get(ctx, &sources)
		if err != nil {
			return nil, cycles, fmt.Errorf("plan search: %w", err)
		}

		var plan activities.PlanSectionsResult
		err = workflow.ExecuteActivity(ctx, activities.PlanReportSectionsActivity, activities.PlanSectionsInput{
			Topic:           input.Topic,
			ReportStructure: settings.ReportStructure,
			SourceContext:   sources.SourceText,
			Feedback:        feedback,
			Model:           settings.Planner,
		}).Get(ctx, &plan)
		if err != nil {
			return nil, cycles, fmt.Errorf("plan sections: %w", err)
		}

		emitEvent(ctx, runID, activities.EmitResearchUpdateInput{
			Type:    "PLAN_PROPOSED",
			Message: formatPlan(plan.Sections),
		})
		emitEvent(ctx, runID, activities.EmitResearchUpdateInput{
			Type:    "APPROVAL_REQUESTED",
			Message: "Approve the proposed plan to start research, or reply with feedback to revise it.",
		})

		var decision PlanFeedbackSignal
		signalCh.Receive(ctx, &decision)

		emitEvent(ctx, runID, activities.EmitResearchUpdateInput{
			Type:    "APPROVAL_DECISION",
			Message: decision.Feedback,
		})

		switch {
		case decision.Feedback != "":
			feedback = decision.Feedback
		case decision.Approved:
			return plan.Sections, cycles, nil
		default:
			feedback = rejectionFeedback
		}
	}
}

// researchInParallel fans the research sections out to child workflows,
// bounded by MaxConcurrentSections, and gathers their results.
func researchInParallel(ctx workflow.Context, input ReportInput, settings ResearchSettings, documentSummary string, sections []activities.Section) ([]SectionResult, error) {
	if len(sections) == 0 {
		return nil, nil
	}
	info := workflow.GetInfo(ctx)
	runID := info.WorkflowExecution.ID

	sem := workflow.NewSemaphore(ctx, int64(settings.MaxConcurrentSections))
	results := make([]SectionResult, len(sections))
	errs := make([]error, len(sections))
	pending := len(sections)

	for i, section := range sections {
		i, section := i, section
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer func() { pending-- }()
			if err := sem.Acquire(gctx, 1); err != nil {
				errs[i] = err
				return
			}
			defer sem.Release(1)

			childCtx := workflow.WithChildOptions(gctx, workflow.ChildWorkflowOptions{
				WorkflowID: fmt.Sprintf("%s-section-%d", info.WorkflowExecution.ID, i),
			})
			errs[i] = workflow.ExecuteChildWorkflow(childCtx, SectionResearchWorkflow, SectionInput{
				Topic:           input.Topic,
				RunID:           runID,
				Section:         section,
				DocumentSummary: documentSummary,
				Settings:        settings,
			}).Get(gctx, &results[i])
		})
	}

	if err := workflow.Await(ctx, func() bool { return pending == 0 }); err != nil {
		return nil, err
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", sections[i].Name, err)
		}
	}
	return results, nil
}

// writeFinalSections writes the non-research sections in parallel. The
// returned slice is indexed by plan position; research positions are empty.
func writeFinalSections(ctx workflow.Context, input ReportInput, settings ResearchSettings, plan []activities.Section, researchContext string) ([]string, error) {
	drafts := make([]string, len(plan))
	errs := make([]error, len(plan))
	pending := 0

	for i, section := range plan {
		if section.Research {
			continue
		}
		pending++
		i, section := i, section
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer func() { pending-- }()
			var out activities.WriteSectionResult
			errs[i] = workflow.ExecuteActivity(gctx, activities.WriteFinalSectionActivity, activities.WriteFinalSectionInput{
				Topic:           input.Topic,
				Section:         section,
				ResearchContext: researchContext,
				Model:           settings.Writer,
			}).Get(gctx, &out)
			drafts[i] = out.Content
		})
	}

	if err := workflow.Await(ctx, func() bool { return pending == 0 }); err != nil {
		return nil, err
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("final section %q: %w", plan[i].Name, err)
		}
	}
	return drafts, nil
}

// failRun records and reports a failed run. The failure travels in-band in
// the result so the caller still receives the completed sections.
func failRun(ctx workflow.Context, input ReportInput, result ReportResult, err error) (ReportResult, error) {
	workflow.GetLogger(ctx).Error("Research run failed", "topic", input.Topic, "error", err)
	result.Status = StatusFailed
	result.ErrorMessage = err.Error()
	persistRun(ctx, input, StatusFailed, "", err.Error(), result.PlanCycles)
	emitEvent(ctx, workflow.GetInfo(ctx).WorkflowExecution.ID, activities.EmitResearchUpdateInput{
		Type:    "RUN_FAILED",
		Message: err.Error(),
	})
	return result, nil
}

func formatPlan(sections []activities.Section) string {
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	return b.String()
}

func formatResearchContext(results []SectionResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", r.Section.Name, r.Section.Content)
	}
	return b.String()
}

func persistRun(ctx workflow.Context, input ReportInput, status, finalReport, errMsg string, planCycles int) {
	info := workflow.GetInfo(ctx)
	opts := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	_ = workflow.ExecuteActivity(opts, activities.PersistRunActivity, activities.PersistRunInput{
		WorkflowID:   info.WorkflowExecution.ID,
		ThreadID:     input.ThreadID,
		UserID:       input.UserID,
		Topic:        input.Topic,
		Status:       status,
		ErrorMessage: errMsg,
		FinalReport:  finalReport,
		PlanCycles:   planCycles,
	}).Get(opts, nil)
}

func persistSection(ctx workflow.Context, workflowID string, s ReportSection) {
	opts := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	_ = workflow.ExecuteActivity(opts, activities.PersistSectionActivity, activities.PersistSectionInput{
		WorkflowID:       workflowID,
		Name:             s.Name,
		Description:      s.Description,
		Content:          s.Content,
		ResearchRequired: s.Research,
		SearchIterations: s.SearchIterations,
		QualityMet:       s.QualityMet,
	}).Get(opts, nil)
}

func persistCitations(ctx workflow.Context, workflowID string, cites []activities.Citation) {
	if len(cites) == 0 {
		return
	}
	opts := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	_ = workflow.ExecuteActivity(opts, activities.PersistCitationsActivity, activities.PersistCitationsInput{
		WorkflowID: workflowID,
		Citations:  cites,
	}).Get(opts, nil)
}
