package workflows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/opencrew/deepresearch/internal/activities"
	"github.com/opencrew/deepresearch/internal/config"
)

// fixture stubs out every activity the workflows execute and counts calls so
// tests can assert on the control flow.
type fixture struct {
	mu sync.Mutex

	planQueryCalls   int
	planCalls        int
	planFeedback     []string
	searchCalls      int
	sectionQueries   int
	writeCalls       int
	writeSummaries   []string
	gradeCalls       int
	finalWriteCalls  int
	summarizeCalls   int
	persistedRuns    []activities.PersistRunInput
	persistedSecs    []activities.PersistSectionInput
	persistedCites   []activities.PersistCitationsInput
	events           []activities.EmitResearchUpdateInput
	emptyQueryRounds int

	// grades are consumed per GradeSection call; when exhausted the last
	// entry repeats.
	grades []string

	plan []activities.Section
}

func newFixture() *fixture {
	return &fixture{
		grades: []string{activities.GradePass},
		plan: []activities.Section{
			{Name: "Hardware Approaches", Description: "qubit technologies", Research: true},
			{Name: "Error Correction", Description: "fault tolerance", Research: true},
			{Name: "Conclusion", Description: "wrap up", Research: false},
		},
	}
}

func (f *fixture) register(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterWorkflow(ResearchReportWorkflow)
	env.RegisterWorkflow(SectionResearchWorkflow)

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.PlanQueriesInput) (activities.QueriesResult, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.planQueryCalls++
		return activities.QueriesResult{Queries: []string{in.Topic + " overview"}}, nil
	}, activity.RegisterOptions{Name: activities.GeneratePlanQueriesActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.PlanSectionsInput) (activities.PlanSectionsResult, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.planCalls++
		f.planFeedback = append(f.planFeedback, in.Feedback)
		return activities.PlanSectionsResult{Sections: f.plan}, nil
	}, activity.RegisterOptions{Name: activities.PlanReportSectionsActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.SummarizeDocumentInput) (activities.SummarizeDocumentResult, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.summarizeCalls++
		return activities.SummarizeDocumentResult{Summary: "summary of the document"}, nil
	}, activity.RegisterOptions{Name: activities.SummarizeDocumentActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.SectionQueriesInput) (activities.QueriesResult, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sectionQueries++
		if f.emptyQueryRounds > 0 {
			f.emptyQueryRounds--
			return activities.QueriesResult{}, nil
		}
		return activities.QueriesResult{Queries: []string{in.SectionName + " details"}}, nil
	}, activity.RegisterOptions{Name: activities.GenerateSectionQueriesActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.SearchInput) (activities.SearchOutput, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.searchCalls++
		return activities.SearchOutput{
			SourceText:  "Sources:\n\nSource: Ref\nURL: https://example.com/ref\n",
			SourceCount: 1,
		}, nil
	}, activity.RegisterOptions{Name: activities.SearchWebActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.WriteSectionInput) (activities.WriteSectionResult, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.writeCalls++
		f.writeSummaries = append(f.writeSummaries, in.DocumentSummary)
		content := fmt.Sprintf("%s findings.\n\n### Sources\n- Ref: https://example.com/%s\n",
			in.Section.Name, strings.ToLower(strings.ReplaceAll(in.Section.Name, " ", "-")))
		return activities.WriteSectionResult{Content: content}, nil
	}, activity.RegisterOptions{Name: activities.WriteSectionActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.GradeSectionInput) (activities.GradeResult, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		idx := f.gradeCalls
		f.gradeCalls++
		if idx >= len(f.grades) {
			idx = len(f.grades) - 1
		}
		grade := f.grades[idx]
		result := activities.GradeResult{Grade: grade}
		if grade == activities.GradeFail {
			result.FollowUpQueries = []string{in.Section.Name + " gaps"}
		}
		return result, nil
	}, activity.RegisterOptions{Name: activities.GradeSectionActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.WriteFinalSectionInput) (activities.WriteSectionResult, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.finalWriteCalls++
		return activities.WriteSectionResult{Content: in.Section.Name + " drawn from the research."}, nil
	}, activity.RegisterOptions{Name: activities.WriteFinalSectionActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.EmitResearchUpdateInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, in)
		return nil
	}, activity.RegisterOptions{Name: activities.EmitResearchUpdateActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.PersistRunInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.persistedRuns = append(f.persistedRuns, in)
		return nil
	}, activity.RegisterOptions{Name: activities.PersistRunActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.PersistSectionInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.persistedSecs = append(f.persistedSecs, in)
		return nil
	}, activity.RegisterOptions{Name: activities.PersistSectionActivity})

	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.PersistCitationsInput) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.persistedCites = append(f.persistedCites, in)
		return nil
	}, activity.RegisterOptions{Name: activities.PersistCitationsActivity})
}

func (f *fixture) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.events))
	for i, e := range f.events {
		types[i] = e.Type
	}
	return types
}

func depthOf(n int) *int {
	return &n
}

func testSettings() ResearchSettings {
	return ResearchSettings{
		NumberOfQueries:       1,
		MaxSearchDepth:        depthOf(2),
		SearchBackend:         "tavily",
		SourceTokenBudget:     500,
		MaxConcurrentSections: 2,
		Planner:               activities.ModelRef{Provider: "openai", Model: "gpt-4.1"},
		Writer:                activities.ModelRef{Provider: "anthropic", Model: "claude-sonnet-4-5"},
	}
}

func TestReportWorkflowApprovedFirstPlan(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.register(env)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanFeedback, PlanFeedbackSignal{Approved: true})
	}, time.Minute)

	env.ExecuteWorkflow(ResearchReportWorkflow, ReportInput{
		Topic:    "Quantum Computing",
		UserID:   "u1",
		Settings: testSettings(),
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ReportResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, result.PlanCycles)
	assert.Equal(t, 3, result.CompletedSections)
	require.Len(t, result.Sections, 3)
	assert.Equal(t, "Hardware Approaches", result.Sections[0].Name)
	assert.True(t, result.Sections[0].QualityMet)
	assert.Equal(t, "Conclusion", result.Sections[2].Name)
	assert.False(t, result.Sections[2].Research)

	assert.Contains(t, result.FinalReport, "## Hardware Approaches")
	assert.Contains(t, result.FinalReport, "## Conclusion")
	assert.Contains(t, result.FinalReport, "## Citations")
	assert.NotContains(t, result.FinalReport, "### Sources")
	require.Len(t, result.Citations, 2)

	assert.Equal(t, 1, f.planQueryCalls)
	assert.Equal(t, 1, f.planCalls)
	assert.Equal(t, 1, f.finalWriteCalls)
	// One planning search plus one per research section.
	assert.Equal(t, 3, f.searchCalls)
	assert.Len(t, f.persistedSecs, 3)
	require.Len(t, f.persistedCites, 1)
	assert.Len(t, f.persistedCites[0].Citations, 2)
	require.Len(t, f.persistedRuns, 2)
	assert.Equal(t, "running", f.persistedRuns[0].Status)
	assert.Equal(t, StatusCompleted, f.persistedRuns[1].Status)
	assert.Contains(t, f.persistedRuns[1].FinalReport, "## Citations")
}

func TestReportWorkflowRevisionThenApprove(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.register(env)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanFeedback, PlanFeedbackSignal{Feedback: "add a history section"})
	}, time.Minute)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanFeedback, PlanFeedbackSignal{Approved: true})
	}, 2*time.Minute)

	env.ExecuteWorkflow(ResearchReportWorkflow, ReportInput{
		Topic:    "Quantum Computing",
		Settings: testSettings(),
	})

	require.True(t, env.IsWorkflowCompleted())
	var result ReportResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, result.PlanCycles)
	require.Equal(t, 2, f.planCalls)
	assert.Empty(t, f.planFeedback[0])
	assert.Equal(t, "add a history section", f.planFeedback[1])
}

func TestReportWorkflowBareRejectionForcesFreshPlan(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.register(env)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanFeedback, PlanFeedbackSignal{Approved: false})
	}, time.Minute)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanFeedback, PlanFeedbackSignal{Approved: true})
	}, 2*time.Minute)

	env.ExecuteWorkflow(ResearchReportWorkflow, ReportInput{
		Topic:    "Quantum Computing",
		Settings: testSettings(),
	})

	require.True(t, env.IsWorkflowCompleted())
	var result ReportResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, 2, result.PlanCycles)
	require.Equal(t, 2, f.planCalls)
	assert.Equal(t, rejectionFeedback, f.planFeedback[1])
}

func TestReportWorkflowSummarizesDocument(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.register(env)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanFeedback, PlanFeedbackSignal{Approved: true})
	}, time.Minute)

	env.ExecuteWorkflow(ResearchReportWorkflow, ReportInput{
		Topic:    "Quantum Computing",
		Document: "A long briefing document about quantum hardware.",
		Settings: testSettings(),
	})

	require.True(t, env.IsWorkflowCompleted())
	var result ReportResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, f.summarizeCalls)

	// The document is only summarized once the plan is approved; the summary
	// is then injected into every research section's writing prompt.
	idx := make(map[string]int)
	for i, typ := range f.eventTypes() {
		if _, seen := idx[typ]; !seen {
			idx[typ] = i
		}
	}
	require.Contains(t, idx, "DOCUMENT_SUMMARIZED")
	require.Contains(t, idx, "APPROVAL_DECISION")
	assert.Less(t, idx["APPROVAL_DECISION"], idx["DOCUMENT_SUMMARIZED"])
	assert.Less(t, idx["DOCUMENT_SUMMARIZED"], idx["SECTION_STARTED"])

	require.NotEmpty(t, f.writeSummaries)
	for _, s := range f.writeSummaries {
		assert.Equal(t, "summary of the document", s)
	}
}

func TestReportWorkflowSkipsSummaryWhileRevising(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.register(env)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanFeedback, PlanFeedbackSignal{Feedback: "merge the first two sections"})
	}, time.Minute)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanFeedback, PlanFeedbackSignal{Approved: true})
	}, 2*time.Minute)

	env.ExecuteWorkflow(ResearchReportWorkflow, ReportInput{
		Topic:    "Quantum Computing",
		Document: "A long briefing document about quantum hardware.",
		Settings: testSettings(),
	})

	require.True(t, env.IsWorkflowCompleted())
	var result ReportResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StatusCompleted, result.Status)
	// Two plan cycles but one summarization: revision rounds never touch the
	// document.
	assert.Equal(t, 2, result.PlanCycles)
	assert.Equal(t, 1, f.summarizeCalls)
}

func TestReportWorkflowEmptyTopic(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.register(env)

	env.ExecuteWorkflow(ResearchReportWorkflow, ReportInput{Topic: "   "})

	require.True(t, env.IsWorkflowCompleted())
	var result ReportResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StatusFailed, result.Status)
	assert.NotEmpty(t, result.ErrorMessage)
	assert.NotNil(t, result.Sections)
	assert.Zero(t, f.planCalls)
}

func TestSectionWorkflowPassesFirstTry(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.register(env)

	env.ExecuteWorkflow(SectionResearchWorkflow, SectionInput{
		Topic:    "Quantum Computing",
		RunID:    "run-1",
		Section:  activities.Section{Name: "Hardware Approaches", Description: "qubits", Research: true},
		Settings: testSettings(),
	})

	require.True(t, env.IsWorkflowCompleted())
	var result SectionResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.True(t, result.QualityMet)
	assert.Equal(t, 1, result.SearchIterations)
	assert.Equal(t, 1, f.searchCalls)
	assert.Contains(t, result.Section.Content, "Hardware Approaches findings")
}

func TestSectionWorkflowStopsAtMaxDepth(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.grades = []string{activities.GradeFail}
	f.register(env)

	settings := testSettings()
	settings.MaxSearchDepth = depthOf(3)

	env.ExecuteWorkflow(SectionResearchWorkflow, SectionInput{
		Topic:    "Quantum Computing",
		RunID:    "run-1",
		Section:  activities.Section{Name: "Error Correction", Description: "fault tolerance", Research: true},
		Settings: settings,
	})

	require.True(t, env.IsWorkflowCompleted())
	var result SectionResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.False(t, result.QualityMet)
	assert.Equal(t, 3, result.SearchIterations)
	assert.Equal(t, 3, f.searchCalls)
	assert.Equal(t, 3, f.gradeCalls)
	assert.NotEmpty(t, result.Section.Content)
}

func TestSectionWorkflowDepthBoundByConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "research.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_search_depth: 3\n"), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	// A request that sets nothing inherits the file's depth.
	settings := ResearchSettings{}.WithConfig(cfg)
	require.NotNil(t, settings.MaxSearchDepth)
	require.Equal(t, 3, *settings.MaxSearchDepth)

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.grades = []string{activities.GradeFail}
	f.register(env)

	env.ExecuteWorkflow(SectionResearchWorkflow, SectionInput{
		Topic:    "Quantum Computing",
		RunID:    "run-1",
		Section:  activities.Section{Name: "Error Correction", Description: "fault tolerance", Research: true},
		Settings: settings,
	})

	require.True(t, env.IsWorkflowCompleted())
	var result SectionResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, 3, result.SearchIterations)
	assert.Equal(t, 3, f.searchCalls)
	assert.Equal(t, 3, f.gradeCalls)
}

func TestSectionWorkflowExplicitZeroDepth(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.register(env)

	settings := testSettings()
	settings.MaxSearchDepth = depthOf(0)

	env.ExecuteWorkflow(SectionResearchWorkflow, SectionInput{
		Topic:    "Quantum Computing",
		RunID:    "run-1",
		Section:  activities.Section{Name: "Hardware Approaches", Description: "qubits", Research: true},
		Settings: settings,
	})

	require.True(t, env.IsWorkflowCompleted())
	var result SectionResult
	require.NoError(t, env.GetWorkflowResult(&result))

	// An explicit 0 is honored, it is not coerced back to the default.
	assert.False(t, result.QualityMet)
	assert.Zero(t, result.SearchIterations)
	assert.Zero(t, f.searchCalls)
	assert.Zero(t, f.writeCalls)
	assert.Empty(t, result.Section.Content)
}

func TestSectionWorkflowRecoversAfterOneFail(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.grades = []string{activities.GradeFail, activities.GradePass}
	f.register(env)

	env.ExecuteWorkflow(SectionResearchWorkflow, SectionInput{
		Topic:    "Quantum Computing",
		RunID:    "run-1",
		Section:  activities.Section{Name: "Error Correction", Description: "fault tolerance", Research: true},
		Settings: testSettings(),
	})

	require.True(t, env.IsWorkflowCompleted())
	var result SectionResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.True(t, result.QualityMet)
	assert.Equal(t, 2, result.SearchIterations)
	assert.Equal(t, 2, f.writeCalls)
}

func TestSectionWorkflowRetriesEmptyQueries(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.emptyQueryRounds = 1
	f.register(env)

	env.ExecuteWorkflow(SectionResearchWorkflow, SectionInput{
		Topic:    "Quantum Computing",
		RunID:    "run-1",
		Section:  activities.Section{Name: "Hardware Approaches", Description: "qubits", Research: true},
		Settings: testSettings(),
	})

	require.True(t, env.IsWorkflowCompleted())
	var result SectionResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, 2, f.sectionQueries)
	assert.True(t, result.QualityMet)
}

func TestReportWorkflowEmitsLifecycleEvents(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f := newFixture()
	f.register(env)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPlanFeedback, PlanFeedbackSignal{Approved: true})
	}, time.Minute)

	env.ExecuteWorkflow(ResearchReportWorkflow, ReportInput{
		Topic:    "Quantum Computing",
		Settings: testSettings(),
	})

	require.True(t, env.IsWorkflowCompleted())
	types := f.eventTypes()
	for _, want := range []string{
		"RUN_STARTED", "PLAN_PROPOSED", "APPROVAL_REQUESTED",
		"APPROVAL_DECISION", "SECTION_STARTED", "SECTION_COMPLETED", "REPORT_COMPILED",
	} {
		assert.Contains(t, types, want, "missing event %s", want)
	}
}
