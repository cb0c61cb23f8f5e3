package workflows

import (
	"github.com/opencrew/deepresearch/internal/activities"
	"github.com/opencrew/deepresearch/internal/config"
)

// ResearchSettings carries the per-run knobs. Unset values fall back to the
// server configuration so callers only set what they want to override.
// MaxSearchDepth is a pointer so an explicit 0, which skips the search and
// grading loop entirely, stays distinguishable from an omitted field.
type ResearchSettings struct {
	ReportStructure       string              `json:"report_structure,omitempty"`
	NumberOfQueries       int                 `json:"number_of_queries,omitempty"`
	MaxSearchDepth        *int                `json:"max_search_depth,omitempty"`
	SearchBackend         string              `json:"search_backend,omitempty"`
	SourceTokenBudget     int                 `json:"source_token_budget,omitempty"`
	MaxConcurrentSections int                 `json:"max_concurrent_sections,omitempty"`
	Planner               activities.ModelRef `json:"planner,omitempty"`
	Writer                activities.ModelRef `json:"writer,omitempty"`
}

// WithConfig fills the unset settings from cfg. The HTTP layer calls this
// with the live configuration when a run starts, so settings are pinned
// before they enter workflow history.
func (s ResearchSettings) WithConfig(cfg *config.ResearchConfig) ResearchSettings {
	if s.ReportStructure == "" {
		s.ReportStructure = cfg.ReportStructure
	}
	if s.NumberOfQueries <= 0 {
		s.NumberOfQueries = cfg.NumberOfQueries
	}
	if s.MaxSearchDepth == nil {
		depth := cfg.MaxSearchDepth
		s.MaxSearchDepth = &depth
	}
	if s.SearchBackend == "" {
		s.SearchBackend = cfg.SearchBackend
	}
	if s.SourceTokenBudget <= 0 {
		s.SourceTokenBudget = cfg.SourceTokenBudget
	}
	if s.MaxConcurrentSections <= 0 {
		s.MaxConcurrentSections = cfg.MaxConcurrentSections
	}
	if s.Planner.Provider == "" {
		s.Planner = activities.ModelRef{Provider: cfg.Planner.Provider, Model: cfg.Planner.Model}
	}
	if s.Writer.Provider == "" {
		s.Writer = activities.ModelRef{Provider: cfg.Writer.Provider, Model: cfg.Writer.Model}
	}
	return s
}

// withDefaults is the workflow-side fallback for inputs that bypassed the
// HTTP layer. It must stay deterministic, so it only ever consults the
// compiled defaults.
func (s ResearchSettings) withDefaults() ResearchSettings {
	return s.WithConfig(config.Default())
}

// ReportInput starts a research run.
type ReportInput struct {
	Topic    string           `json:"topic"`
	UserID   string           `json:"user_id,omitempty"`
	ThreadID string           `json:"thread_id,omitempty"`
	Document string           `json:"document,omitempty"`
	Settings ResearchSettings `json:"settings,omitempty"`
}

// ReportSection is one finished section in the result.
type ReportSection struct {
	Name             string                `json:"name"`
	Description      string                `json:"description"`
	Research         bool                  `json:"research"`
	Content          string                `json:"content"`
	QualityMet       bool                  `json:"quality_met"`
	SearchIterations int                   `json:"search_iterations"`
	Citations        []activities.Citation `json:"citations,omitempty"`
}

// ReportResult is always structurally complete. A failed run still returns a
// result with Status "failed" and whatever sections finished.
type ReportResult struct {
	Topic             string                `json:"topic"`
	Status            string                `json:"status"` // completed|failed
	ErrorMessage      string                `json:"error_message,omitempty"`
	FinalReport       string                `json:"final_report"`
	Sections          []ReportSection       `json:"sections"`
	Citations         []activities.Citation `json:"citations"`
	CompletedSections int                   `json:"completed_sections"`
	PlanCycles        int                   `json:"plan_cycles"`
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SectionInput starts one section's research loop.
type SectionInput struct {
	Topic           string             `json:"topic"`
	RunID           string             `json:"run_id"`
	Section         activities.Section `json:"section"`
	DocumentSummary string             `json:"document_summary,omitempty"`
	Settings        ResearchSettings   `json:"settings"`
}

// SectionResult is the fan-in payload from one section workflow.
type SectionResult struct {
	Section          activities.Section `json:"section"`
	QualityMet       bool               `json:"quality_met"`
	SearchIterations int                `json:"search_iterations"`
}
