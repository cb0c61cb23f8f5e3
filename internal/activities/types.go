package activities

import "time"

// ModelRef selects the LLM used for a call.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Section is one planned unit of the report. Content starts empty and is
// filled in exactly once during research or final writing.
type Section struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Research    bool   `json:"research"`
	Content     string `json:"content"`
}

type PlanQueriesInput struct {
	Topic           string   `json:"topic"`
	ReportStructure string   `json:"report_structure"`
	NumberOfQueries int      `json:"number_of_queries"`
	Model           ModelRef `json:"model"`
}

type QueriesResult struct {
	Queries []string `json:"queries"`
}

type PlanSectionsInput struct {
	Topic           string   `json:"topic"`
	ReportStructure string   `json:"report_structure"`
	SourceContext   string   `json:"source_context"`
	Feedback        string   `json:"feedback,omitempty"`
	Model           ModelRef `json:"model"`
}

type PlanSectionsResult struct {
	Sections []Section `json:"sections"`
}

type SummarizeDocumentInput struct {
	Document string   `json:"document"`
	Model    ModelRef `json:"model"`
}

type SummarizeDocumentResult struct {
	Summary string `json:"summary"`
}

type SectionQueriesInput struct {
	SectionName        string   `json:"section_name"`
	SectionDescription string   `json:"section_description"`
	NumberOfQueries    int      `json:"number_of_queries"`
	Model              ModelRef `json:"model"`
}

type SearchInput struct {
	Queries           []string `json:"queries"`
	Backend           string   `json:"backend"`
	SourceTokenBudget int      `json:"source_token_budget"`
}

type SearchOutput struct {
	SourceText  string `json:"source_text"`
	SourceCount int    `json:"source_count"`
}

type WriteSectionInput struct {
	Topic           string   `json:"topic"`
	Section         Section  `json:"section"`
	SourceText      string   `json:"source_text"`
	DocumentSummary string   `json:"document_summary,omitempty"`
	ExistingContent string   `json:"existing_content,omitempty"`
	Model           ModelRef `json:"model"`
}

type WriteSectionResult struct {
	Content string `json:"content"`
}

type GradeSectionInput struct {
	Topic           string   `json:"topic"`
	Section         Section  `json:"section"`
	Content         string   `json:"content"`
	NumberOfQueries int      `json:"number_of_queries"`
	Model           ModelRef `json:"model"`
}

const (
	GradePass = "pass"
	GradeFail = "fail"
)

type GradeResult struct {
	Grade           string   `json:"grade"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

type WriteFinalSectionInput struct {
	Topic           string   `json:"topic"`
	Section         Section  `json:"section"`
	ResearchContext string   `json:"research_context"`
	Model           ModelRef `json:"model"`
}

type EmitResearchUpdateInput struct {
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Section   string    `json:"section,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type PersistRunInput struct {
	WorkflowID   string `json:"workflow_id"`
	ThreadID     string `json:"thread_id"`
	UserID       string `json:"user_id"`
	Topic        string `json:"topic"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	FinalReport  string `json:"final_report,omitempty"`
	PlanCycles   int    `json:"plan_cycles,omitempty"`
}

type PersistSectionInput struct {
	WorkflowID       string `json:"workflow_id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Content          string `json:"content"`
	ResearchRequired bool   `json:"research_required"`
	SearchIterations int    `json:"search_iterations"`
	QualityMet       bool   `json:"quality_met"`
}

type PersistCitationsInput struct {
	WorkflowID string     `json:"workflow_id"`
	Citations  []Citation `json:"citations"`
}

// Citation mirrors internal/citations.Citation so workflow payloads stay
// self-contained.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}
