package db

import (
	"context"
	"fmt"
	"time"
)

// RunRecord captures one research run's outcome.
type RunRecord struct {
	WorkflowID   string    `db:"workflow_id"`
	ThreadID     string    `db:"thread_id"`
	UserID       string    `db:"user_id"`
	Topic        string    `db:"topic"`
	Status       string    `db:"status"` // completed|failed
	ErrorMessage string    `db:"error_message"`
	FinalReport  string    `db:"final_report"`
	CreatedAt    time.Time `db:"created_at"`
}

// SectionRecord captures one completed section.
type SectionRecord struct {
	WorkflowID       string `db:"workflow_id"`
	Name             string `db:"name"`
	Description      string `db:"description"`
	Content          string `db:"content"`
	ResearchRequired bool   `db:"research_required"`
	SearchIterations int    `db:"search_iterations"`
	QualityMet       bool   `db:"quality_met"`
}

// CitationRecord captures one citation in the compiled report.
type CitationRecord struct {
	WorkflowID string `db:"workflow_id"`
	Title      string `db:"title"`
	URL        string `db:"url"`
}

const (
	insertRunSQL = `INSERT INTO research_runs
		(workflow_id, thread_id, user_id, topic, status, error_message, final_report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workflow_id) DO UPDATE
		SET status = EXCLUDED.status,
		    error_message = EXCLUDED.error_message,
		    final_report = EXCLUDED.final_report`

	insertSectionSQL = `INSERT INTO research_sections
		(workflow_id, name, description, content, research_required, search_iterations, quality_met)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertCitationSQL = `INSERT INTO research_citations
		(workflow_id, title, url)
		VALUES ($1, $2, $3)`
)

// RecordRun persists a run outcome asynchronously.
func (c *Client) RecordRun(r RunRecord) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	c.enqueue(insertRunSQL,
		r.WorkflowID, r.ThreadID, r.UserID, r.Topic, r.Status, r.ErrorMessage, r.FinalReport, r.CreatedAt)
}

// RecordSection persists a completed section asynchronously.
func (c *Client) RecordSection(s SectionRecord) {
	c.enqueue(insertSectionSQL,
		s.WorkflowID, s.Name, s.Description, s.Content, s.ResearchRequired, s.SearchIterations, s.QualityMet)
}

// RecordCitations persists the compiled citation list asynchronously.
func (c *Client) RecordCitations(citations []CitationRecord) {
	for _, cit := range citations {
		c.enqueue(insertCitationSQL, cit.WorkflowID, cit.Title, cit.URL)
	}
}

// Ping verifies the database connection. Used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// RunByWorkflowID loads a persisted run synchronously.
func (c *Client) RunByWorkflowID(ctx context.Context, workflowID string) (*RunRecord, error) {
	var rec RunRecord
	err := c.db.GetContext(ctx, &rec,
		`SELECT workflow_id, thread_id, user_id, topic, status, error_message, final_report, created_at
		 FROM research_runs WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("db: load run %s: %w", workflowID, err)
	}
	return &rec, nil
}
