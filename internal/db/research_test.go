package db

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	client := newClientWithDB(sqlx.NewDb(mockDB, "postgres"), zaptest.NewLogger(t))
	return client, mock
}

func TestRecordRunIssuesUpsert(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec(`INSERT INTO research_runs`).
		WithArgs("wf-1", "th-1", "u1", "Quantum Computing", "completed", "", "# Report", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	client.RecordRun(RunRecord{
		WorkflowID:  "wf-1",
		ThreadID:    "th-1",
		UserID:      "u1",
		Topic:       "Quantum Computing",
		Status:      "completed",
		FinalReport: "# Report",
	})

	mock.ExpectClose()
	require.NoError(t, client.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSectionAndCitations(t *testing.T) {
	client, mock := newMockClient(t)

	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec(`INSERT INTO research_sections`).
		WithArgs("wf-1", "Hardware", "Quantum hardware", "content", true, 2, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO research_citations`).
		WithArgs("wf-1", "Nature", "https://example.com/n").
		WillReturnResult(sqlmock.NewResult(0, 1))

	client.RecordSection(SectionRecord{
		WorkflowID:       "wf-1",
		Name:             "Hardware",
		Description:      "Quantum hardware",
		Content:          "content",
		ResearchRequired: true,
		SearchIterations: 2,
		QualityMet:       false,
	})
	client.RecordCitations([]CitationRecord{
		{WorkflowID: "wf-1", Title: "Nature", URL: "https://example.com/n"},
	})

	mock.ExpectClose()
	require.NoError(t, client.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunByWorkflowID(t *testing.T) {
	client, mock := newMockClient(t)
	defer client.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"workflow_id", "thread_id", "user_id", "topic", "status", "error_message", "final_report", "created_at",
	}).AddRow("wf-1", "th-1", "u1", "Topic", "completed", "", "# Report", now)

	mock.ExpectQuery(`SELECT .+ FROM research_runs`).
		WithArgs("wf-1").
		WillReturnRows(rows)

	rec, err := client.RunByWorkflowID(t.Context(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, "completed", rec.Status)
	require.Equal(t, "# Report", rec.FinalReport)
}
