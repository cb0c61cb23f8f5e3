package activities

import (
	"context"
	"strconv"

	"github.com/opencrew/deepresearch/internal/db"
	"github.com/opencrew/deepresearch/internal/metrics"
	"github.com/opencrew/deepresearch/internal/streaming"
)

// EmitResearchUpdate publishes a progress event on the streaming bus. Emission
// is best effort; a missing bus is not an error.
func (a *Activities) EmitResearchUpdate(ctx context.Context, in EmitResearchUpdateInput) error {
	if a.stream == nil {
		return nil
	}
	a.stream.Publish(streaming.Event{
		RunID:     in.RunID,
		Type:      streaming.EventType(in.Type),
		Section:   in.Section,
		Message:   in.Message,
		Timestamp: in.Timestamp,
	})
	return nil
}

// PersistRun records the run row. Writes are queued asynchronously inside the
// store, so this returns as soon as the write is enqueued.
func (a *Activities) PersistRun(ctx context.Context, in PersistRunInput) error {
	if in.Status != "running" {
		metrics.RunsCompleted.WithLabelValues(in.Status).Inc()
		if in.PlanCycles > 0 {
			metrics.PlanCycles.Observe(float64(in.PlanCycles))
		}
	}
	if a.store == nil {
		return nil
	}
	a.store.RecordRun(db.RunRecord{
		WorkflowID:   in.WorkflowID,
		ThreadID:     in.ThreadID,
		UserID:       in.UserID,
		Topic:        in.Topic,
		Status:       in.Status,
		ErrorMessage: in.ErrorMessage,
		FinalReport:  in.FinalReport,
	})
	return nil
}

func (a *Activities) PersistSection(ctx context.Context, in PersistSectionInput) error {
	metrics.SectionsCompleted.WithLabelValues(strconv.FormatBool(in.QualityMet)).Inc()
	if in.ResearchRequired {
		metrics.SearchDepth.Observe(float64(in.SearchIterations))
	}
	if a.store == nil {
		return nil
	}
	a.store.RecordSection(db.SectionRecord{
		WorkflowID:       in.WorkflowID,
		Name:             in.Name,
		Description:      in.Description,
		Content:          in.Content,
		ResearchRequired: in.ResearchRequired,
		SearchIterations: in.SearchIterations,
		QualityMet:       in.QualityMet,
	})
	return nil
}

func (a *Activities) PersistCitations(ctx context.Context, in PersistCitationsInput) error {
	if a.store == nil || len(in.Citations) == 0 {
		return nil
	}
	recs := make([]db.CitationRecord, len(in.Citations))
	for i, c := range in.Citations {
		recs[i] = db.CitationRecord{WorkflowID: in.WorkflowID, Title: c.Title, URL: c.URL}
	}
	a.store.RecordCitations(recs)
	return nil
}
