package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/opencrew/deepresearch/internal/llm"
)

// complete runs one LLM call and normalizes failures. Timeouts and malformed
// structured output are not worth retrying with the same prompt, so both are
// surfaced as non-retryable application errors.
func (a *Activities) complete(ctx context.Context, ref ModelRef, task, prompt string) (string, error) {
	client, err := a.clientFor(ref)
	if err != nil {
		return "", temporal.NewNonRetryableApplicationError(err.Error(), "BadModelRef", err)
	}
	resp, err := client.Complete(ctx, llm.Request{
		Messages: []llm.Message{{Role: "user", Content: prompt}},
		Model:    ref.Model,
		Task:     task,
	})
	if err != nil {
		if errors.Is(err, llm.ErrTimeout) {
			return "", temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("%s: model call timed out", task), "LLMTimeout", err)
		}
		return "", fmt.Errorf("%s: %w", task, err)
	}
	return resp.Content, nil
}

func parseInto(task, raw string, out any) error {
	if err := llm.ParseJSON(raw, out); err != nil {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("%s: malformed model output: %v", task, err), "MalformedOutput", err)
	}
	return nil
}

// GeneratePlanQueries produces the web search queries used to gather context
// before planning the report sections.
func (a *Activities) GeneratePlanQueries(ctx context.Context, in PlanQueriesInput) (QueriesResult, error) {
	prompt := fmt.Sprintf(planQueriesSystemPrompt, in.Topic, in.ReportStructure, in.NumberOfQueries)
	raw, err := a.complete(ctx, in.Model, "plan_queries", prompt)
	if err != nil {
		return QueriesResult{}, err
	}
	var result QueriesResult
	if err := parseInto("plan_queries", raw, &result); err != nil {
		return QueriesResult{}, err
	}
	a.logger.Debug("Generated planning queries",
		zap.String("topic", in.Topic),
		zap.Int("count", len(result.Queries)))
	return result, nil
}

// PlanReportSections turns the gathered source context into the section plan.
// When the human reviewer rejected a previous plan, their feedback is folded
// into the prompt.
func (a *Activities) PlanReportSections(ctx context.Context, in PlanSectionsInput) (PlanSectionsResult, error) {
	feedbackBlock := ""
	if in.Feedback != "" {
		feedbackBlock = fmt.Sprintf("\nA reviewer rejected the previous plan with this feedback, address it:\n%s\n", in.Feedback)
	}
	prompt := fmt.Sprintf(planSectionsSystemPrompt,
		in.Topic, in.ReportStructure, in.SourceContext, feedbackBlock)
	raw, err := a.complete(ctx, in.Model, "plan_sections", prompt)
	if err != nil {
		return PlanSectionsResult{}, err
	}
	var result PlanSectionsResult
	if err := parseInto("plan_sections", raw, &result); err != nil {
		return PlanSectionsResult{}, err
	}
	if len(result.Sections) == 0 {
		return PlanSectionsResult{}, temporal.NewNonRetryableApplicationError(
			"plan_sections: model returned an empty plan", "MalformedOutput", nil)
	}
	for i := range result.Sections {
		result.Sections[i].Name = strings.TrimSpace(result.Sections[i].Name)
		result.Sections[i].Content = ""
	}
	a.logger.Info("Planned report sections",
		zap.String("topic", in.Topic),
		zap.Int("sections", len(result.Sections)))
	return result, nil
}

// SummarizeDocument condenses a user-supplied document into a summary small
// enough to carry through the section writing prompts.
func (a *Activities) SummarizeDocument(ctx context.Context, in SummarizeDocumentInput) (SummarizeDocumentResult, error) {
	if strings.TrimSpace(in.Document) == "" {
		return SummarizeDocumentResult{}, nil
	}
	prompt := fmt.Sprintf(summarizeDocumentSystemPrompt, in.Document)
	raw, err := a.complete(ctx, in.Model, "summarize_document", prompt)
	if err != nil {
		return SummarizeDocumentResult{}, err
	}
	return SummarizeDocumentResult{Summary: strings.TrimSpace(raw)}, nil
}
