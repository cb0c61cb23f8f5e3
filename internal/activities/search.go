package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/opencrew/deepresearch/internal/search"
)

// SearchWeb fans the queries out to the configured search backend and formats
// the merged results into a single prompt-ready source block. Backend failures
// already degrade inside the provider, so an error here means the backend name
// itself was bad.
func (a *Activities) SearchWeb(ctx context.Context, in SearchInput) (SearchOutput, error) {
	if len(in.Queries) == 0 {
		return SearchOutput{}, nil
	}
	provider, err := a.providerFor(in.Backend)
	if err != nil {
		return SearchOutput{}, err
	}
	results, err := provider.Search(ctx, in.Queries)
	if err != nil {
		return SearchOutput{}, err
	}
	count := 0
	for _, r := range results {
		count += len(r.Items)
	}
	a.logger.Debug("Search finished",
		zap.String("backend", provider.Name()),
		zap.Int("queries", len(in.Queries)),
		zap.Int("items", count))
	return SearchOutput{
		SourceText:  search.FormatResults(results, in.SourceTokenBudget),
		SourceCount: count,
	}, nil
}
