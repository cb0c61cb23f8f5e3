package activities

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/opencrew/deepresearch/internal/db"
	"github.com/opencrew/deepresearch/internal/llm"
	"github.com/opencrew/deepresearch/internal/search"
	"github.com/opencrew/deepresearch/internal/streaming"
)

// Registered activity names. Workflows execute activities by these names so
// that tests can register mocks against the same strings.
const (
	GeneratePlanQueriesActivity    = "GeneratePlanQueries"
	PlanReportSectionsActivity     = "PlanReportSections"
	SummarizeDocumentActivity      = "SummarizeDocument"
	GenerateSectionQueriesActivity = "GenerateSectionQueries"
	SearchWebActivity              = "SearchWeb"
	WriteSectionActivity           = "WriteSection"
	GradeSectionActivity           = "GradeSection"
	WriteFinalSectionActivity      = "WriteFinalSection"
	EmitResearchUpdateActivity     = "EmitResearchUpdate"
	PersistRunActivity             = "PersistRun"
	PersistSectionActivity         = "PersistSection"
	PersistCitationsActivity       = "PersistCitations"
)

// Activities holds the dependencies shared by all activity implementations.
// Everything is injected through the constructor so tests can swap in fakes.
type Activities struct {
	logger    *zap.Logger
	clients   map[llm.Provider]llm.Client
	providers map[string]search.Provider
	store     *db.Client
	stream    *streaming.Manager
}

// Deps bundles the constructor arguments for Activities. The store and
// stream may be nil; the corresponding activities degrade to no-ops.
type Deps struct {
	Logger    *zap.Logger
	Clients   map[llm.Provider]llm.Client
	Providers map[string]search.Provider
	Store     *db.Client
	Stream    *streaming.Manager
}

func NewActivities(deps Deps) *Activities {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		logger:    logger,
		clients:   deps.Clients,
		providers: deps.Providers,
		store:     deps.Store,
		stream:    deps.Stream,
	}
}

func (a *Activities) clientFor(ref ModelRef) (llm.Client, error) {
	client, ok := a.clients[llm.Provider(ref.Provider)]
	if !ok {
		return nil, fmt.Errorf("no client configured for provider %q", ref.Provider)
	}
	return client, nil
}

func (a *Activities) providerFor(backend string) (search.Provider, error) {
	return search.SelectProvider(backend, a.providers)
}
