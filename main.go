package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/opencrew/deepresearch/internal/activities"
	"github.com/opencrew/deepresearch/internal/config"
	"github.com/opencrew/deepresearch/internal/db"
	"github.com/opencrew/deepresearch/internal/health"
	"github.com/opencrew/deepresearch/internal/httpapi"
	"github.com/opencrew/deepresearch/internal/keys"
	"github.com/opencrew/deepresearch/internal/llm"
	_ "github.com/opencrew/deepresearch/internal/metrics"
	"github.com/opencrew/deepresearch/internal/search"
	"github.com/opencrew/deepresearch/internal/session"
	"github.com/opencrew/deepresearch/internal/streaming"
	"github.com/opencrew/deepresearch/internal/workflows"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgMgr, err := config.NewManager(os.Getenv("RESEARCH_CONFIG_PATH"), logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := cfgMgr.Start(ctx); err != nil {
		logger.Warn("Config hot reload disabled", zap.Error(err))
	}
	defer cfgMgr.Stop()
	cfg := cfgMgr.Current()

	// Session store. Required: resume signals are routed through threads.
	sessions, err := session.NewManager(cfg.Redis.Addr, cfg.Redis.Password, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer sessions.Close()

	// Run persistence is optional; without Postgres the engine still works,
	// results just live only in workflow histories.
	var store *db.Client
	if cfg.Postgres.Host != "" {
		store, err = db.NewClient(&db.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer store.Close()
	} else {
		logger.Info("Postgres not configured, run persistence disabled")
	}

	stream := streaming.NewManager(0)

	checks := health.NewManager(logger)
	checks.Register("redis", sessions.Ping)
	if store != nil {
		checks.Register("postgres", store.Ping)
	}
	checks.Start()
	defer checks.Stop()

	clients, err := buildLLMClients(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build LLM clients", zap.Error(err))
	}
	providers := buildSearchProviders(logger)

	acts := activities.NewActivities(activities.Deps{
		Logger:    logger,
		Clients:   clients,
		Providers: providers,
		Store:     store,
		Stream:    stream,
	})

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ResearchReportWorkflow)
	w.RegisterWorkflow(workflows.SectionResearchWorkflow)
	registerActivities(w, acts)

	adminAddr := os.Getenv("ADMIN_ADDR")
	if adminAddr == "" {
		adminAddr = ":8081"
	}
	api := httpapi.NewResearchHandler(temporalClient, sessions, stream, cfgMgr.Current,
		logger, cfg.Temporal.TaskQueue, os.Getenv("RESEARCH_API_TOKEN"))
	cfgMgr.OnChange(func(next *config.ResearchConfig) {
		logger.Info("New research runs will use the reloaded configuration",
			zap.String("search_backend", next.SearchBackend),
			zap.Int("max_search_depth", next.MaxSearchDepth))
	})
	adminSrv := startAdminServer(adminAddr, api, checks, logger)

	logger.Info("Worker starting",
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.String("temporal", cfg.Temporal.HostPort),
		zap.String("admin_addr", adminAddr))

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Error("Worker stopped with error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown", zap.Error(err))
	}
}

// buildLLMClients creates one client per provider with an API key in the
// environment. At least one provider must be configured.
func buildLLMClients(cfg *config.ResearchConfig, logger *zap.Logger) (map[llm.Provider]llm.Client, error) {
	clients := make(map[llm.Provider]llm.Client)
	onUsage := func(ev llm.UsageEvent) {
		logger.Debug("LLM call",
			zap.String("provider", string(ev.Provider)),
			zap.String("model", ev.Model),
			zap.String("task", ev.Task),
			zap.Int("input_tokens", ev.Usage.InputTokens),
			zap.Int("output_tokens", ev.Usage.OutputTokens),
			zap.Duration("duration", ev.Duration))
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c, err := llm.NewClient(llm.ProviderOpenAI, llm.Options{
			APIKey:  key,
			Timeout: cfg.LLMTimeout,
			OnUsage: onUsage,
		})
		if err != nil {
			return nil, err
		}
		clients[llm.ProviderOpenAI] = c
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c, err := llm.NewClient(llm.ProviderAnthropic, llm.Options{
			APIKey:  key,
			Timeout: cfg.LLMTimeout,
			OnUsage: onUsage,
		})
		if err != nil {
			return nil, err
		}
		clients[llm.ProviderAnthropic] = c
	}
	if len(clients) == 0 {
		logger.Fatal("No LLM provider configured, set OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}
	return clients, nil
}

// buildSearchProviders wires the search backends from environment keys.
// Tavily keys rotate across TAVILY_API_KEY, TAVILY_API_KEY_1, ... and fall
// back to Perplexity when both configured.
func buildSearchProviders(logger *zap.Logger) map[string]search.Provider {
	providers := make(map[string]search.Provider)

	var perplexity *search.PerplexityClient
	if key := os.Getenv("PERPLEXITY_API_KEY"); key != "" {
		perplexity = search.NewPerplexityClient(key, logger)
		providers[search.BackendPerplexity] = perplexity
	}

	if rotator, err := keys.FromEnv("TAVILY_API_KEY"); err == nil {
		opts := []search.TavilyOption{}
		if perplexity != nil {
			opts = append(opts, search.WithTavilyFallback(perplexity))
		}
		providers[search.BackendTavily] = search.NewTavilyClient(rotator, logger, opts...)
	} else {
		logger.Warn("Tavily not configured", zap.Error(err))
	}

	if len(providers) == 0 {
		logger.Fatal("No search backend configured, set TAVILY_API_KEY or PERPLEXITY_API_KEY")
	}
	return providers
}

func registerActivities(w worker.Worker, acts *activities.Activities) {
	for name, fn := range map[string]any{
		activities.GeneratePlanQueriesActivity:    acts.GeneratePlanQueries,
		activities.PlanReportSectionsActivity:     acts.PlanReportSections,
		activities.SummarizeDocumentActivity:      acts.SummarizeDocument,
		activities.GenerateSectionQueriesActivity: acts.GenerateSectionQueries,
		activities.SearchWebActivity:              acts.SearchWeb,
		activities.WriteSectionActivity:           acts.WriteSection,
		activities.GradeSectionActivity:           acts.GradeSection,
		activities.WriteFinalSectionActivity:      acts.WriteFinalSection,
		activities.EmitResearchUpdateActivity:     acts.EmitResearchUpdate,
		activities.PersistRunActivity:             acts.PersistRun,
		activities.PersistSectionActivity:         acts.PersistSection,
		activities.PersistCitationsActivity:       acts.PersistCitations,
	} {
		w.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	}
}

// startAdminServer exposes health, metrics and the research API.
func startAdminServer(addr string, api *httpapi.ResearchHandler, checks *health.Manager, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checks.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	api.RegisterRoutes(mux)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed", zap.Error(err))
		}
	}()
	return srv
}
