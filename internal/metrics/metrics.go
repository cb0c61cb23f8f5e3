package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Research run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_started_total",
			Help: "Total number of research report runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_completed_total",
			Help: "Total number of research report runs completed",
		},
		[]string{"status"},
	)

	PlanCycles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_plan_cycles",
			Help:    "Planning cycles per run before approval",
			Buckets: []float64{1, 2, 3, 5, 8},
		},
	)

	ApprovalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_approval_decisions_total",
			Help: "Human feedback decisions on proposed report plans",
		},
		[]string{"decision"}, // approved|rejected|revised
	)

	// Section metrics
	SectionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_sections_completed_total",
			Help: "Sections written to completion",
		},
		[]string{"quality_met"},
	)

	SectionGrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_section_grades_total",
			Help: "Grading outcomes for written sections",
		},
		[]string{"grade"},
	)

	SearchDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_section_search_iterations",
			Help:    "Search iterations consumed per researched section",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	// Search backend metrics
	SearchCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_search_calls_total",
			Help: "Web search calls by backend and status",
		},
		[]string{"backend", "status"},
	)

	SearchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_search_retries_total",
			Help: "Retries of transient search failures",
		},
		[]string{"backend"},
	)

	SearchFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_search_fallbacks_total",
			Help: "Queries served by the fallback backend",
		},
		[]string{"fallback_backend"},
	)

	// LLM metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_llm_calls_total",
			Help: "LLM invocations by provider, task and status",
		},
		[]string{"provider", "task", "status"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_llm_tokens_total",
			Help: "Token usage by provider and direction",
		},
		[]string{"provider", "direction"},
	)

	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_llm_call_duration_seconds",
			Help:    "LLM call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "task"},
	)

	// Session metrics
	ThreadsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_threads_created_total",
			Help: "Research threads created",
		},
	)

	ThreadsResumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_threads_resumed_total",
			Help: "Suspended runs resumed with a feedback payload",
		},
	)
)
