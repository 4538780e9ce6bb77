package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PipelinesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routewise_pipelines_started_total",
			Help: "Total number of pipeline runs started",
		},
		[]string{"route"},
	)

	PipelinesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routewise_pipelines_completed_total",
			Help: "Total number of pipeline runs completed",
		},
		[]string{"route", "status"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "routewise_pipeline_duration_seconds",
			Help:    "End-to-end pipeline duration in seconds",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90, 120, 300},
		},
	)

	// Stage metrics: outcome is one of full, reduced, skipped, fallback
	StageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routewise_stage_outcomes_total",
			Help: "Per-stage degradation outcomes",
		},
		[]string{"stage", "outcome"},
	)

	BudgetRemaining = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routewise_budget_remaining_seconds",
			Help:    "Remaining budget observed at each stage entry",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 30, 45, 60, 120},
		},
		[]string{"stage"},
	)

	// Completion service metrics
	CompletionCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routewise_completion_calls_total",
			Help: "Completion service calls by operation and status",
		},
		[]string{"op", "status"},
	)

	CompletionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routewise_completion_latency_seconds",
			Help:    "Completion service call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Retrieval metrics
	ProviderQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routewise_provider_queries_total",
			Help: "Search provider queries issued",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routewise_provider_errors_total",
			Help: "Search provider failures (recovered locally)",
		},
		[]string{"provider"},
	)

	DocumentsCollected = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "routewise_documents_collected",
			Help:    "Unique documents surviving deduplication per run",
			Buckets: []float64{0, 5, 10, 20, 40, 80, 160},
		},
	)

	ContentFetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "routewise_content_fetch_failures_total",
			Help: "Per-document content fetch failures (degraded to snippet)",
		},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "routewise_search_cache_hits_total",
			Help: "Search result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "routewise_search_cache_misses_total",
			Help: "Search result cache misses",
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "routewise_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routewise_messages_persisted_total",
			Help: "Conversation messages persisted by role",
		},
		[]string{"role"},
	)

	// Insight metrics
	InsightsExtracted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "routewise_insights_extracted",
			Help:    "Insights extracted per mining pass",
			Buckets: []float64{0, 4, 8, 16, 24, 32, 48},
		},
	)
)
