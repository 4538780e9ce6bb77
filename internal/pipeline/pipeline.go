package pipeline

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/budget"
	"github.com/routewise-ai/routewise/internal/config"
	"github.com/routewise-ai/routewise/internal/metrics"
	"github.com/routewise-ai/routewise/internal/miner"
	"github.com/routewise-ai/routewise/internal/planner"
	"github.com/routewise-ai/routewise/internal/router"
	"github.com/routewise-ai/routewise/internal/search"
	"github.com/routewise-ai/routewise/internal/session"
	"github.com/routewise-ai/routewise/internal/synthesis"
	"github.com/routewise-ai/routewise/internal/tasks"
	"github.com/routewise-ai/routewise/internal/trip"
)

// Request is one planning request. FastMode nil means use the configured
// default; a non-nil value is an explicit per-request choice.
type Request struct {
	Query     string
	SessionID string
	FastMode  *bool
	// Deadline overrides the configured run deadline; clamped to the sane band.
	Deadline time.Duration
	// Persist controls whether the turn is written to the session store.
	Persist bool
	// Save writes the final answer as a markdown artifact.
	Save bool
}

// Result is the pipeline's answer. Markdown is never empty: whatever stages
// degraded, something useful comes back.
type Result struct {
	Markdown  string
	SessionID string
	Route     router.Kind
	Elapsed   time.Duration
}

// Narrow dependency views keep the pipeline testable with fakes.

type SessionStore interface {
	EnsureSession(ctx context.Context, id string) (string, error)
	AddMessage(ctx context.Context, sessionID, role, content, msgType string) error
	ContextSummary(ctx context.Context, sessionID string) string
	TripContext(ctx context.Context, sessionID string) session.TripContext
	UpdateTripContext(ctx context.Context, sessionID string, update session.TripContext) error
}

type Intents interface {
	Route(ctx context.Context, query, contextSummary string, budget time.Duration) router.Decision
}

type QueryPlanner interface {
	Plan(ctx context.Context, query, contextSummary string, fast bool, budget time.Duration) []string
	Expand(ctx context.Context, ranQueries []string, findings []string, budget time.Duration) []string
}

type Retriever interface {
	Run(ctx context.Context, queries []string, opts search.Options) []search.Document
}

type InsightMiner interface {
	Mine(ctx context.Context, docs []search.Document, docCap int, callBudget func() time.Duration) []miner.Insight
}

type TaskGate interface {
	Run(ctx context.Context, query string, details trip.Details,
		allow func(budget.Stage) bool, callBudget func() time.Duration) []tasks.Section
}

type Composer interface {
	Compose(ctx context.Context, in synthesis.Input, allowNarrative bool, budget time.Duration) string
	Light(ctx context.Context, query string, docs []search.Document, allowModel bool, budget time.Duration) string
	Recall(ctx context.Context, query, contextSummary string, allowModel bool, budget time.Duration) string
}

// Fast-mode caps beyond the planner's own query cap.
const (
	fastMinerDocCap = 12
	fastInsightCap  = 16
	fastFetchTop    = 3
	routerBudget    = 5 * time.Second
)

// Pipeline runs one request end to end under a wall-clock budget. Stages
// degrade individually; the pipeline as a whole always answers.
type Pipeline struct {
	cfg      *config.Settings
	policy   *budget.Policy
	sessions SessionStore
	intents  Intents
	planner  QueryPlanner
	searcher Retriever
	miner    InsightMiner
	gate     TaskGate
	composer Composer
	saver    *ArtifactSaver
	logger   *zap.Logger
	tracer   oteltrace.Tracer
}

func New(cfg *config.Settings, policy *budget.Policy, sessions SessionStore,
	intents Intents, qp QueryPlanner, searcher Retriever, im InsightMiner,
	gate TaskGate, composer Composer, saver *ArtifactSaver, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		policy:   policy,
		sessions: sessions,
		intents:  intents,
		planner:  qp,
		searcher: searcher,
		miner:    im,
		gate:     gate,
		composer: composer,
		saver:    saver,
		logger:   logger,
		tracer:   otel.Tracer("routewise/pipeline"),
	}
}

// Run executes one request. The only error is an empty query; everything else
// degrades into the answer.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if req.Query == "" {
		return Result{}, fmt.Errorf("empty query")
	}

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = p.cfg.Budget.Deadline
	}
	tracker := budget.NewTracker(deadline)
	tracker.Start()

	fast := p.cfg.FastMode
	if req.FastMode != nil {
		fast = *req.FastMode
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		oteltrace.WithAttributes(
			attribute.Bool("fast_mode", fast),
			attribute.Float64("deadline_seconds", tracker.Deadline().Seconds())))
	defer span.End()

	sessionID, err := p.sessions.EnsureSession(ctx, req.SessionID)
	if err != nil {
		// Answer anyway; the turn just won't be remembered.
		p.logger.Error("Session unavailable, continuing stateless", zap.Error(err))
		sessionID = ""
	}
	if req.Persist && sessionID != "" {
		if err := p.sessions.AddMessage(ctx, sessionID, "user", req.Query, "chat"); err != nil {
			p.logger.Warn("User message not persisted", zap.Error(err))
		}
	}

	contextSummary := ""
	if sessionID != "" {
		contextSummary = p.sessions.ContextSummary(ctx, sessionID)
	}

	decision := p.intents.Route(ctx, req.Query, contextSummary, p.callBudget(tracker, routerBudget))
	span.SetAttributes(attribute.String("route", string(decision.Kind)))
	metrics.PipelinesStarted.WithLabelValues(string(decision.Kind)).Inc()
	p.logger.Info("Request routed",
		zap.String("session_id", sessionID),
		zap.String("route", string(decision.Kind)),
		zap.Bool("fast_mode", fast))

	var markdown string
	switch decision.Kind {
	case router.Direct:
		markdown = p.runDirect(ctx, req.Query, contextSummary, decision, tracker)
	case router.LightSearch:
		markdown = p.runLight(ctx, req.Query, fast, tracker)
	default:
		markdown = p.runFull(ctx, req.Query, contextSummary, sessionID, fast, tracker)
	}
	if markdown == "" {
		// Belt and braces: no path should produce nothing, but the contract
		// is an answer every time.
		markdown = "Something went wrong putting your answer together. Please try again."
		metrics.PipelinesCompleted.WithLabelValues(string(decision.Kind), "error").Inc()
	} else {
		metrics.PipelinesCompleted.WithLabelValues(string(decision.Kind), "ok").Inc()
	}

	if req.Persist && sessionID != "" {
		msgType := "chat"
		if decision.Kind == router.FullPipeline {
			msgType = "plan"
		}
		if err := p.sessions.AddMessage(ctx, sessionID, "assistant", markdown, msgType); err != nil {
			p.logger.Warn("Assistant message not persisted", zap.Error(err))
		}
	}
	if req.Save && p.saver != nil && decision.Kind == router.FullPipeline {
		p.saver.Save(req.Query, markdown)
	}

	elapsed := tracker.Elapsed()
	metrics.PipelineDuration.Observe(elapsed.Seconds())
	p.logger.Info("Request answered",
		zap.String("session_id", sessionID),
		zap.Duration("elapsed", elapsed),
		zap.Duration("remaining", tracker.Remaining()))

	return Result{
		Markdown:  markdown,
		SessionID: sessionID,
		Route:     decision.Kind,
		Elapsed:   elapsed,
	}, nil
}

func (p *Pipeline) runDirect(ctx context.Context, query, contextSummary string, d router.Decision, tracker *budget.Tracker) string {
	if d.Recall {
		allow := p.policy.Allows(budget.StageSynthesis, tracker.Remaining())
		return p.composer.Recall(ctx, query, contextSummary, allow, p.callBudget(tracker, 10*time.Second))
	}
	return d.Reply
}

func (p *Pipeline) runLight(ctx context.Context, query string, fast bool, tracker *budget.Tracker) string {
	ctx, span := p.tracer.Start(ctx, "pipeline.light")
	defer span.End()

	docs := p.searcher.Run(ctx, []string{query}, search.Options{
		MaxPerQuery:  p.cfg.Search.MaxResults,
		FetchTop:     0, // snippets are enough for a quick answer
		Stop:         func() bool { return tracker.Exhausted() },
		FetchTimeout: p.cfg.Search.FetchTimeout,
	})
	allow := p.policy.Allows(budget.StageSynthesis, tracker.Remaining())
	return p.composer.Light(ctx, query, docs, allow, p.callBudget(tracker, 15*time.Second))
}

func (p *Pipeline) runFull(ctx context.Context, query, contextSummary, sessionID string, fast bool, tracker *budget.Tracker) string {
	ctx, span := p.tracer.Start(ctx, "pipeline.full")
	defer span.End()

	details := p.resolveTrip(ctx, query, sessionID)

	// Query planning. Below the planner floor the model call is skipped and
	// the deterministic scaffold stands in.
	p.observeStage(budget.StagePlanner, tracker)
	limit := planner.MaxQueries
	if fast {
		limit = planner.MaxQueriesFast
	}
	var queries []string
	if p.policy.Allows(budget.StagePlanner, tracker.Remaining()) {
		metrics.StageOutcomes.WithLabelValues(string(budget.StagePlanner), "full").Inc()
		queries = p.planner.Plan(ctx, query, contextSummary, fast, p.callBudget(tracker, 15*time.Second))
	} else {
		metrics.StageOutcomes.WithLabelValues(string(budget.StagePlanner), "reduced").Inc()
		queries = planner.Scaffold(query, limit)
	}

	// First retrieval round.
	p.observeStage(budget.StageRetrieval, tracker)
	docs := p.retrieve(ctx, queries, fast, tracker)

	// Expansion: one optional follow-up round when budget is comfortable.
	if !fast && p.policy.Allows(budget.StageExpansion, tracker.Remaining()) && len(docs) > 0 {
		metrics.StageOutcomes.WithLabelValues(string(budget.StageExpansion), "full").Inc()
		followUps := p.planner.Expand(ctx, queries, findings(docs), p.callBudget(tracker, 10*time.Second))
		if len(followUps) > 0 {
			p.logger.Info("Running follow-up queries", zap.Int("count", len(followUps)))
			docs = append(docs, p.retrieve(ctx, followUps, fast, tracker)...)
			docs = dedupe(docs)
		}
	} else {
		metrics.StageOutcomes.WithLabelValues(string(budget.StageExpansion), "skipped").Inc()
	}

	// Insight mining under the tiered document cap.
	p.observeStage(budget.StageMiner, tracker)
	docCap := p.policy.MinerDocCap(tracker.Remaining())
	if fast && docCap > fastMinerDocCap {
		docCap = fastMinerDocCap
	}
	insights := p.miner.Mine(ctx, docs, docCap, func() time.Duration {
		r := tracker.Remaining()
		if !p.policy.Allows(budget.StageMiner, r) {
			return 0
		}
		return p.callBudget(tracker, 12*time.Second)
	})
	if len(insights) > fastInsightCap && fast {
		insights = insights[:fastInsightCap]
	}
	switch {
	case docCap == 0:
		metrics.StageOutcomes.WithLabelValues(string(budget.StageMiner), "skipped").Inc()
	case docCap < len(docs):
		metrics.StageOutcomes.WithLabelValues(string(budget.StageMiner), "reduced").Inc()
	default:
		metrics.StageOutcomes.WithLabelValues(string(budget.StageMiner), "full").Inc()
	}

	// Specialized capabilities.
	sections := p.gate.Run(ctx, query, details,
		func(s budget.Stage) bool { return p.policy.Allows(s, tracker.Remaining()) },
		func() time.Duration { return p.callBudget(tracker, 10*time.Second) })

	// Synthesis always runs; only the narrative model call is gated.
	p.observeStage(budget.StageSynthesis, tracker)
	allowNarrative := p.policy.Allows(budget.StageSynthesis, tracker.Remaining())
	if allowNarrative {
		metrics.StageOutcomes.WithLabelValues(string(budget.StageSynthesis), "full").Inc()
	} else {
		metrics.StageOutcomes.WithLabelValues(string(budget.StageSynthesis), "reduced").Inc()
	}
	return p.composer.Compose(ctx, synthesis.Input{
		Query:          query,
		Details:        details,
		Insights:       insights,
		Sections:       sections,
		ContextSummary: contextSummary,
	}, allowNarrative, p.callBudget(tracker, 25*time.Second))
}

// resolveTrip parses the query and reconciles it with the session's stored
// trip, so "what about trains instead" keeps the route from last turn.
func (p *Pipeline) resolveTrip(ctx context.Context, query, sessionID string) trip.Details {
	details := trip.Parse(query)

	if sessionID != "" {
		stored := p.sessions.TripContext(ctx, sessionID)
		if details.Destination == "" && stored.Destination != "" {
			details.Origin = stored.Origin
			details.Destination = stored.Destination
			if details.Days == 0 {
				details.Days = stored.Days
			}
			if details.BudgetINR == 0 {
				details.BudgetINR = stored.BudgetINR
			}
			if stored.Scope != "" {
				details.Scope = trip.Scope(stored.Scope)
			}
		}
		if err := p.sessions.UpdateTripContext(ctx, sessionID, session.TripContext{
			Origin:      details.Origin,
			Destination: details.Destination,
			Days:        details.Days,
			BudgetINR:   details.BudgetINR,
			Scope:       string(details.Scope),
		}); err != nil {
			p.logger.Warn("Trip context not updated", zap.Error(err))
		}
	}
	return details
}

func (p *Pipeline) retrieve(ctx context.Context, queries []string, fast bool, tracker *budget.Tracker) []search.Document {
	fetchTop := p.cfg.Search.FetchTop
	if fast && fetchTop > fastFetchTop {
		fetchTop = fastFetchTop
	}
	return p.searcher.Run(ctx, queries, search.Options{
		MaxPerQuery: p.cfg.Search.MaxResults,
		FetchTop:    fetchTop,
		Stop: func() bool {
			return !p.policy.Allows(budget.StageRetrieval, tracker.Remaining())
		},
		AllowFetch: func() bool {
			return p.policy.Allows(budget.StageContentFetch, tracker.Remaining())
		},
		FetchTimeout: p.cfg.Search.FetchTimeout,
	})
}

// callBudget bounds a model call by the smaller of a stage allowance and the
// remaining run budget.
func (p *Pipeline) callBudget(tracker *budget.Tracker, allowance time.Duration) time.Duration {
	r := tracker.Remaining()
	if r < allowance {
		return r
	}
	return allowance
}

func (p *Pipeline) observeStage(stage budget.Stage, tracker *budget.Tracker) {
	metrics.BudgetRemaining.WithLabelValues(string(stage)).Observe(tracker.Remaining().Seconds())
}

// findings summarizes retrieved documents for the expansion prompt.
func findings(docs []search.Document) []string {
	var out []string
	for i, d := range docs {
		if i >= 10 {
			break
		}
		f := d.Title
		if d.Snippet != "" {
			f += ": " + truncateRunes(d.Snippet, 160)
		}
		out = append(out, f)
	}
	return out
}

// truncateRunes cuts s to at most limit bytes without splitting a rune.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func dedupe(docs []search.Document) []search.Document {
	seen := make(map[string]bool, len(docs))
	var out []search.Document
	for _, d := range docs {
		if d.URL == "" || seen[d.URL] {
			continue
		}
		seen[d.URL] = true
		out = append(out, d)
	}
	return out
}
