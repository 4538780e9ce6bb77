package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/budget"
	"github.com/routewise-ai/routewise/internal/config"
	"github.com/routewise-ai/routewise/internal/miner"
	"github.com/routewise-ai/routewise/internal/router"
	"github.com/routewise-ai/routewise/internal/search"
	"github.com/routewise-ai/routewise/internal/session"
	"github.com/routewise-ai/routewise/internal/synthesis"
	"github.com/routewise-ai/routewise/internal/tasks"
	"github.com/routewise-ai/routewise/internal/trip"
)

type fakeSessions struct {
	failEnsure bool
	messages   []string
	trips      []session.TripContext
	stored     session.TripContext
	summary    string
}

func (f *fakeSessions) EnsureSession(ctx context.Context, id string) (string, error) {
	if f.failEnsure {
		return "", assert.AnError
	}
	if id == "" {
		return "new-session", nil
	}
	return id, nil
}

func (f *fakeSessions) AddMessage(ctx context.Context, sessionID, role, content, msgType string) error {
	f.messages = append(f.messages, role+": "+content)
	return nil
}

func (f *fakeSessions) ContextSummary(ctx context.Context, sessionID string) string {
	return f.summary
}

func (f *fakeSessions) TripContext(ctx context.Context, sessionID string) session.TripContext {
	return f.stored
}

func (f *fakeSessions) UpdateTripContext(ctx context.Context, sessionID string, update session.TripContext) error {
	f.trips = append(f.trips, update)
	return nil
}

type fakeRouter struct {
	decision router.Decision
}

func (f *fakeRouter) Route(ctx context.Context, query, contextSummary string, budget time.Duration) router.Decision {
	return f.decision
}

type fakePlanner struct {
	planned   []string
	followUps []string
	planCalls int
	lastFast  bool
}

func (f *fakePlanner) Plan(ctx context.Context, query, contextSummary string, fast bool, budget time.Duration) []string {
	f.planCalls++
	f.lastFast = fast
	return f.planned
}

func (f *fakePlanner) Expand(ctx context.Context, ranQueries []string, findings []string, budget time.Duration) []string {
	return f.followUps
}

type fakeSearcher struct {
	docs []search.Document
	runs [][]string
	opts []search.Options
}

func (f *fakeSearcher) Run(ctx context.Context, queries []string, opts search.Options) []search.Document {
	f.runs = append(f.runs, queries)
	f.opts = append(f.opts, opts)
	if opts.Stop != nil && opts.Stop() {
		return nil
	}
	return f.docs
}

type fakeMiner struct {
	insights []miner.Insight
	docCaps  []int
}

func (f *fakeMiner) Mine(ctx context.Context, docs []search.Document, docCap int, callBudget func() time.Duration) []miner.Insight {
	f.docCaps = append(f.docCaps, docCap)
	if callBudget() <= 0 {
		return nil
	}
	return f.insights
}

type fakeGate struct {
	sections []tasks.Section
	details  []trip.Details
}

func (f *fakeGate) Run(ctx context.Context, query string, details trip.Details,
	allow func(budget.Stage) bool, callBudget func() time.Duration) []tasks.Section {
	f.details = append(f.details, details)
	return f.sections
}

type fakeComposer struct {
	narrativeAllowed []bool
	lightCalls       int
	recallCalls      int
}

func (f *fakeComposer) Compose(ctx context.Context, in synthesis.Input, allowNarrative bool, budget time.Duration) string {
	f.narrativeAllowed = append(f.narrativeAllowed, allowNarrative)
	return "# composed plan"
}

func (f *fakeComposer) Light(ctx context.Context, query string, docs []search.Document, allowModel bool, budget time.Duration) string {
	f.lightCalls++
	return "light answer"
}

func (f *fakeComposer) Recall(ctx context.Context, query, contextSummary string, allowModel bool, budget time.Duration) string {
	f.recallCalls++
	return "recall answer: " + contextSummary
}

type fixture struct {
	pipeline *Pipeline
	sessions *fakeSessions
	planner  *fakePlanner
	searcher *fakeSearcher
	miner    *fakeMiner
	gate     *fakeGate
	composer *fakeComposer
	policy   *budget.Policy
}

func newFixture(decision router.Decision) *fixture {
	cfg := &config.Settings{}
	cfg.Budget.Deadline = 60 * time.Second
	cfg.Search.MaxResults = 5
	cfg.Search.FetchTop = 8

	f := &fixture{
		sessions: &fakeSessions{},
		planner: &fakePlanner{planned: []string{"jaipur scams", "jaipur monsoon"}},
		searcher: &fakeSearcher{docs: []search.Document{
			{Title: "report", URL: "https://r.example", Snippet: "taxi scam"},
		}},
		miner:    &fakeMiner{insights: []miner.Insight{{Kind: "scam", Summary: "taxi scam"}}},
		gate:     &fakeGate{sections: []tasks.Section{{Capability: "checklist", Title: "Checklist", Markdown: "- ID"}}},
		composer: &fakeComposer{},
		policy:   budget.DefaultPolicy(),
	}
	f.pipeline = New(cfg, f.policy, f.sessions, &fakeRouter{decision: decision},
		f.planner, f.searcher, f.miner, f.gate, f.composer, nil, zap.NewNop())
	return f
}

func TestRunFullPipelineScenario(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.FullPipeline})

	res, err := f.pipeline.Run(context.Background(), Request{
		Query:   "Delhi to Jaipur for 3 days",
		Persist: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "# composed plan", res.Markdown)
	assert.Equal(t, "new-session", res.SessionID)
	assert.Equal(t, router.FullPipeline, res.Route)

	// Both turns persisted, in order.
	require.Len(t, f.sessions.messages, 2)
	assert.Contains(t, f.sessions.messages[0], "user: Delhi to Jaipur")
	assert.Contains(t, f.sessions.messages[1], "assistant: # composed plan")

	// Trip context captured for the next turn.
	require.NotEmpty(t, f.sessions.trips)
	assert.Equal(t, "Jaipur", f.sessions.trips[0].Destination)
	assert.Equal(t, string(trip.ScopeDomestic), f.sessions.trips[0].Scope)

	// Full budget at start: narrative allowed, full miner cap.
	require.Len(t, f.composer.narrativeAllowed, 1)
	assert.True(t, f.composer.narrativeAllowed[0])
	require.NotEmpty(t, f.miner.docCaps)
	assert.Equal(t, 24, f.miner.docCaps[0])
}

func TestRunEmptyQueryRejected(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.FullPipeline})
	_, err := f.pipeline.Run(context.Background(), Request{})
	assert.Error(t, err)
}

func TestRunDirectReply(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.Direct, Reply: "Hello!"})
	res, err := f.pipeline.Run(context.Background(), Request{Query: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", res.Markdown)
	assert.Empty(t, f.searcher.runs, "direct answers never search")
}

func TestRunMemoryRecall(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.Direct, Recall: true})
	f.sessions.summary = "Current trip: Delhi to Jaipur"

	res, err := f.pipeline.Run(context.Background(), Request{Query: "what did we plan?", SessionID: "s1"})
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "Delhi to Jaipur")
	assert.Equal(t, 1, f.composer.recallCalls)
}

func TestRunLightSearch(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.LightSearch})
	res, err := f.pipeline.Run(context.Background(), Request{Query: "is amber fort open"})
	require.NoError(t, err)
	assert.Equal(t, "light answer", res.Markdown)
	require.Len(t, f.searcher.runs, 1)
	assert.Equal(t, []string{"is amber fort open"}, f.searcher.runs[0])
}

func TestRunFastModeCapsWork(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.FullPipeline})
	fast := true

	_, err := f.pipeline.Run(context.Background(), Request{
		Query:    "Delhi to Jaipur",
		FastMode: &fast,
	})
	require.NoError(t, err)
	assert.True(t, f.planner.lastFast)
	require.NotEmpty(t, f.miner.docCaps)
	assert.LessOrEqual(t, f.miner.docCaps[0], fastMinerDocCap)
	require.NotEmpty(t, f.searcher.opts)
	assert.Equal(t, fastFetchTop, f.searcher.opts[0].FetchTop)
}

func TestFindingsTruncateOnRuneBoundary(t *testing.T) {
	docs := []search.Document{{
		Title:   "costs",
		Snippet: strings.Repeat("₹500 auto fare ", 20),
	}}
	out := findings(docs)
	require.Len(t, out, 1)
	assert.True(t, utf8.ValidString(out[0]))
	assert.LessOrEqual(t, len(out[0]), len("costs: ")+160)
}

func TestRunFetchTopFollowsConfig(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.FullPipeline})
	f.pipeline.cfg.Search.FetchTop = 6

	_, err := f.pipeline.Run(context.Background(), Request{Query: "Delhi to Jaipur"})
	require.NoError(t, err)
	require.NotEmpty(t, f.searcher.opts)
	assert.Equal(t, 6, f.searcher.opts[0].FetchTop)
}

func TestRunExplicitFastModeOverridesConfig(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.FullPipeline})
	f.pipeline.cfg.FastMode = true
	slow := false

	_, err := f.pipeline.Run(context.Background(), Request{
		Query:    "Delhi to Jaipur",
		FastMode: &slow,
	})
	require.NoError(t, err)
	assert.False(t, f.planner.lastFast)
}

func TestRunStatelessWhenSessionFails(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.FullPipeline})
	f.sessions.failEnsure = true

	res, err := f.pipeline.Run(context.Background(), Request{Query: "Delhi to Jaipur", Persist: true})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Markdown, "the answer survives a dead session store")
	assert.Empty(t, res.SessionID)
	assert.Empty(t, f.sessions.messages)
}

func TestRunExhaustedPolicyStillAnswers(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.FullPipeline})
	// Raise every threshold beyond any possible deadline: every gated stage
	// must take its cheap path, and an answer must still come out.
	var rules []budget.Rule
	for _, r := range budget.DefaultPolicy().Rules() {
		rules = append(rules, budget.Rule{Stage: r.Stage, MinRemaining: 400 * time.Second})
	}
	f.policy.Update(rules)

	res, err := f.pipeline.Run(context.Background(), Request{Query: "Delhi to Jaipur"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Markdown)

	assert.Zero(t, f.planner.planCalls, "planner model gated, scaffold used")
	require.Len(t, f.composer.narrativeAllowed, 1)
	assert.False(t, f.composer.narrativeAllowed[0], "narrative gated")
}

func TestRunFollowUpRoundDeduplicates(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.FullPipeline})
	f.planner.followUps = []string{"amber fort closure"}

	_, err := f.pipeline.Run(context.Background(), Request{Query: "Delhi to Jaipur"})
	require.NoError(t, err)
	require.Len(t, f.searcher.runs, 2, "initial round plus follow-up round")
	assert.Equal(t, []string{"amber fort closure"}, f.searcher.runs[1])
}

func TestRunSessionTripContextCarriesForward(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.FullPipeline})
	f.sessions.stored = session.TripContext{
		Origin: "Delhi", Destination: "Jaipur", Days: 3, Scope: string(trip.ScopeDomestic),
	}

	_, err := f.pipeline.Run(context.Background(), Request{
		Query:     "what about trains instead",
		SessionID: "s1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, f.gate.details)
	assert.Equal(t, "Jaipur", f.gate.details[0].Destination, "route inherited from session")
	assert.Equal(t, 3, f.gate.details[0].Days)
}

func TestRunDeadlineClampAppliesToRequests(t *testing.T) {
	f := newFixture(router.Decision{Kind: router.Direct, Reply: "ok"})
	res, err := f.pipeline.Run(context.Background(), Request{
		Query:    "hi",
		Deadline: time.Millisecond, // clamps up to the floor, not zero
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Markdown)
}
