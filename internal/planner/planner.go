package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/llm"
)

// Query caps. Fast mode trades coverage for latency.
const (
	MaxQueries     = 15
	MaxQueriesFast = 5
	MaxFollowUps   = 8
)

// Completer is the slice of the completion client the planner needs.
type Completer interface {
	Complete(ctx context.Context, op string, req llm.Request, timeout time.Duration) (string, error)
}

// Planner turns one travel query into a set of search queries that probe the
// angles a glossy guide skips: scams, closures, seasonal trouble, transport
// reality. When the model is unavailable it falls back to a deterministic
// scaffold, so planning never fails a run.
type Planner struct {
	completer Completer
	logger    *zap.Logger
}

func New(completer Completer, logger *zap.Logger) *Planner {
	return &Planner{completer: completer, logger: logger}
}

const planPrompt = `You generate web search queries for a travel research agent.
Given a traveler's request, produce %d diverse search queries covering:
- scams, touts, and overcharging at the destination
- current warnings, closures, strikes, or disruptions
- seasonal and festival timing issues for the travel dates
- transport logistics (trains, buses, last-mile) and their failure modes
- accommodation areas to prefer or avoid
- realistic daily costs

Traveler request: %s
%s
Respond with ONLY a JSON array of query strings.`

// Plan produces search queries for the request. Context summary (possibly
// empty) lets follow-up turns inherit the session's trip. Budget is how much
// wall-clock the planner may spend; the model call is bounded by it.
func (p *Planner) Plan(ctx context.Context, query, contextSummary string, fast bool, budget time.Duration) []string {
	limit := MaxQueries
	if fast {
		limit = MaxQueriesFast
	}

	extra := ""
	if contextSummary != "" {
		extra = "Conversation so far:\n" + contextSummary + "\n"
	}
	prompt := fmt.Sprintf(planPrompt, limit, query, extra)

	raw, err := p.completer.Complete(ctx, "planner", llm.Request{
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	}, budget)
	if err != nil {
		p.logger.Warn("Planner model unavailable, using scaffold", zap.Error(err))
		return Scaffold(query, limit)
	}

	var queries []string
	if err := llm.DecodeJSON(raw, &queries); err != nil {
		p.logger.Warn("Planner output undecodable, using scaffold")
		return Scaffold(query, limit)
	}
	queries = sanitize(queries, limit)
	if len(queries) == 0 {
		return Scaffold(query, limit)
	}
	return queries
}

const expandPrompt = `A travel research agent ran these search queries:
%s

The retrieved material surfaced these findings:
%s

Produce up to %d follow-up search queries that dig into the most concerning
findings (verify a scam pattern, check if a closure is still current, find
workarounds). Respond with ONLY a JSON array of query strings. Respond with []
if nothing needs a follow-up.`

// Expand proposes follow-up queries from first-round findings. Failure is
// silent: expansion is opportunistic and the pipeline proceeds without it.
func (p *Planner) Expand(ctx context.Context, ranQueries []string, findings []string, budget time.Duration) []string {
	if len(findings) == 0 {
		return nil
	}
	prompt := fmt.Sprintf(expandPrompt,
		"- "+strings.Join(ranQueries, "\n- "),
		"- "+strings.Join(findings, "\n- "),
		MaxFollowUps)

	raw, err := p.completer.Complete(ctx, "expansion", llm.Request{
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	}, budget)
	if err != nil {
		p.logger.Debug("Expansion skipped", zap.Error(err))
		return nil
	}
	var queries []string
	if err := llm.DecodeJSON(raw, &queries); err != nil {
		return nil
	}

	seen := make(map[string]bool, len(ranQueries))
	for _, q := range ranQueries {
		seen[normalizeQuery(q)] = true
	}
	var out []string
	for _, q := range sanitize(queries, MaxFollowUps) {
		if seen[normalizeQuery(q)] {
			continue
		}
		out = append(out, q)
	}
	return out
}

// Scaffold is the deterministic fallback plan: fixed angles instantiated with
// the raw request. Ordered so truncation for fast mode keeps the highest
// value angles.
func Scaffold(query string, limit int) []string {
	angles := []string{
		"%s scams tourists warnings",
		"%s current travel warnings closures",
		"%s common tourist mistakes avoid",
		"%s festival season crowds timing",
		"%s train bus booking problems",
		"%s taxi auto overcharging airport",
		"%s where to stay areas avoid",
		"%s daily budget actual costs",
		"%s monsoon weather disruption",
		"%s food safety street food",
		"%s solo traveler safety night",
		"%s ATM cash card acceptance",
		"%s reddit trip report honest",
		"%s hidden fees entry tickets",
		"%s local transport last mile",
	}
	if limit > len(angles) {
		limit = len(angles)
	}
	out := make([]string, 0, limit)
	for _, a := range angles[:limit] {
		out = append(out, fmt.Sprintf(a, query))
	}
	return out
}

func sanitize(queries []string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || len(q) > 400 {
			continue
		}
		key := normalizeQuery(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
