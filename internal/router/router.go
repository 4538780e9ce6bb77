package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/llm"
)

// Kind selects the execution path for a request.
type Kind string

const (
	// Direct answers from canned or computed text, no retrieval.
	Direct Kind = "direct"
	// LightSearch runs a single query and a short synthesis.
	LightSearch Kind = "light_search"
	// FullPipeline runs planning, retrieval, mining, and capabilities.
	FullPipeline Kind = "full_pipeline"
)

// Decision is the routing outcome. Reply is set for Direct decisions that
// need no model call; Recall asks the pipeline to answer from session memory.
type Decision struct {
	Kind   Kind
	Reply  string
	Recall bool
}

// Completer is the slice of the completion client the router needs.
type Completer interface {
	Complete(ctx context.Context, op string, req llm.Request, timeout time.Duration) (string, error)
}

// Router classifies incoming queries. Cheap deterministic checks run first;
// the model breaks ties; heuristics catch a model failure. Routing itself
// never errors.
type Router struct {
	completer Completer
	logger    *zap.Logger
	now       func() time.Time
}

func New(completer Completer, logger *zap.Logger) *Router {
	return &Router{completer: completer, logger: logger, now: time.Now}
}

// memoryPatterns match questions answerable from the conversation itself.
var memoryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwhat (did|have) (i|we) (say|plan|discuss|decide|ask)`),
	regexp.MustCompile(`(?i)\bremind me\b`),
	regexp.MustCompile(`(?i)\bwhat('s| is| was) (my|our) (budget|destination|plan|trip|itinerary)`),
	regexp.MustCompile(`(?i)\b(summarize|recap) (our|the|this) (conversation|chat|plan)`),
	regexp.MustCompile(`(?i)\bwhere (was i|were we) (going|planning)`),
}

var dateTimeRe = regexp.MustCompile(`(?i)\bwhat('s| is)? (the )?(day|date|time) (is it )?(today|now)?\b|\btoday's date\b`)

var greetingRe = regexp.MustCompile(`(?i)^\s*(hi|hii+|hello|hey|namaste|good (morning|afternoon|evening))[\s!.,]*$`)

var questionLeads = []string{
	"what", "which", "when", "where", "who", "how", "is ", "are ", "does ",
	"do ", "can ", "should ", "why",
}

var planSignals = []string{
	"plan", "itinerary", "trip", "travel", "visit", "days in", "holiday",
	"vacation", "weekend", "tour",
}

// Route decides the execution path for a query.
func (r *Router) Route(ctx context.Context, query, contextSummary string, budget time.Duration) Decision {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)

	// Deterministic short-circuits first; these never need a model.
	for _, p := range memoryPatterns {
		if p.MatchString(q) {
			return Decision{Kind: Direct, Recall: true}
		}
	}
	if dateTimeRe.MatchString(q) {
		now := r.now()
		return Decision{Kind: Direct, Reply: fmt.Sprintf(
			"It's %s, %s.", now.Format("Monday"), now.Format("2 January 2006"))}
	}
	if greetingRe.MatchString(q) {
		return Decision{Kind: Direct, Reply: "Hello! Tell me where you're headed " +
			"and I'll put together a plan with the on-the-ground details guides leave out."}
	}
	if strings.Contains(lower, "thank") && len(lower) < 60 {
		return Decision{Kind: Direct, Reply: "You're welcome. Safe travels, and ask away if anything else comes up."}
	}
	if lower == "help" || strings.Contains(lower, "what can you do") || strings.Contains(lower, "who are you") {
		return Decision{Kind: Direct, Reply: "I'm a travel planner that researches the web for " +
			"scams, closures, and real costs before building your itinerary. " +
			"Try: \"Delhi to Jaipur for 3 days under ₹15k\"."}
	}

	if d, ok := r.modelRoute(ctx, q, contextSummary, budget); ok {
		return d
	}
	return heuristicRoute(lower)
}

const routePrompt = `Classify this travel assistant query into exactly one route.
Routes:
  PLAN - wants a trip plan or itinerary, or adjusts one under discussion
  LIGHT - a factual travel question answerable with one quick search
  DIRECT - chit-chat or something answerable without any search
%s
Query: %s

Respond with one line: "ROUTE: <PLAN|LIGHT|DIRECT>". For DIRECT add a second
line "REPLY: <your answer>".`

func (r *Router) modelRoute(ctx context.Context, query, contextSummary string, budget time.Duration) (Decision, bool) {
	extra := ""
	if contextSummary != "" {
		extra = "\nConversation so far:\n" + contextSummary + "\n"
	}
	raw, err := r.completer.Complete(ctx, "router", llm.Request{
		Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(routePrompt, extra, query)}},
	}, budget)
	if err != nil {
		r.logger.Warn("Router model unavailable, using heuristics", zap.Error(err))
		return Decision{}, false
	}
	return parseModelRoute(raw)
}

func parseModelRoute(raw string) (Decision, bool) {
	route := ""
	reply := ""
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "ROUTE:"):
			route = strings.ToUpper(strings.TrimSpace(line[len("ROUTE:"):]))
		case strings.HasPrefix(strings.ToUpper(line), "REPLY:"):
			reply = strings.TrimSpace(line[len("REPLY:"):])
		}
	}
	switch route {
	case "PLAN":
		return Decision{Kind: FullPipeline}, true
	case "LIGHT":
		return Decision{Kind: LightSearch}, true
	case "DIRECT":
		if reply == "" {
			// A direct route with nothing to say is a misfire; let the
			// light path produce a grounded answer instead.
			return Decision{Kind: LightSearch}, true
		}
		return Decision{Kind: Direct, Reply: reply}, true
	}
	return Decision{}, false
}

// heuristicRoute is the model-free fallback: questions go to the light path,
// anything that smells like trip planning gets the full pipeline.
func heuristicRoute(lower string) Decision {
	for _, s := range planSignals {
		if strings.Contains(lower, s) {
			return Decision{Kind: FullPipeline}
		}
	}
	for _, lead := range questionLeads {
		if strings.HasPrefix(lower, lead) {
			return Decision{Kind: LightSearch}
		}
	}
	return Decision{Kind: FullPipeline}
}
