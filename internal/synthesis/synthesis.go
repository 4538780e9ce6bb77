package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/llm"
	"github.com/routewise-ai/routewise/internal/miner"
	"github.com/routewise-ai/routewise/internal/search"
	"github.com/routewise-ai/routewise/internal/tasks"
	"github.com/routewise-ai/routewise/internal/trip"
)

// Completer is the slice of the completion client synthesis needs.
type Completer interface {
	Complete(ctx context.Context, op string, req llm.Request, timeout time.Duration) (string, error)
}

// Synthesizer assembles the final answer. The structured sections are built
// from material already in hand, so an answer always comes out even when the
// narrative model call is skipped or fails.
type Synthesizer struct {
	completer Completer
	logger    *zap.Logger
}

func New(completer Completer, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{completer: completer, logger: logger}
}

// Input carries everything the pipeline gathered for one answer.
type Input struct {
	Query          string
	Details        trip.Details
	Insights       []miner.Insight
	Sections       []tasks.Section
	ContextSummary string
}

// kindHeadings orders and labels insight groups in the Reality Check.
var kindHeadings = []struct {
	kind  string
	label string
}{
	{"scam", "Scams to watch for"},
	{"warning", "Current warnings"},
	{"temporal", "Timing issues"},
	{"delay", "Delays & disruptions"},
	{"transport_safety", "Transport safety"},
	{"cost", "Real costs"},
	{"hack", "Local hacks"},
	{"food", "Food notes"},
	{"accommodation", "Where to stay"},
	{"complaint", "Common complaints"},
}

const failedNarrative = "Itinerary generation failed. The research findings and guidance below still apply."

// Compose builds the final markdown answer. allowNarrative gates the model
// call; without it (or on failure) a templated narrative stands in.
func (s *Synthesizer) Compose(ctx context.Context, in Input, allowNarrative bool, budget time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", planTitle(in.Details))

	if rc := realityCheck(in.Insights); rc != "" {
		b.WriteString(rc)
	}
	for _, sec := range in.Sections {
		if strings.TrimSpace(sec.Markdown) == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", sec.Title, sec.Markdown)
	}

	b.WriteString("## Itinerary\n\n")
	b.WriteString(s.narrative(ctx, in, allowNarrative, budget))
	b.WriteString("\n")
	return strings.TrimSpace(b.String()) + "\n"
}

func (s *Synthesizer) narrative(ctx context.Context, in Input, allowNarrative bool, budget time.Duration) string {
	if !allowNarrative {
		s.logger.Info("Narrative skipped on budget, using template")
		return templateNarrative(in.Details)
	}
	text, err := s.completer.Complete(ctx, "synthesis", llm.Request{
		Messages: []llm.Message{{Role: "user", Content: narrativePrompt(in)}},
	}, budget)
	if err != nil || strings.TrimSpace(text) == "" {
		s.logger.Warn("Narrative generation failed", zap.Error(err))
		return failedNarrative
	}
	return strings.TrimSpace(text)
}

func narrativePrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Write a day-by-day itinerary in markdown for this request:\n")
	b.WriteString(in.Query + "\n\n")
	if in.Details.Destination != "" {
		fmt.Fprintf(&b, "Route: %s\n", routeLine(in.Details))
	}
	if in.ContextSummary != "" {
		b.WriteString("Conversation context:\n" + in.ContextSummary + "\n\n")
	}
	if len(in.Insights) > 0 {
		b.WriteString("Work these researched findings into the plan where relevant:\n")
		for _, ins := range in.Insights {
			fmt.Fprintf(&b, "- [%s] %s\n", ins.Kind, ins.Summary)
		}
		b.WriteString("\n")
	}
	b.WriteString("Be concrete: name neighbourhoods, rough prices in INR, and timing. " +
		"Do not repeat the checklist or visa guidance; those are covered separately. " +
		"No preamble.")
	return b.String()
}

// realityCheck renders insights grouped by kind, most safety-relevant first.
func realityCheck(insights []miner.Insight) string {
	if len(insights) == 0 {
		return ""
	}
	byKind := make(map[string][]miner.Insight)
	for _, ins := range insights {
		byKind[ins.Kind] = append(byKind[ins.Kind], ins)
	}

	var b strings.Builder
	b.WriteString("## Reality Check\n\n")
	for _, h := range kindHeadings {
		group := byKind[h.kind]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "**%s**\n\n", h.label)
		for _, ins := range group {
			b.WriteString("- " + ins.Summary)
			if ins.Detail != "" {
				b.WriteString(" " + ins.Detail)
			}
			if ins.SourceURL != "" {
				fmt.Fprintf(&b, " ([source](%s))", ins.SourceURL)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func planTitle(d trip.Details) string {
	if d.Destination == "" {
		return "Your Travel Plan"
	}
	title := routeLine(d)
	if d.Days > 0 {
		title = fmt.Sprintf("%s (%d days)", title, d.Days)
	}
	return title
}

func routeLine(d trip.Details) string {
	if d.Origin != "" {
		return d.Origin + " to " + d.Destination
	}
	return d.Destination
}

// templateNarrative is the zero-model itinerary skeleton.
func templateNarrative(d trip.Details) string {
	days := d.Days
	if days <= 0 {
		days = 3
	}
	dest := d.Destination
	if dest == "" {
		dest = "your destination"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "A compressed plan for %s:\n\n", dest)
	for i := 1; i <= days && i <= 7; i++ {
		switch i {
		case 1:
			fmt.Fprintf(&b, "- **Day 1:** Arrive, settle in, and cover the sights nearest your stay. Keep the evening light.\n")
		case days:
			fmt.Fprintf(&b, "- **Day %d:** Keep the morning free for anything missed, then travel out with buffer time.\n", i)
		default:
			fmt.Fprintf(&b, "- **Day %d:** One major sight in the morning, one neighbourhood in the afternoon. Book tickets online the night before.\n", i)
		}
	}
	b.WriteString("\nThis is a fallback outline; ask again with more time for a researched day-by-day plan.")
	return b.String()
}

// Light answers a quick factual question from retrieved snippets. Fallback is
// the snippets themselves as a sourced list.
func (s *Synthesizer) Light(ctx context.Context, query string, docs []search.Document, allowModel bool, budget time.Duration) string {
	if allowModel && len(docs) > 0 {
		var b strings.Builder
		b.WriteString("Answer this travel question from the search results below. " +
			"Cite source URLs inline. If the results don't answer it, say so.\n\n")
		b.WriteString("Question: " + query + "\n\n")
		for i, d := range docs {
			if i >= 6 {
				break
			}
			fmt.Fprintf(&b, "[%s] %s: %s\n", d.URL, d.Title, d.Snippet)
		}
		text, err := s.completer.Complete(ctx, "light_synthesis", llm.Request{
			Messages: []llm.Message{{Role: "user", Content: b.String()}},
		}, budget)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		s.logger.Warn("Light synthesis failed, returning raw results", zap.Error(err))
	}
	if len(docs) == 0 {
		return "I couldn't reach the web to check that just now. Try again in a moment."
	}
	var b strings.Builder
	b.WriteString("Here's what a quick search turned up:\n\n")
	for i, d := range docs {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "- [%s](%s): %s\n", d.Title, d.URL, d.Snippet)
	}
	return strings.TrimSpace(b.String())
}

// Recall answers a memory question from the session itself.
func (s *Synthesizer) Recall(ctx context.Context, query, contextSummary string, allowModel bool, budget time.Duration) string {
	if contextSummary == "" {
		return "We haven't discussed a trip in this session yet. Tell me where you're headed and I'll get planning."
	}
	if allowModel {
		prompt := fmt.Sprintf(
			"Answer the user's question using only this conversation history. Be brief.\n\nHistory:\n%s\n\nQuestion: %s",
			contextSummary, query)
		text, err := s.completer.Complete(ctx, "recall", llm.Request{
			Messages: []llm.Message{{Role: "user", Content: prompt}},
		}, budget)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	return "Here's where we left off:\n\n" + contextSummary
}
