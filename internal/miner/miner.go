package miner

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/llm"
	"github.com/routewise-ai/routewise/internal/metrics"
	"github.com/routewise-ai/routewise/internal/search"
)

// Insight is one extracted reality-check fact, attributed to its source.
type Insight struct {
	Kind      string `json:"kind"`
	Summary   string `json:"summary"`
	Detail    string `json:"detail,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
}

// validKinds is the insight taxonomy. Anything else the model invents is
// folded into "warning" rather than dropped.
var validKinds = map[string]bool{
	"scam": true, "warning": true, "hack": true, "cost": true,
	"delay": true, "complaint": true, "temporal": true, "food": true,
	"accommodation": true, "transport_safety": true,
}

const (
	// Per-document and per-call text limits keep prompts bounded.
	maxDocText  = 4000
	maxCallText = 12000
)

// Completer is the slice of the completion client the miner needs.
type Completer interface {
	Complete(ctx context.Context, op string, req llm.Request, timeout time.Duration) (string, error)
	MinerModel() string
}

// Miner extracts traveler-relevant facts from retrieved documents. A failed
// batch costs its insights, never the run.
type Miner struct {
	completer Completer
	logger    *zap.Logger
}

func New(completer Completer, logger *zap.Logger) *Miner {
	return &Miner{completer: completer, logger: logger}
}

const minePrompt = `You extract hard facts from travel pages for a trip planner.
From the material below, extract concrete, actionable findings a traveler
must know: scams, current warnings, money-saving hacks, real costs, delays,
recurring complaints, time-sensitive issues, food, accommodation, and
transport safety.

Respond with ONLY a JSON array of objects:
  {"kind": "<scam|warning|hack|cost|delay|complaint|temporal|food|accommodation|transport_safety>",
   "summary": "<one sentence>",
   "detail": "<specifics: amounts, places, dates>",
   "sourceUrl": "<url the fact came from>"}

Material:
%s`

// Mine extracts insights from up to docCap documents. Per-batch time comes
// out of the shared budget func, consulted before each model call.
func (m *Miner) Mine(ctx context.Context, docs []search.Document, docCap int, callBudget func() time.Duration) []Insight {
	if docCap <= 0 || len(docs) == 0 {
		return nil
	}
	if len(docs) > docCap {
		docs = docs[:docCap]
	}

	var insights []Insight
	for _, batch := range batchDocs(docs) {
		budget := callBudget()
		if budget <= 0 {
			m.logger.Info("Mining stopped early on budget",
				zap.Int("insights_so_far", len(insights)))
			break
		}
		raw, err := m.completer.Complete(ctx, "miner", llm.Request{
			Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(minePrompt, batch)}},
			Model:    m.completer.MinerModel(),
		}, budget)
		if err != nil {
			m.logger.Warn("Mining batch failed, continuing", zap.Error(err))
			continue
		}
		var wire []Insight
		if err := llm.DecodeJSON(raw, &wire); err != nil {
			m.logger.Warn("Mining output undecodable, batch dropped")
			continue
		}
		for _, ins := range wire {
			if ins.Summary == "" {
				continue
			}
			ins.Kind = NormalizeKind(ins.Kind)
			insights = append(insights, ins)
		}
	}
	metrics.InsightsExtracted.Observe(float64(len(insights)))
	return insights
}

// NormalizeKind maps model-invented kinds into the taxonomy.
func NormalizeKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if validKinds[kind] {
		return kind
	}
	return "warning"
}

// batchDocs renders documents into prompt blocks, packing as many as fit the
// per-call text limit into each batch.
func batchDocs(docs []search.Document) []string {
	var batches []string
	var b strings.Builder
	for _, d := range docs {
		block := renderDoc(d)
		if b.Len() > 0 && b.Len()+len(block) > maxCallText {
			batches = append(batches, b.String())
			b.Reset()
		}
		b.WriteString(block)
	}
	if b.Len() > 0 {
		batches = append(batches, b.String())
	}
	return batches
}

func renderDoc(d search.Document) string {
	text := d.Content
	if text == "" {
		text = d.Snippet
	}
	if len(text) > maxDocText {
		text = truncateRunes(text, maxDocText)
	}
	return fmt.Sprintf("SOURCE: %s\nTITLE: %s\nTEXT: %s\n\n", d.URL, d.Title, text)
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
