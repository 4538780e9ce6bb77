package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/budget"
	"github.com/routewise-ai/routewise/internal/llm"
	"github.com/routewise-ai/routewise/internal/trip"
)

type fakeCompleter struct {
	response string
	err      error
	ops      []string
}

func (f *fakeCompleter) Complete(ctx context.Context, op string, req llm.Request, timeout time.Duration) (string, error) {
	f.ops = append(f.ops, op)
	return f.response, f.err
}

func allowAll(budget.Stage) bool  { return true }
func allowNone(budget.Stage) bool { return false }

func callBudget() time.Duration { return time.Second }

func domesticTrip() trip.Details {
	return trip.Details{Origin: "Delhi", Destination: "Jaipur", Scope: trip.ScopeDomestic}
}

func internationalTrip() trip.Details {
	return trip.Details{Origin: "Mumbai", Destination: "Bangkok", Scope: trip.ScopeInternational}
}

func capNames(sections []Section) []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = s.Capability
	}
	return out
}

func TestRunSelectsWarrantedCapabilities(t *testing.T) {
	f := &fakeCompleter{response: "guidance"}
	g := New(f, zap.NewNop())

	// Domestic route, no visa or connectivity triggers: flights (route known)
	// and checklist run; documents and connectivity stay out.
	sections := g.Run(context.Background(), "Delhi to Jaipur for 3 days",
		domesticTrip(), allowAll, callBudget)
	names := capNames(sections)
	assert.Contains(t, names, "flights")
	assert.Contains(t, names, "checklist")
	assert.NotContains(t, names, "documents")
	assert.NotContains(t, names, "connectivity")
}

func TestRunInternationalAddsDocumentsAndConnectivity(t *testing.T) {
	f := &fakeCompleter{response: "guidance"}
	g := New(f, zap.NewNop())

	names := capNames(g.Run(context.Background(), "Mumbai to Bangkok next month",
		internationalTrip(), allowAll, callBudget))
	assert.Contains(t, names, "documents")
	assert.Contains(t, names, "connectivity")
}

func TestRunKeywordsWarrantBudget(t *testing.T) {
	f := &fakeCompleter{response: "guidance"}
	g := New(f, zap.NewNop())

	names := capNames(g.Run(context.Background(), "cheap weekend in Jaipur on a budget",
		trip.Details{Destination: "Jaipur", Scope: trip.ScopeDomestic}, allowAll, callBudget))
	assert.Contains(t, names, "budget_estimate")
}

func TestRunBudgetGateSkips(t *testing.T) {
	f := &fakeCompleter{response: "guidance"}
	g := New(f, zap.NewNop())

	sections := g.Run(context.Background(), "Delhi to Jaipur",
		domesticTrip(), allowNone, callBudget)
	assert.Empty(t, sections)
	assert.Empty(t, f.ops, "no model calls when everything is gated")
}

func TestRunFallsBackOnModelFailure(t *testing.T) {
	f := &fakeCompleter{err: assert.AnError}
	g := New(f, zap.NewNop())

	sections := g.Run(context.Background(), "Mumbai to Bangkok",
		internationalTrip(), allowAll, callBudget)
	require.NotEmpty(t, sections)
	for _, s := range sections {
		assert.NotEmpty(t, s.Markdown, "fallback text fills every warranted section")
	}

	var docs Section
	for _, s := range sections {
		if s.Capability == "documents" {
			docs = s
		}
	}
	assert.Contains(t, docs.Markdown, "visa")
}

func TestFallbacksVaryByScope(t *testing.T) {
	dom := flightsFallback(domesticTrip())
	intl := flightsFallback(internationalTrip())
	assert.NotEqual(t, dom, intl)
	assert.Contains(t, dom, "train")
}

func TestSectionsKeepCanonicalOrder(t *testing.T) {
	f := &fakeCompleter{response: "guidance"}
	g := New(f, zap.NewNop())

	names := capNames(g.Run(context.Background(),
		"Mumbai to Bangkok on a budget with esim and visa help",
		internationalTrip(), allowAll, callBudget))
	assert.Equal(t, []string{"flights", "documents", "checklist", "budget_estimate", "connectivity"}, names)
}
