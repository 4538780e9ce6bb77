package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/llm"
)

type fakeCompleter struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeCompleter) Complete(ctx context.Context, op string, req llm.Request, timeout time.Duration) (string, error) {
	f.prompts = append(f.prompts, req.Messages[len(req.Messages)-1].Content)
	return f.response, f.err
}

func TestPlanDecodesModelOutput(t *testing.T) {
	f := &fakeCompleter{response: `["jaipur scams", "jaipur monsoon closures"]`}
	p := New(f, zap.NewNop())

	got := p.Plan(context.Background(), "trip to Jaipur", "", false, time.Second)
	assert.Equal(t, []string{"jaipur scams", "jaipur monsoon closures"}, got)
}

func TestPlanFallsBackToScaffoldOnError(t *testing.T) {
	f := &fakeCompleter{err: assert.AnError}
	p := New(f, zap.NewNop())

	got := p.Plan(context.Background(), "trip to Jaipur", "", false, time.Second)
	require.NotEmpty(t, got)
	assert.Len(t, got, MaxQueries)
	assert.Contains(t, got[0], "trip to Jaipur")
}

func TestPlanFallsBackOnGarbageOutput(t *testing.T) {
	f := &fakeCompleter{response: "I'm sorry, I can't help with that."}
	p := New(f, zap.NewNop())
	got := p.Plan(context.Background(), "trip to Jaipur", "", false, time.Second)
	assert.Len(t, got, MaxQueries)
}

func TestPlanFastModeCapsQueries(t *testing.T) {
	f := &fakeCompleter{err: assert.AnError}
	p := New(f, zap.NewNop())
	got := p.Plan(context.Background(), "trip to Jaipur", "", true, time.Second)
	assert.Len(t, got, MaxQueriesFast)
}

func TestPlanCapsOverlongModelOutput(t *testing.T) {
	many := `["q1","q2","q3","q4","q5","q6","q7","q8","q9","q10","q11","q12","q13","q14","q15","q16","q17","q18"]`
	f := &fakeCompleter{response: many}
	p := New(f, zap.NewNop())
	got := p.Plan(context.Background(), "trip", "", false, time.Second)
	assert.Len(t, got, MaxQueries)
}

func TestPlanIncludesContext(t *testing.T) {
	f := &fakeCompleter{response: `["q"]`}
	p := New(f, zap.NewNop())
	p.Plan(context.Background(), "what about trains", "Current trip: Delhi to Jaipur", false, time.Second)
	require.Len(t, f.prompts, 1)
	assert.Contains(t, f.prompts[0], "Delhi to Jaipur")
}

func TestExpandDropsAlreadyRanQueries(t *testing.T) {
	f := &fakeCompleter{response: `["Jaipur Scams", "amber fort closure 2026"]`}
	p := New(f, zap.NewNop())

	got := p.Expand(context.Background(),
		[]string{"jaipur scams"}, []string{"taxi scam at station"}, time.Second)
	assert.Equal(t, []string{"amber fort closure 2026"}, got)
}

func TestExpandSilentOnFailure(t *testing.T) {
	f := &fakeCompleter{err: assert.AnError}
	p := New(f, zap.NewNop())
	assert.Nil(t, p.Expand(context.Background(), []string{"q"}, []string{"finding"}, time.Second))
}

func TestExpandSkipsWithoutFindings(t *testing.T) {
	f := &fakeCompleter{}
	p := New(f, zap.NewNop())
	assert.Nil(t, p.Expand(context.Background(), []string{"q"}, nil, time.Second))
	assert.Empty(t, f.prompts, "no model call without findings")
}

func TestScaffoldDeduplicatesNothingAndOrdersByValue(t *testing.T) {
	got := Scaffold("goa", 3)
	require.Len(t, got, 3)
	assert.Contains(t, got[0], "scams")
}
