package router

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
	calls    int
}

func (f *fakeCompleter) Complete(ctx context.Context, op string, req llm.Request, timeout time.Duration) (string, error) {
	f.calls++
	return f.response, f.err
}

func newTestRouter(f *fakeCompleter) *Router {
	r := New(f, zap.NewNop())
	r.now = func() time.Time {
		return time.Date(2026, time.August, 31, 10, 0, 0, 0, time.UTC)
	}
	return r
}

func TestRouteMemoryRecallSkipsModel(t *testing.T) {
	f := &fakeCompleter{}
	r := newTestRouter(f)

	for _, q := range []string{
		"what did we plan yesterday?",
		"remind me of the hotel area",
		"what's my budget again",
		"recap our conversation",
	} {
		d := r.Route(context.Background(), q, "", time.Second)
		assert.Equal(t, Direct, d.Kind, q)
		assert.True(t, d.Recall, q)
	}
	assert.Zero(t, f.calls, "recall questions never hit the model")
}

func TestRouteDateIsComputed(t *testing.T) {
	r := newTestRouter(&fakeCompleter{})
	d := r.Route(context.Background(), "what day is it today?", "", time.Second)
	assert.Equal(t, Direct, d.Kind)
	assert.Contains(t, d.Reply, "Monday")
	assert.Contains(t, d.Reply, "31 August 2026")
}

func TestRouteGreeting(t *testing.T) {
	r := newTestRouter(&fakeCompleter{})
	d := r.Route(context.Background(), "hello!", "", time.Second)
	assert.Equal(t, Direct, d.Kind)
	assert.NotEmpty(t, d.Reply)
	assert.False(t, d.Recall)
}

func TestRouteModelDecisionsRespected(t *testing.T) {
	cases := []struct {
		response string
		want     Kind
	}{
		{"ROUTE: PLAN", FullPipeline},
		{"ROUTE: LIGHT", LightSearch},
		{"route: plan", FullPipeline},
	}
	for _, tc := range cases {
		r := newTestRouter(&fakeCompleter{response: tc.response})
		d := r.Route(context.Background(), "3 days around Udaipur?", "", time.Second)
		assert.Equal(t, tc.want, d.Kind, tc.response)
	}
}

func TestRouteModelDirectCarriesReply(t *testing.T) {
	r := newTestRouter(&fakeCompleter{response: "ROUTE: DIRECT\nREPLY: The rupee is India's currency."})
	d := r.Route(context.Background(), "some question", "", time.Second)
	assert.Equal(t, Direct, d.Kind)
	assert.Equal(t, "The rupee is India's currency.", d.Reply)
}

func TestRouteModelDirectWithoutReplyDemotedToLight(t *testing.T) {
	r := newTestRouter(&fakeCompleter{response: "ROUTE: DIRECT"})
	d := r.Route(context.Background(), "some question", "", time.Second)
	assert.Equal(t, LightSearch, d.Kind)
}

func TestRouteHeuristicFallback(t *testing.T) {
	f := &fakeCompleter{err: assert.AnError}
	r := newTestRouter(f)

	d := r.Route(context.Background(), "plan a trip to Jaipur", "", time.Second)
	assert.Equal(t, FullPipeline, d.Kind)

	d = r.Route(context.Background(), "is the Amber Fort open on Mondays", "", time.Second)
	assert.Equal(t, LightSearch, d.Kind)

	// Unclassifiable input still gets the full treatment.
	d = r.Route(context.Background(), "jaipur 3 days", "", time.Second)
	assert.Equal(t, FullPipeline, d.Kind)
}

func TestRouteUnparseableModelOutputFallsBack(t *testing.T) {
	r := newTestRouter(&fakeCompleter{response: "I think this is probably about planning?"})
	d := r.Route(context.Background(), "weekend itinerary for Goa", "", time.Second)
	assert.Equal(t, FullPipeline, d.Kind)
}

func TestParseModelRoute(t *testing.T) {
	d, ok := parseModelRoute("ROUTE: LIGHT\n")
	require.True(t, ok)
	assert.Equal(t, LightSearch, d.Kind)

	_, ok = parseModelRoute("no idea")
	assert.False(t, ok)
}
