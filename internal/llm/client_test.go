package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.LLMConfig{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Model:   "test-model",
		Timeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestCompleteReturnsAssistantText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello"}},
			},
		})
	})

	got, err := c.Complete(context.Background(), "planner", Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestCompleteNonOKStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Complete(context.Background(), "planner", Request{}, time.Second)
	assert.Error(t, err)
}

func TestCompleteTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	})
	start := time.Now()
	_, err := c.Complete(context.Background(), "planner", Request{}, 50*time.Millisecond)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestCompleteEmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	})
	_, err := c.Complete(context.Background(), "planner", Request{}, time.Second)
	assert.Error(t, err)
}
