package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/routewise-ai/routewise/internal/metrics"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily's documented query limit.
const tavilyMaxQueryLen = 400

// Tavily is the keyed search API; results include extracted page content,
// which saves a page fetch for the documents it covers.
type Tavily struct {
	apiKey     string
	httpClient *http.Client
}

func NewTavily(apiKey string, httpClient *http.Client) *Tavily {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Tavily{apiKey: apiKey, httpClient: httpClient}
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	Depth      string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Document, error) {
	if len(query) > tavilyMaxQueryLen {
		return nil, ErrQueryTooLong
	}
	metrics.ProviderQueries.WithLabelValues(t.Name()).Inc()

	body, err := json.Marshal(tavilyRequest{
		Query:      query,
		MaxResults: maxResults,
		Depth:      "basic",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tavilyEndpoint,
		bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(t.Name()).Inc()
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(t.Name()).Inc()
		return nil, fmt.Errorf("tavily read: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest && bytes.Contains(raw, []byte("too long")):
		return nil, ErrQueryTooLong
	case resp.StatusCode != http.StatusOK:
		metrics.ProviderErrors.WithLabelValues(t.Name()).Inc()
		return nil, fmt.Errorf("tavily status %d", resp.StatusCode)
	}

	var tr tavilyResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		metrics.ProviderErrors.WithLabelValues(t.Name()).Inc()
		return nil, fmt.Errorf("tavily decode: %w", err)
	}

	docs := make([]Document, 0, len(tr.Results))
	for _, r := range tr.Results {
		if r.URL == "" {
			continue
		}
		snippet := truncateRunes(r.Content, 300)
		docs = append(docs, Document{
			Source:  t.Name(),
			Title:   r.Title,
			URL:     r.URL,
			Snippet: snippet,
			Content: r.Content,
		})
	}
	return docs, nil
}
