package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const ddgFixture = `<html><body>
<div class="results">
  <div class="result results_links">
    <h2 class="result__title">
      <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.reddit.com%2Fr%2Findia%2Fjaipur">Jaipur scam thread</a>
    </h2>
    <a class="result__snippet">Taxi drivers near the station <b>overcharge</b> tourists.</a>
  </div>
  <div class="result results_links">
    <h2 class="result__title">
      <a class="result__a" href="https://example.com/jaipur-guide">Jaipur guide</a>
    </h2>
    <a class="result__snippet">A complete guide to Jaipur.</a>
  </div>
  <div class="result">
    <a class="result__a" href="javascript:void(0)">Ad</a>
  </div>
</div>
</body></html>`

func TestParseDDGResults(t *testing.T) {
	root, err := html.Parse(strings.NewReader(ddgFixture))
	require.NoError(t, err)

	docs := parseDDGResults(root, 10)
	require.Len(t, docs, 2, "the javascript link is dropped")

	assert.Equal(t, "Jaipur scam thread", docs[0].Title)
	assert.Equal(t, "https://www.reddit.com/r/india/jaipur", docs[0].URL, "uddg redirect unwrapped")
	assert.Contains(t, docs[0].Snippet, "overcharge tourists")

	assert.Equal(t, "https://example.com/jaipur-guide", docs[1].URL)
}

func TestParseDDGResultsRespectsLimit(t *testing.T) {
	root, err := html.Parse(strings.NewReader(ddgFixture))
	require.NoError(t, err)
	assert.Len(t, parseDDGResults(root, 1), 1)
}

func TestDuckDuckGoSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "jaipur scams", r.Form.Get("q"))
		w.Write([]byte(ddgFixture))
	}))
	defer srv.Close()

	d := NewDuckDuckGo(&http.Client{Transport: rewriteTransport{base: srv.URL}})

	docs, err := d.Search(context.Background(), "jaipur scams", 5)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "duckduckgo", docs[0].Source)
}

func TestDuckDuckGoRejectsLongQuery(t *testing.T) {
	d := NewDuckDuckGo(nil)
	_, err := d.Search(context.Background(), strings.Repeat("x", 500), 5)
	assert.ErrorIs(t, err, ErrQueryTooLong)
}

// rewriteTransport redirects all requests to the test server.
type rewriteTransport struct {
	base string
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u, err := url.Parse(rt.base)
	if err != nil {
		return nil, err
	}
	req.URL.Scheme = u.Scheme
	req.URL.Host = u.Host
	return http.DefaultTransport.RoundTrip(req)
}
