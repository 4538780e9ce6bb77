package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/routewise-ai/routewise/internal/metrics"
)

const ddgEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo scrapes the HTML (no-JS) results page. No API key, so it is the
// default provider; result quality is lower than Tavily's.
type DuckDuckGo struct {
	httpClient *http.Client
}

func NewDuckDuckGo(httpClient *http.Client) *DuckDuckGo {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &DuckDuckGo{httpClient: httpClient}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]Document, error) {
	if len(query) > 490 {
		return nil, ErrQueryTooLong
	}
	metrics.ProviderQueries.WithLabelValues(d.Name()).Inc()

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ddgEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; routewise/1.0)")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(d.Name()).Inc()
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestURITooLong {
		return nil, ErrQueryTooLong
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ProviderErrors.WithLabelValues(d.Name()).Inc()
		return nil, fmt.Errorf("duckduckgo status %d", resp.StatusCode)
	}

	root, err := html.Parse(resp.Body)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(d.Name()).Inc()
		return nil, fmt.Errorf("duckduckgo parse: %w", err)
	}
	docs := parseDDGResults(root, maxResults)
	for i := range docs {
		docs[i].Source = d.Name()
	}
	return docs, nil
}

// parseDDGResults walks the result list: each hit is a node with class
// "result", holding an anchor "result__a" (title, link) and a "result__snippet".
func parseDDGResults(root *html.Node, maxResults int) []Document {
	var docs []Document
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if maxResults > 0 && len(docs) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result") {
			if doc, ok := parseDDGResult(n); ok {
				docs = append(docs, doc)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return docs
}

func parseDDGResult(n *html.Node) (Document, bool) {
	var doc Document
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				doc.Title = strings.TrimSpace(nodeText(n))
				doc.URL = resolveDDGLink(attr(n, "href"))
			case hasClass(n, "result__snippet"):
				doc.Snippet = strings.TrimSpace(nodeText(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return doc, doc.URL != "" && doc.Title != ""
}

// resolveDDGLink unwraps the uddg redirect to the destination URL.
func resolveDDGLink(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return href
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
