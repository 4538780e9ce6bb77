package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// maxContentBytes bounds what one page may contribute downstream.
const maxContentBytes = 20000

// skipElements contribute no readable text.
var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true,
	"header": true, "footer": true, "aside": true, "form": true,
	"iframe": true, "svg": true, "button": true,
}

// Extractor fetches a page and reduces it to readable text.
type Extractor struct {
	httpClient *http.Client
}

func NewExtractor(httpClient *http.Client) *Extractor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Extractor{httpClient: httpClient}
}

// Fetch downloads the page and returns its main text. Any failure returns an
// error; the caller keeps the document with its snippet only.
func (e *Extractor) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; routewise/1.0)")
	req.Header.Set("Accept", "text/html")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return "", fmt.Errorf("fetch %s: content type %s", pageURL, ct)
	}

	root, err := html.Parse(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", pageURL, err)
	}
	text := ExtractText(root)
	if text == "" {
		return "", fmt.Errorf("no readable text at %s", pageURL)
	}
	return text, nil
}

// ExtractText flattens a parsed page to text, preferring article/main regions
// when present and skipping chrome elements.
func ExtractText(root *html.Node) string {
	if region := findRegion(root, "article"); region != nil {
		if text := collectText(region); len(text) > 200 {
			return text
		}
	}
	if region := findRegion(root, "main"); region != nil {
		if text := collectText(region); len(text) > 200 {
			return text
		}
	}
	if body := findRegion(root, "body"); body != nil {
		return collectText(body)
	}
	return collectText(root)
}

func findRegion(n *html.Node, element string) *html.Node {
	if n.Type == html.ElementNode && n.Data == element {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findRegion(c, element); found != nil {
			return found
		}
	}
	return nil
}

func collectText(root *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if b.Len() >= maxContentBytes {
			return
		}
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		// Block elements separate paragraphs.
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "li", "br", "h1", "h2", "h3", "h4", "tr":
				b.WriteString("\n")
			}
		}
	}
	walk(root)

	lines := strings.Split(b.String(), "\n")
	var out []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return truncateRunes(strings.Join(out, "\n"), maxContentBytes)
}
