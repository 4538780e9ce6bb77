package search

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// Document is one retrieved search result. Content stays empty until the
// aggregator decides the document is worth a full page fetch.
type Document struct {
	Source  string `json:"source"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
}

// Provider runs one web search query.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Document, error)
}

// ErrQueryTooLong signals the provider rejected the query for length. The
// caller compresses and retries rather than dropping the query.
var ErrQueryTooLong = errors.New("query too long for provider")

// maxQueryLen is the compression target, conservative across providers.
const maxQueryLen = 140

// CompressQuery shortens a query for a retry after ErrQueryTooLong: collapse
// whitespace, then drop trailing words, then hard-truncate as a last resort.
func CompressQuery(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) <= maxQueryLen {
		return q
	}
	words := strings.Fields(q)
	for len(words) > 1 {
		words = words[:len(words)-1]
		if candidate := strings.Join(words, " "); len(candidate) <= maxQueryLen {
			return candidate
		}
	}
	return truncateRunes(q, maxQueryLen)
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
