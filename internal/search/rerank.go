package search

import (
	"net/url"
	"sort"
	"strings"

	"github.com/routewise-ai/routewise/internal/config"
)

// Reranking prefers first-hand trouble reports over listicles and booking
// pages: the planner already knows the sights, what it needs from the web is
// what goes wrong.

var firsthandDomains = []string{
	"reddit.com", "quora.com", "tripadvisor.", "indiamike.com",
	"stackexchange.com", "lonelyplanet.com/thorntree",
}

var officialDomains = []string{
	".gov", ".gov.in", ".nic.in", "irctc.co.in", "embassy",
	"travel.state.gov", "gov.uk",
}

var commercialDomains = []string{
	"makemytrip.com", "booking.com", "agoda.com", "expedia.",
	"goibibo.com", "cleartrip.com", "yatra.com", "klook.com",
	"viator.com", "getyourguide.",
}

var safetyTerms = []string{
	"scam", "warning", "avoid", "unsafe", "danger", "robbed", "cheated",
	"touts", "overcharg", "pickpocket", "closed", "strike", "delay",
}

// Score rates one document under the given weights.
func Score(doc Document, w config.RerankWeights) float64 {
	host := hostOf(doc.URL)
	text := strings.ToLower(doc.Title + " " + doc.Snippet)

	var score float64
	if matchesAny(host, firsthandDomains) {
		score += w.Firsthand
	}
	if matchesAny(host, officialDomains) {
		score += w.Official
	}
	if matchesAny(host, commercialDomains) {
		score += w.Commercial
	}

	hits := 0
	for _, term := range safetyTerms {
		if strings.Contains(text, term) {
			hits++
		}
	}
	if hits > 3 {
		hits = 3
	}
	score += float64(hits) * w.SafetyTerm

	return score
}

// Rerank orders documents by descending score. The sort is stable: among
// equal scores, provider order (and therefore search relevance) is preserved.
func Rerank(docs []Document, w config.RerankWeights) {
	type scored struct {
		doc   Document
		score float64
	}
	rows := make([]scored, len(docs))
	for i, d := range docs {
		rows[i] = scored{doc: d, score: Score(d, w)}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].score > rows[j].score
	})
	for i, r := range rows {
		docs[i] = r.doc
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

func matchesAny(host string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(host, p) {
			return true
		}
	}
	return false
}
