package trip

import (
	"regexp"
	"strconv"
	"strings"
)

// Scope classifies a trip for capability selection: domestic trips skip visa
// guidance and get train-heavy transport advice.
type Scope string

const (
	ScopeDomestic      Scope = "domestic"
	ScopeInternational Scope = "international"
)

// Details holds what could be parsed out of a free-text travel query. Zero
// values mean the query did not say.
type Details struct {
	Origin      string
	Destination string
	Days        int
	BudgetINR   int
	Scope       Scope
}

// indianPlaces is the recognition set for scope classification. Lowercase.
// Deliberately small: an unrecognized pair defaults to international, which
// only costs an extra (harmless) visa section in the answer.
var indianPlaces = map[string]bool{
	"agra": true, "ahmedabad": true, "amritsar": true, "bangalore": true,
	"bengaluru": true, "bhopal": true, "chandigarh": true, "chennai": true,
	"coorg": true, "darjeeling": true, "delhi": true, "gangtok": true,
	"goa": true, "hampi": true, "hyderabad": true, "jaipur": true,
	"jaisalmer": true, "jodhpur": true, "kashmir": true, "kerala": true,
	"kochi": true, "kolkata": true, "ladakh": true, "leh": true,
	"lucknow": true, "manali": true, "mumbai": true, "munnar": true,
	"mysore": true, "new delhi": true, "ooty": true, "pondicherry": true,
	"pune": true, "pushkar": true, "rishikesh": true, "shillong": true,
	"shimla": true, "srinagar": true, "udaipur": true, "varanasi": true,
	"varkala": true,
}

var (
	// Places are one or two words; longer spans are prose, not place names.
	routeRe  = regexp.MustCompile(`(?i)\b(?:from\s+)?([a-z][a-z'-]*(?:\s+[a-z][a-z'-]*)?)\s+to\s+([a-z][a-z'-]*(?:\s+[a-z][a-z'-]*)?)(?:\s+(?:for|in|on|with|by|this|next|during|and)\b|[,.?!]|\s*$)`)
	daysRe   = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:-?\s*days?|nights?|d)\b`)
	budgetRe = regexp.MustCompile(`(?i)(?:₹|rs\.?|inr)\s*([\d,]+)\s*(k)?|(?:budget\s+(?:of\s+)?)([\d,]+)\s*(k)?`)
)

// stopwords that the route regex can mistake for places.
var notPlaces = map[string]bool{
	"trip": true, "travel": true, "going": true, "go": true, "flight": true,
	"flights": true, "train": true, "want": true, "plan": true, "how": true,
}

// Parse extracts route, duration, and budget hints from a query.
func Parse(query string) Details {
	d := Details{}

	if m := routeRe.FindStringSubmatch(query); m != nil {
		origin := cleanPlace(m[1])
		dest := cleanPlace(m[2])
		if origin != "" && dest != "" {
			d.Origin = origin
			d.Destination = dest
		}
	}

	if m := daysRe.FindStringSubmatch(query); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			d.Days = n
		}
	}

	if m := budgetRe.FindStringSubmatch(query); m != nil {
		digits, kilo := m[1], m[2]
		if digits == "" {
			digits, kilo = m[3], m[4]
		}
		digits = strings.ReplaceAll(digits, ",", "")
		if n, err := strconv.Atoi(digits); err == nil && n > 0 {
			if kilo != "" {
				n *= 1000
			}
			d.BudgetINR = n
		}
	}

	d.Scope = Classify(query, d.Origin, d.Destination)
	return d
}

func cleanPlace(s string) string {
	words := strings.Fields(strings.TrimSpace(s))
	for len(words) > 0 && notPlaces[strings.ToLower(words[0])] {
		words = words[1:]
	}
	if len(words) == 0 {
		return ""
	}
	s = strings.Join(words, " ")
	if notPlaces[strings.ToLower(s)] {
		return ""
	}
	return titleCase(s)
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Classify decides trip scope. Domestic requires positive evidence: both
// endpoints recognized as Indian places, or the query saying so outright.
func Classify(query, origin, destination string) Scope {
	q := strings.ToLower(query)
	if strings.Contains(q, "domestic") || strings.Contains(q, "within india") {
		return ScopeDomestic
	}
	if origin != "" && destination != "" &&
		indianPlaces[strings.ToLower(origin)] && indianPlaces[strings.ToLower(destination)] {
		return ScopeDomestic
	}
	return ScopeInternational
}
