package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/budget"
	"github.com/routewise-ai/routewise/internal/llm"
	"github.com/routewise-ai/routewise/internal/metrics"
	"github.com/routewise-ai/routewise/internal/trip"
)

// Section is one capability's contribution to the final answer.
type Section struct {
	Capability string
	Title      string
	Markdown   string
}

// Completer is the slice of the completion client the gate needs.
type Completer interface {
	Complete(ctx context.Context, op string, req llm.Request, timeout time.Duration) (string, error)
}

// Gate runs the specialized capabilities that are both warranted by the query
// and affordable under the remaining budget. A capability that fails emits
// its static fallback; the gate itself never fails the pipeline.
type Gate struct {
	completer Completer
	logger    *zap.Logger
}

func New(completer Completer, logger *zap.Logger) *Gate {
	return &Gate{completer: completer, logger: logger}
}

type capability struct {
	name      string
	stage     budget.Stage
	title     string
	warranted func(q string, d trip.Details) bool
	prompt    func(q string, d trip.Details) string
	fallback  func(d trip.Details) string
}

// Ordered as sections appear in the answer.
var capabilities = []capability{
	{
		name:      "flights",
		stage:     budget.StageFlights,
		title:     "Getting There",
		warranted: flightsWarranted,
		prompt:    flightsPrompt,
		fallback:  flightsFallback,
	},
	{
		name:      "documents",
		stage:     budget.StageDocuments,
		title:     "Documents & Visa",
		warranted: documentsWarranted,
		prompt:    documentsPrompt,
		fallback:  documentsFallback,
	},
	{
		name:      "checklist",
		stage:     budget.StageChecklist,
		title:     "Packing & Prep Checklist",
		warranted: func(string, trip.Details) bool { return true },
		prompt:    checklistPrompt,
		fallback:  checklistFallback,
	},
	{
		name:      "budget_estimate",
		stage:     budget.StageBudgetEstimate,
		title:     "Budget Estimate",
		warranted: budgetWarranted,
		prompt:    budgetPrompt,
		fallback:  budgetFallback,
	},
	{
		name:      "connectivity",
		stage:     budget.StageConnectivity,
		title:     "Staying Connected",
		warranted: connectivityWarranted,
		prompt:    connectivityPrompt,
		fallback:  connectivityFallback,
	},
}

// Run evaluates each capability in order. allow gates on remaining budget;
// callBudget bounds each model call.
func (g *Gate) Run(ctx context.Context, query string, details trip.Details,
	allow func(budget.Stage) bool, callBudget func() time.Duration) []Section {

	var sections []Section
	for _, c := range capabilities {
		if !c.warranted(query, details) {
			continue
		}
		if !allow(c.stage) {
			metrics.StageOutcomes.WithLabelValues(string(c.stage), "skipped").Inc()
			g.logger.Info("Capability skipped on budget", zap.String("capability", c.name))
			continue
		}

		text, err := g.completer.Complete(ctx, c.name, llm.Request{
			Messages: []llm.Message{{Role: "user", Content: c.prompt(query, details)}},
		}, callBudget())
		if err != nil || strings.TrimSpace(text) == "" {
			metrics.StageOutcomes.WithLabelValues(string(c.stage), "fallback").Inc()
			g.logger.Warn("Capability degraded to static guidance",
				zap.String("capability", c.name), zap.Error(err))
			text = c.fallback(details)
		} else {
			metrics.StageOutcomes.WithLabelValues(string(c.stage), "full").Inc()
		}
		sections = append(sections, Section{
			Capability: c.name,
			Title:      c.title,
			Markdown:   strings.TrimSpace(text),
		})
	}
	return sections
}

func containsAny(q string, terms ...string) bool {
	q = strings.ToLower(q)
	for _, t := range terms {
		if strings.Contains(q, t) {
			return true
		}
	}
	return false
}

func routeLabel(d trip.Details) string {
	switch {
	case d.Origin != "" && d.Destination != "":
		return d.Origin + " to " + d.Destination
	case d.Destination != "":
		return d.Destination
	default:
		return "the destination"
	}
}

func flightsWarranted(q string, d trip.Details) bool {
	return (d.Origin != "" && d.Destination != "") ||
		containsAny(q, "flight", "fly", "airport", "airline")
}

func flightsPrompt(q string, d trip.Details) string {
	return fmt.Sprintf(`Give practical flight and intercity transport guidance for %s.
Cover: typical fare bands, when to book, airport-to-city transfer costs and
traps, and whether train or bus beats flying for this route. Markdown bullets,
no preamble. Traveler request: %s`, routeLabel(d), q)
}

func flightsFallback(d trip.Details) string {
	if d.Scope == trip.ScopeDomestic {
		return `- Book domestic flights 3-6 weeks out; fares spike inside 10 days.
- Compare with trains: overnight AC classes often beat flying door-to-door on sub-800 km routes.
- Prepaid taxi or metro from the airport; ignore touts quoting flat rates at arrivals.
- Morning departures suffer fewer cascading delays.`
	}
	return `- Book international flights 2-4 months out; fares rise steeply in the final month.
- Check baggage rules on low-cost carriers; fees can erase the fare difference.
- Keep a 3+ hour buffer on self-transfer connections.
- Verify transit-visa rules for any layover country before booking.`
}

func documentsWarranted(q string, d trip.Details) bool {
	return d.Scope == trip.ScopeInternational ||
		containsAny(q, "visa", "passport", "documents", "permit")
}

func documentsPrompt(q string, d trip.Details) string {
	return fmt.Sprintf(`List the documents a traveler needs for %s: visa type and
processing time, passport validity rules, onward-ticket and funds-proof
requirements, and any permits. Markdown bullets, no preamble. Traveler
request: %s`, routeLabel(d), q)
}

func documentsFallback(d trip.Details) string {
	if d.Scope == trip.ScopeDomestic {
		return `- Carry a government photo ID (required for flights, trains, and most hotels).
- Some regions require entry permits for non-residents; check before booking remote areas.
- Keep digital copies of ID and bookings reachable offline.`
	}
	return `- Check visa requirements for your passport well ahead; e-visas can still take days.
- Passport must typically be valid 6 months beyond entry and have blank pages.
- Airlines may ask for onward tickets and proof of funds at check-in.
- Carry printed and offline copies of visa approvals and bookings.`
}

func checklistPrompt(q string, d trip.Details) string {
	return fmt.Sprintf(`Write a packing and preparation checklist for %s, adapted to
season and trip length. Group by: before you book, week before, day of
travel, what to pack. Markdown bullets, no preamble. Traveler request: %s`,
		routeLabel(d), q)
}

func checklistFallback(d trip.Details) string {
	return `- Photocopy/photograph ID, tickets, and bookings; store offline.
- Carry a mix of cash and cards; small notes for local transport.
- Pack basic medicines, sunscreen, and a reusable water bottle.
- Download offline maps and translation for the destination.
- Share your itinerary with someone at home.`
}

func budgetWarranted(q string, d trip.Details) bool {
	return d.BudgetINR > 0 ||
		containsAny(q, "budget", "cost", "cheap", "expensive", "price", "₹")
}

func budgetPrompt(q string, d trip.Details) string {
	b := ""
	if d.BudgetINR > 0 {
		b = fmt.Sprintf(" The traveler's stated budget is ₹%d.", d.BudgetINR)
	}
	return fmt.Sprintf(`Break down a realistic daily budget for %s: accommodation
tiers, food, local transport, entry tickets, and a contingency line.%s
Markdown table or bullets, amounts in INR, no preamble. Traveler request: %s`,
		routeLabel(d), b, q)
}

func budgetFallback(d trip.Details) string {
	if d.Scope == trip.ScopeDomestic {
		return `- Budget tier: ₹1,500-2,500/day (hostel or budget hotel, local food, buses).
- Mid-range: ₹3,500-6,000/day (3-star hotel, mix of restaurants, autos/cabs).
- Add 10-15% contingency for entry tickets and surge pricing.
- Book trains early; last-minute Tatkal fares and flights inflate costs fast.`
	}
	return `- Expect flights and visa fees to dominate; price them before fixing dates.
- Daily costs vary widely by country; research accommodation and food tiers locally.
- Keep a 15-20% contingency for currency swings and airport transfers.
- Notify your bank of travel and check foreign transaction fees.`
}

func connectivityWarranted(q string, d trip.Details) bool {
	return d.Scope == trip.ScopeInternational ||
		containsAny(q, "sim", "esim", "internet", "wifi", "roaming", "network")
}

func connectivityPrompt(q string, d trip.Details) string {
	return fmt.Sprintf(`Explain how to stay connected in %s: local SIM vs eSIM vs
roaming with rough prices, where to buy, ID requirements, and coverage gaps.
Markdown bullets, no preamble. Traveler request: %s`, routeLabel(d), q)
}

func connectivityFallback(d trip.Details) string {
	if d.Scope == trip.ScopeDomestic {
		return `- Your home SIM works nationwide; coverage thins in mountains and remote areas.
- Download offline maps for hill and desert stretches.
- Hotel wifi is unreliable outside cities; hotspot from your phone.`
	}
	return `- An eSIM bought before departure is the least hassle; activate on landing.
- Airport SIM counters charge a premium; city shops are cheaper but need ID.
- Check your bank's OTP delivery works over wifi-calling before you leave.
- Download offline maps and key documents before the trip.`
}
