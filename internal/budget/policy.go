package budget

import (
	"sort"
	"sync"
	"time"
)

// Stage identifies a gated step of the pipeline.
type Stage string

const (
	StagePlanner        Stage = "planner"
	StageExpansion      Stage = "expansion"
	StageRetrieval      Stage = "retrieval"
	StageContentFetch   Stage = "content_fetch"
	StageMiner          Stage = "miner"
	StageFlights        Stage = "flights"
	StageDocuments      Stage = "documents"
	StageChecklist      Stage = "checklist"
	StageBudgetEstimate Stage = "budget_estimate"
	StageConnectivity   Stage = "connectivity"
	StageSynthesis      Stage = "synthesis"
)

// Rule binds a stage to the minimum remaining budget its full behavior needs.
// Below the threshold the stage takes its documented cheap path instead.
type Rule struct {
	Stage        Stage         `yaml:"stage"`
	MinRemaining time.Duration `yaml:"min_remaining"`
}

// Policy is the single ordered table that gates every stage's degradation.
// Keeping all thresholds in one place keeps the scheduling auditable and lets
// the whole policy be tested as a unit.
type Policy struct {
	mu    sync.RWMutex
	rules map[Stage]time.Duration

	// Miner doc-cap tiers, most generous first.
	minerTiers []minerTier
}

type minerTier struct {
	minRemaining time.Duration
	docCap       int
}

// DefaultPolicy returns the built-in threshold table.
func DefaultPolicy() *Policy {
	return &Policy{
		rules: map[Stage]time.Duration{
			StagePlanner:        10 * time.Second,
			StageExpansion:      25 * time.Second,
			StageRetrieval:      8 * time.Second,
			StageContentFetch:   6 * time.Second,
			StageMiner:          5 * time.Second,
			StageFlights:        6 * time.Second,
			StageDocuments:      6 * time.Second,
			StageChecklist:      5 * time.Second,
			StageBudgetEstimate: 5 * time.Second,
			StageConnectivity:   4 * time.Second,
			StageSynthesis:      3 * time.Second,
		},
		minerTiers: []minerTier{
			{minRemaining: 20 * time.Second, docCap: 24},
			{minRemaining: 10 * time.Second, docCap: 12},
			{minRemaining: 5 * time.Second, docCap: 6},
		},
	}
}

// Allows reports whether a stage's full behavior fits the remaining budget.
// Unknown stages are allowed; only listed stages are gated.
func (p *Policy) Allows(stage Stage, remaining time.Duration) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	min, ok := p.rules[stage]
	if !ok {
		return true
	}
	return remaining >= min
}

// MinRemaining returns the threshold for a stage (zero if unlisted).
func (p *Policy) MinRemaining(stage Stage) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules[stage]
}

// MinerDocCap returns how many documents mining may consume at the given
// remaining budget. Zero means skip mining entirely.
func (p *Policy) MinerDocCap(remaining time.Duration) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, tier := range p.minerTiers {
		if remaining >= tier.minRemaining {
			return tier.docCap
		}
	}
	return 0
}

// Rules returns the table ordered by descending threshold, for logging and
// live-reload round-trips.
func (p *Policy) Rules() []Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Rule, 0, len(p.rules))
	for s, d := range p.rules {
		out = append(out, Rule{Stage: s, MinRemaining: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MinRemaining != out[j].MinRemaining {
			return out[i].MinRemaining > out[j].MinRemaining
		}
		return out[i].Stage < out[j].Stage
	})
	return out
}

// Update replaces thresholds for the listed stages. Non-positive durations
// and unknown stages are ignored so a garbled reload cannot disable gating.
func (p *Policy) Update(rules []Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range rules {
		if r.MinRemaining <= 0 {
			continue
		}
		if _, ok := p.rules[r.Stage]; !ok {
			continue
		}
		p.rules[r.Stage] = r.MinRemaining
	}
}
