package budget

import (
	"time"
)

// Deadline clamp band. Values outside the band are operator misconfiguration,
// not a reason to fail a run.
const (
	MinDeadline     = 10 * time.Second
	MaxDeadline     = 300 * time.Second
	DefaultDeadline = 60 * time.Second
)

// Tracker measures elapsed wall-clock time against a fixed deadline for one
// pipeline run. It is a pure clock query: created at pipeline start, consulted
// by every stage, discarded at pipeline end. Never reset mid-run.
type Tracker struct {
	deadline time.Duration
	start    time.Time
	now      func() time.Time
}

// NewTracker creates a tracker with the deadline clamped into the sane band.
// A non-positive deadline falls back to the default.
func NewTracker(deadline time.Duration) *Tracker {
	return newTracker(deadline, time.Now)
}

func newTracker(deadline time.Duration, now func() time.Time) *Tracker {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if deadline < MinDeadline {
		deadline = MinDeadline
	}
	if deadline > MaxDeadline {
		deadline = MaxDeadline
	}
	return &Tracker{deadline: deadline, now: now}
}

// Start records t0. Calling Start again is a no-op; the first reading wins.
func (t *Tracker) Start() {
	if t.start.IsZero() {
		t.start = t.now()
	}
}

// Deadline returns the clamped total allowance.
func (t *Tracker) Deadline() time.Duration {
	return t.deadline
}

// Elapsed returns time since Start. Zero before Start.
func (t *Tracker) Elapsed() time.Duration {
	if t.start.IsZero() {
		return 0
	}
	return t.now().Sub(t.start)
}

// Remaining returns deadline minus elapsed, clamped at zero.
func (t *Tracker) Remaining() time.Duration {
	r := t.deadline - t.Elapsed()
	if r < 0 {
		return 0
	}
	return r
}

// Exhausted reports whether no budget remains.
func (t *Tracker) Exhausted() bool {
	return t.Remaining() <= 0
}
