package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerClampsDeadline(t *testing.T) {
	cases := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"zero falls back to default", 0, DefaultDeadline},
		{"negative falls back to default", -5 * time.Second, DefaultDeadline},
		{"below floor clamps up", 2 * time.Second, MinDeadline},
		{"above ceiling clamps down", time.Hour, MaxDeadline},
		{"in band passes through", 45 * time.Second, 45 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NewTracker(tc.in).Deadline())
		})
	}
}

func TestTrackerRemainingClampsAtZero(t *testing.T) {
	now := time.Unix(1000, 0)
	tr := newTracker(30*time.Second, func() time.Time { return now })
	tr.Start()

	assert.Equal(t, 30*time.Second, tr.Remaining())
	assert.False(t, tr.Exhausted())

	now = now.Add(12 * time.Second)
	assert.Equal(t, 18*time.Second, tr.Remaining())

	now = now.Add(60 * time.Second)
	assert.Equal(t, time.Duration(0), tr.Remaining())
	assert.True(t, tr.Exhausted())
}

func TestTrackerStartIsIdempotent(t *testing.T) {
	now := time.Unix(1000, 0)
	tr := newTracker(30*time.Second, func() time.Time { return now })
	tr.Start()
	now = now.Add(10 * time.Second)
	tr.Start() // must not reset t0
	assert.Equal(t, 10*time.Second, tr.Elapsed())
}

func TestTrackerBeforeStart(t *testing.T) {
	tr := NewTracker(30 * time.Second)
	assert.Equal(t, time.Duration(0), tr.Elapsed())
	assert.Equal(t, 30*time.Second, tr.Remaining())
}
