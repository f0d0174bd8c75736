package ingest

import (
	"sync"
	"time"
)

// activityTracker maintains a sliding window of ingest event timestamps so the
// health endpoint can report how much data arrived recently.
type activityTracker struct {
	mu    sync.Mutex
	times []time.Time
}

// Record records n ingest events at the current time.
func (t *activityTracker) Record(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for i := 0; i < n; i++ {
		t.times = append(t.times, now)
	}
	t.pruneLocked(now)
}

// Count returns the number of events within the given window ending at now.
func (t *activityTracker) Count(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-window)
	t.pruneLocked(now)
	n := 0
	for _, ts := range t.times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

func (t *activityTracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-30 * time.Minute)
	i := 0
	for ; i < len(t.times) && t.times[i].Before(cutoff); i++ {
	}
	if i > 0 {
		t.times = append(t.times[:0], t.times[i:]...)
	}
}
