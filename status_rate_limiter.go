package main

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// datasetLimiterMaxEntries caps how many clients are tracked at once.
const datasetLimiterMaxEntries = 4096

// datasetRateLimiter bounds how many uncached dataset views one client may
// request per window. A nil limiter allows everything.
type datasetRateLimiter struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	entries map[string]*datasetLimitEntry
	max     int
	window  time.Duration
}

type datasetLimitEntry struct {
	count int
	reset time.Time
}

func newDatasetRateLimiter(max int, window time.Duration, clock clockwork.Clock) *datasetRateLimiter {
	if max <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &datasetRateLimiter{
		clock:   clock,
		entries: make(map[string]*datasetLimitEntry),
		max:     max,
		window:  window,
	}
}

// cleanupLocked drops clients that have been quiet for a full extra window
// and trims arbitrary entries past the cap. l.mu must be held.
func (l *datasetRateLimiter) cleanupLocked(now time.Time) {
	for k, entry := range l.entries {
		if now.After(entry.reset.Add(l.window)) {
			delete(l.entries, k)
		}
	}
	excess := len(l.entries) - datasetLimiterMaxEntries
	for k := range l.entries {
		if excess <= 0 {
			break
		}
		delete(l.entries, k)
		excess--
	}
}

func (l *datasetRateLimiter) allow(key string) bool {
	if l == nil {
		return true
	}
	if key == "" {
		key = "unknown"
	}
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanupLocked(now)

	entry, ok := l.entries[key]
	if !ok || now.After(entry.reset) {
		entry = &datasetLimitEntry{reset: now.Add(l.window)}
		l.entries[key] = entry
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	return true
}
