package filter

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DedupeFilter suppresses repeated message IDs. Transports may deliver the same
// message more than once (for example one filesystem event per write), and the
// messenger promises at most once.
type DedupeFilter struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration // how long an ID is remembered
	seen   map[string]*dedupeEntry
}

type dedupeEntry struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// NewDedupeFilter creates a filter remembering IDs for window.
func NewDedupeFilter(clk clock.Clock, window time.Duration) *DedupeFilter {
	if clk == nil {
		clk = clock.New()
	}
	return &DedupeFilter{
		clock:  clk,
		window: window,
		seen:   make(map[string]*dedupeEntry),
	}
}

// DedupeResult holds the result of a dedupe check
type DedupeResult struct {
	Deliver   bool      // first sighting within the window
	Count     int       // Number of times the ID was seen (1 = first occurrence)
	FirstSeen time.Time // First occurrence
	LastSeen  time.Time // Latest occurrence
}

// Check records key and reports whether it is new within the window. Empty
// keys are never suppressed.
func (f *DedupeFilter) Check(key string) DedupeResult {
	now := f.clock.Now()
	if key == "" {
		return DedupeResult{Deliver: true, Count: 1, FirstSeen: now, LastSeen: now}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.cleanOldEntries(now)

	if existing, ok := f.seen[key]; ok {
		existing.count++
		existing.lastSeen = now
		return DedupeResult{
			Deliver:   false,
			Count:     existing.count,
			FirstSeen: existing.firstSeen,
			LastSeen:  existing.lastSeen,
		}
	}

	f.seen[key] = &dedupeEntry{count: 1, firstSeen: now, lastSeen: now}
	return DedupeResult{Deliver: true, Count: 1, FirstSeen: now, LastSeen: now}
}

// Duplicates returns how often each key was suppressed, for diagnostics.
func (f *DedupeFilter) Duplicates() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make(map[string]int)
	for key, entry := range f.seen {
		if entry.count > 1 {
			result[key] = entry.count - 1
		}
	}
	return result
}

// Reset clears the deduplication state
func (f *DedupeFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = make(map[string]*dedupeEntry)
}

// cleanOldEntries removes entries first seen outside the window
func (f *DedupeFilter) cleanOldEntries(now time.Time) {
	if f.window <= 0 {
		return
	}
	cutoff := now.Add(-f.window)
	for key, entry := range f.seen {
		if entry.firstSeen.Before(cutoff) {
			delete(f.seen, key)
		}
	}
}
