package engine

import (
	"slices"
	"sync"
)

// DefaultHistoryCapacity is the number of patterns kept in search history.
const DefaultHistoryCapacity = 20

// SearchHistory is a bounded most-recent-first list of distinct patterns.
type SearchHistory struct {
	mu       sync.RWMutex
	entries  []string
	capacity int
}

// NewSearchHistory creates a history seeded with initial (most recent first).
// Duplicates and empty entries in initial are dropped, and it is truncated to capacity.
func NewSearchHistory(capacity int, initial []string) *SearchHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	h := &SearchHistory{capacity: capacity, entries: make([]string, 0, capacity)}
	for _, p := range initial {
		if p == "" || slices.Contains(h.entries, p) {
			continue
		}
		if len(h.entries) == capacity {
			break
		}
		h.entries = append(h.entries, p)
	}
	return h
}

// Add moves pattern to the front, removing any earlier occurrence.
func (h *SearchHistory) Add(pattern string) {
	if pattern == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if i := slices.Index(h.entries, pattern); i >= 0 {
		h.entries = slices.Delete(h.entries, i, i+1)
	}
	h.entries = slices.Insert(h.entries, 0, pattern)
	if len(h.entries) > h.capacity {
		h.entries = h.entries[:h.capacity]
	}
}

// List returns the entries, most recent first.
func (h *SearchHistory) List() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.entries)
}

// Len returns the number of entries.
func (h *SearchHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Clear removes every entry.
func (h *SearchHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = h.entries[:0]
}
