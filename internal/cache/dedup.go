// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

// Package cache provides bounded in-memory structures used for event
// deduplication.
package cache

import "sync"

// DedupWindow remembers the most recent capacity keys in insertion order.
// When full, the oldest key is forgotten. Seeing a key again does not refresh
// its position.
//
// All operations are O(1) and safe for concurrent use.
type DedupWindow struct {
	mu sync.Mutex

	capacity int
	ring     []string
	next     int
	size     int
	keys     map[string]struct{}

	hits   int64
	misses int64
}

// NewDedupWindow returns a window holding up to capacity keys. A non-positive
// capacity falls back to 1000.
func NewDedupWindow(capacity int) *DedupWindow {
	if capacity <= 0 {
		capacity = 1000
	}
	return &DedupWindow{
		capacity: capacity,
		ring:     make([]string, capacity),
		keys:     make(map[string]struct{}, capacity),
	}
}

// IsDuplicate reports whether key is in the window. If it is not, key is
// recorded, evicting the oldest key when the window is full.
func (w *DedupWindow) IsDuplicate(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.keys[key]; ok {
		w.hits++
		return true
	}

	if w.size == w.capacity {
		delete(w.keys, w.ring[w.next])
	} else {
		w.size++
	}
	w.ring[w.next] = key
	w.keys[key] = struct{}{}
	w.next = (w.next + 1) % w.capacity
	w.misses++
	return false
}

// Contains reports whether key is in the window without recording it.
func (w *DedupWindow) Contains(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.keys[key]
	return ok
}

// Len returns the number of keys held.
func (w *DedupWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Reset forgets every key.
func (w *DedupWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys = make(map[string]struct{}, w.capacity)
	for i := range w.ring {
		w.ring[i] = ""
	}
	w.next, w.size = 0, 0
}

// Stats returns duplicate hits and first-seen misses.
func (w *DedupWindow) Stats() (hits, misses int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hits, w.misses
}
