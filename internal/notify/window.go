// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package notify

import (
	"sync"
	"time"
)

// ProcessedWindow remembers event ids that were already turned into
// notifications. It is a bounded FIFO set: once the cap is reached the
// oldest remembered id is forgotten. The check-and-insert is a single
// operation under one lock so two interleaved batches carrying the same
// id can never both claim it.
type ProcessedWindow struct {
	mu    sync.Mutex
	cap   int
	order []int64
	set   map[int64]struct{}
}

// NewProcessedWindow creates a window remembering up to cap ids.
func NewProcessedWindow(cap int) *ProcessedWindow {
	if cap <= 0 {
		cap = 200
	}
	return &ProcessedWindow{
		cap: cap,
		set: make(map[int64]struct{}, cap),
	}
}

// Claim marks an id as processed. It returns false when the id was
// already claimed.
func (w *ProcessedWindow) Claim(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, seen := w.set[id]; seen {
		return false
	}

	w.set[id] = struct{}{}
	w.order = append(w.order, id)

	for len(w.order) > w.cap {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.set, oldest)
	}
	return true
}

// Contains reports whether an id is currently remembered.
func (w *ProcessedWindow) Contains(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, seen := w.set[id]
	return seen
}

// Len returns the number of remembered ids.
func (w *ProcessedWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}

// dupKey identifies near-duplicate notifications.
type dupKey struct {
	title     string
	deviceID  int64
	eventType string
}

// recencyIndex tracks when a (title, deviceId, eventType) combination
// last produced a notification, replacing a linear scan over stored
// history. Stale entries are pruned opportunistically on insert.
type recencyIndex struct {
	mu     sync.Mutex
	window time.Duration
	last   map[dupKey]time.Time
}

func newRecencyIndex(window time.Duration) *recencyIndex {
	return &recencyIndex{
		window: window,
		last:   make(map[dupKey]time.Time),
	}
}

// seenWithin reports whether the key produced a notification within the
// dedup window ending at now.
func (r *recencyIndex) seenWithin(key dupKey, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.last[key]
	if !ok {
		return false
	}
	return now.Sub(last) < r.window
}

// record stamps the key with the given time and prunes expired entries.
func (r *recencyIndex) record(key dupKey, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last[key] = now
	for k, t := range r.last {
		if now.Sub(t) >= r.window {
			delete(r.last, k)
		}
	}
}
