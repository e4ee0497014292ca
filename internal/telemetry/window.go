package telemetry

import "sync"

// DefaultWindowSize is the number of metrics retained by a [Window].
const DefaultWindowSize = 20

// Window is a bounded sliding window of [Metric] values in strict append
// order. When full, the oldest entry is evicted first. Safe for concurrent
// use.
type Window struct {
	mu      sync.Mutex
	entries []Metric
	size    int
}

// NewWindow creates a [Window] holding at most size entries.
// A non-positive size falls back to [DefaultWindowSize].
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{
		entries: make([]Metric, 0, size),
		size:    size,
	}
}

// Append adds m as the newest entry, evicting the oldest if the window is
// already full.
func (w *Window) Append(m Metric) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) == w.size {
		copy(w.entries, w.entries[1:])
		w.entries[len(w.entries)-1] = m
		return
	}
	w.entries = append(w.entries, m)
}

// Snapshot returns a copy of the window contents in insertion order, oldest
// first. The caller may retain the slice freely.
func (w *Window) Snapshot() []Metric {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Metric, len(w.entries))
	copy(out, w.entries)
	return out
}

// Len returns the number of entries currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Clear empties the window.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = w.entries[:0]
}
