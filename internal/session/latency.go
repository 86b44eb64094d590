package session

import (
	"sync"
	"time"
)

// latencyWindow keeps a fixed number of recent round-trip samples and evicts
// the oldest when full.
type latencyWindow struct {
	mu       sync.Mutex
	samples  []time.Duration
	capacity int
	next     int
	filled   bool
}

func newLatencyWindow(capacity int) *latencyWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &latencyWindow{samples: make([]time.Duration, capacity), capacity: capacity}
}

// Add records one sample, displacing the oldest once the window is full.
func (w *latencyWindow) Add(sample time.Duration) {
	if w == nil || sample < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = sample
	w.next = (w.next + 1) % w.capacity
	if w.next == 0 {
		w.filled = true
	}
}

// Average returns the mean of the retained samples, zero when empty.
func (w *latencyWindow) Average() time.Duration {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	count := w.count()
	if count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < count; i++ {
		total += w.samples[i]
	}
	return total / time.Duration(count)
}

// Last returns the most recent sample, zero when empty.
func (w *latencyWindow) Last() time.Duration {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count() == 0 {
		return 0
	}
	idx := (w.next - 1 + w.capacity) % w.capacity
	return w.samples[idx]
}

// Count returns how many samples the window currently holds.
func (w *latencyWindow) Count() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count()
}

// Reset discards all samples, used when a new connection is established.
func (w *latencyWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = 0
	w.filled = false
}

func (w *latencyWindow) count() int {
	if w.filled {
		return w.capacity
	}
	return w.next
}
