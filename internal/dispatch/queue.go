// Package dispatch marshals socket-thread callbacks onto the single-threaded
// game tick. Receive loops enqueue closures; exactly one consumer drains them,
// so every mutation of session, room, and synchronizer state happens on the
// consumer goroutine.
package dispatch

import "sync"

// Queue is a mutex-guarded FIFO of pending closures.
type Queue struct {
	mu    sync.Mutex
	items []func()
}

// NewQueue constructs an empty dispatch queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a closure for later execution on the consumer goroutine.
// Safe to call from any goroutine. Nil closures are ignored.
func (q *Queue) Enqueue(fn func()) {
	if q == nil || fn == nil {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
}

// Drain executes at most max queued closures on the caller's goroutine and
// returns how many ran. Leftover items stay queued for the next drain so a
// network burst cannot produce an unbounded frame-time spike. A non-positive
// max drains everything currently queued.
func (q *Queue) Drain(max int) int {
	if q == nil {
		return 0
	}

	//1.- Detach the batch under the lock so closures run without holding it.
	q.mu.Lock()
	count := len(q.items)
	if max > 0 && count > max {
		count = max
	}
	batch := q.items[:count]
	rest := q.items[count:]
	if len(rest) == 0 {
		q.items = nil
	} else {
		q.items = append(make([]func(), 0, len(rest)), rest...)
	}
	q.mu.Unlock()

	//2.- Run the batch in enqueue order; closures may enqueue follow-up work.
	for _, fn := range batch {
		fn()
	}
	return count
}

// Len reports how many closures are currently queued.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
