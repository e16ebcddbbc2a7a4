// Package notify delivers store events to subscribers in commit order.
package notify

import (
	"sort"
	"sync"
)

// Queue fans values out to subscribers. Values are delivered in the order
// they were enqueued, one at a time, with no lock held, so a subscriber may
// call back into the code that enqueued. The zero value is ready to use.
type Queue[T any] struct {
	mu          sync.Mutex
	listeners   map[int]func(T)
	nextID      int
	pending     []T
	dispatching bool
}

// Subscribe registers fn. The returned func removes it and is safe to call
// more than once.
func (q *Queue[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	q.mu.Lock()
	if q.listeners == nil {
		q.listeners = make(map[int]func(T))
	}
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// Enqueue records v for delivery. Callers that must order v with their own
// state change enqueue while holding their lock and Flush after releasing it.
func (q *Queue[T]) Enqueue(v T) {
	q.mu.Lock()
	q.pending = append(q.pending, v)
	q.mu.Unlock()
}

// Flush delivers pending values. If another goroutine is already delivering,
// Flush returns at once and that goroutine delivers v as well.
func (q *Queue[T]) Flush() {
	q.mu.Lock()
	if q.dispatching {
		q.mu.Unlock()
		return
	}
	q.dispatching = true
	for len(q.pending) > 0 {
		v := q.pending[0]
		q.pending = q.pending[1:]
		listeners := q.snapshotLocked()
		q.mu.Unlock()
		for _, fn := range listeners {
			fn(v)
		}
		q.mu.Lock()
	}
	q.dispatching = false
	q.mu.Unlock()
}

func (q *Queue[T]) snapshotLocked() []func(T) {
	ids := make([]int, 0, len(q.listeners))
	for id := range q.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, q.listeners[id])
	}
	return out
}
