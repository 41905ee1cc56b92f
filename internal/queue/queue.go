package queue

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Queue is a thread-safe FIFO. When built with a key function it accepts each
// key only once until Reset, even after the item has been dequeued.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	key   func(T) string
	seen  mapset.Set[string]
}

// New creates a plain FIFO without de-duplication.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// NewKeyed creates a FIFO that ignores items whose key was already enqueued.
func NewKeyed[T any](key func(T) string) *Queue[T] {
	return &Queue[T]{
		key:  key,
		seen: mapset.NewThreadUnsafeSet[string](),
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueue appends value and reports whether it was accepted.
func (q *Queue[T]) Enqueue(value T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.key != nil && !q.seen.Add(q.key(value)) {
		return false
	}
	q.items = append(q.items, value)
	return true
}

// Dequeue removes and returns the oldest item.
func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// RemoveFirst removes and returns the oldest item matching pred.
func (q *Queue[T]) RemoveFirst(pred func(T) bool) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if pred(item) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Items returns a snapshot of the queued items in order.
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Reset drops all items and forgets every seen key.
func (q *Queue[T]) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	if q.seen != nil {
		q.seen.Clear()
	}
}
