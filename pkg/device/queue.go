package device

import "sync"

// OutputQueue is a bounded, non-blocking queue between the device and the host loop.
// When the queue is full, Send discards the oldest item, so that readers always see the
// freshest data. This mirrors the device output queues that we create with maxSize=1..2
// and blocking=false.
type OutputQueue[T any] struct {
	Name string

	lock     sync.Mutex
	items    []T
	maxSize  int
	nDropped int64
}

func NewOutputQueue[T any](name string, maxSize int) *OutputQueue[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &OutputQueue[T]{
		Name:    name,
		items:   make([]T, 0, maxSize),
		maxSize: maxSize,
	}
}

// Send adds an item, dropping the oldest one if the queue is full.
// Returns true if an item was dropped.
func (q *OutputQueue[T]) Send(item T) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	dropped := false
	if len(q.items) == q.maxSize {
		var zero T
		q.items[0] = zero
		q.items = append(q.items[:0], q.items[1:]...)
		q.nDropped++
		dropped = true
	}
	q.items = append(q.items, item)
	return dropped
}

// TryGet returns the oldest item, or false if the queue is empty
func (q *OutputQueue[T]) TryGet() (T, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = append(q.items[:0], q.items[1:]...)
	return item, true
}

// TryGetAll drains the queue, returning items oldest first
func (q *OutputQueue[T]) TryGetAll() []T {
	q.lock.Lock()
	defer q.lock.Unlock()
	all := make([]T, len(q.items))
	copy(all, q.items)
	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.items = q.items[:0]
	return all
}

func (q *OutputQueue[T]) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items)
}

// Dropped returns the number of items that were discarded because the queue was full
func (q *OutputQueue[T]) Dropped() int64 {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.nDropped
}
