package recorder

import "sync"

// Queue is an unbounded FIFO that doubles its ring when it reaches 70% full.
// Push never blocks; Pop blocks until items arrive or the queue is closed.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	count  int
	closed bool

	pushed  int64
	popped  int64
	resizes int
}

// QueueStats contains queue counters.
type QueueStats struct {
	Len     int   `json:"len"`
	Cap     int   `json:"cap"`
	Pushed  int64 `json:"pushed"`
	Popped  int64 `json:"popped"`
	Resizes int   `json:"resizes"`
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 2 {
		capacity = 2
	}
	q := &Queue[T]{ring: make([]T, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. It returns false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if (q.count+1)*10 >= len(q.ring)*7 {
		q.grow()
	}

	q.ring[(q.head+q.count)%len(q.ring)] = item
	q.count++
	q.pushed++
	q.cond.Signal()
	return true
}

// Pop removes up to max items (all when max <= 0), blocking while the queue
// is empty and open. It returns false when the queue is closed and drained.
func (q *Queue[T]) Pop(max int) ([]T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		return nil, false
	}
	return q.take(max), true
}

// TryPop is Pop without blocking.
func (q *Queue[T]) TryPop(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.take(max)
}

// Close stops accepting items and wakes blocked receivers. Items already
// queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:     q.count,
		Cap:     len(q.ring),
		Pushed:  q.pushed,
		Popped:  q.popped,
		Resizes: q.resizes,
	}
}

// take must be called with mu held.
func (q *Queue[T]) take(max int) []T {
	n := q.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	var zero T
	for i := range out {
		out[i] = q.ring[q.head]
		q.ring[q.head] = zero
		q.head = (q.head + 1) % len(q.ring)
	}
	q.count -= n
	q.popped += int64(n)
	return out
}

// grow doubles the ring, unwrapping it. Must be called with mu held.
func (q *Queue[T]) grow() {
	ring := make([]T, len(q.ring)*2)
	n := copy(ring, q.ring[q.head:])
	if n < q.count {
		copy(ring[n:], q.ring[:q.count-n])
	}
	q.ring = ring
	q.head = 0
	q.resizes++
}
