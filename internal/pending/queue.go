// Package pending implements the classification queue shared between the
// FUSE release path and the classifier worker.
package pending

import "sync"

// Queue is a FIFO of filenames plus a dedup set covering everything
// queued or in flight. Enqueue is idempotent; Drain empties the FIFO but
// keeps the dedup entries until the batch settles via Forget.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []string
	queued map[string]struct{}
	closed bool
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{
		queued: make(map[string]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a name unless it is already queued or in flight.
// Returns true if the name was added.
func (q *Queue) Enqueue(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, ok := q.queued[name]; ok {
		return false
	}
	q.items = append(q.items, name)
	q.queued[name] = struct{}{}
	q.cond.Signal()
	return true
}

// Wait blocks until the queue is non-empty or closed. Returns false only
// when the queue is closed and empty.
func (q *Queue) Wait() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	return len(q.items) > 0
}

// Drain atomically removes and returns all queued names. The dedup
// entries remain until Forget so concurrent re-releases cannot double
// enqueue an in-flight name.
func (q *Queue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := q.items
	q.items = nil
	return batch
}

// Forget drops names from the dedup set once their batch has settled.
func (q *Queue) Forget(names ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, name := range names {
		delete(q.queued, name)
	}
}

// Discard removes a not-yet-drained name entirely (unlink support).
// In-flight names are left to settle through Forget.
func (q *Queue) Discard(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item == name {
			q.items = append(q.items[:i], q.items[i+1:]...)
			delete(q.queued, name)
			return
		}
	}
}

// Len returns the number of queued names.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all waiters and rejects further enqueues.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
