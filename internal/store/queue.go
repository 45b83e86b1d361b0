package store

import (
	"sync"

	"github.com/roomsync-dev/roomsync/internal/model"
)

// UpdateQueue is a thread-safe ring of pending updates that doubles its
// capacity when it reaches 70% full. It decouples the relay broadcast
// path from database writes: rooms enqueue without ever blocking, the
// writer drains at its own pace.
type UpdateQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []model.Update
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	// Stats
	enqueued int64
	dequeued int64
	resizes  int
}

// NewUpdateQueue creates a queue with the given initial capacity.
func NewUpdateQueue(initialCapacity int) *UpdateQueue {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &UpdateQueue{
		buf:      make([]model.Update, initialCapacity),
		capacity: initialCapacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send adds an update to the queue, growing it when at 70% capacity.
// Returns false if the queue is closed.
func (q *UpdateQueue) Send(u model.Update) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.buf[q.tail] = u
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.enqueued++

	q.cond.Signal()
	return true
}

// Receive removes and returns the oldest update, blocking until one is
// available or the queue is closed. Returns false once closed and empty.
func (q *UpdateQueue) Receive() (model.Update, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.count == 0 && q.closed {
		return model.Update{}, false
	}

	return q.takeLocked(), true
}

// TryReceive removes and returns the oldest update without blocking.
func (q *UpdateQueue) TryReceive() (model.Update, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return model.Update{}, false
	}

	return q.takeLocked(), true
}

// takeLocked pops the head entry. Must be called with the lock held and
// count > 0.
func (q *UpdateQueue) takeLocked() model.Update {
	u := q.buf[q.head]
	q.buf[q.head] = model.Update{} // drop payload reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.dequeued++
	return u
}

// Close closes the queue. After closing, Send returns false. Receivers
// drain the remaining entries, then get the closed signal.
func (q *UpdateQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current number of queued updates.
func (q *UpdateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the current queue capacity.
func (q *UpdateQueue) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// Stats returns queue statistics.
func (q *UpdateQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:    q.count,
		Capacity: q.capacity,
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Resizes:  q.resizes,
	}
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Depth    int
	Capacity int
	Enqueued int64
	Dequeued int64
	Resizes  int
}

// grow doubles the queue capacity. Must be called with the lock held.
func (q *UpdateQueue) grow() {
	newCapacity := q.capacity * 2
	newBuf := make([]model.Update, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
	q.resizes++
}

// DrainTo removes up to max updates in order, or everything when max is
// zero. Useful for a final flush on shutdown.
func (q *UpdateQueue) DrainTo(max int) []model.Update {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	n := q.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]model.Update, n)
	for i := 0; i < n; i++ {
		result[i] = q.takeLocked()
	}

	return result
}
