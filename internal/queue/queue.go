// Package queue implements the bounded single-producer-side,
// single-consumer handoff queue that carries commit extents from logging
// producers to the consumer worker.
//
// The spec explicitly allows a mutex-protected deque here ("in practice a
// mutex-protected deque is acceptable; a lock-free SPSC ring is
// preferred") — multiple producer goroutines contend on Push, so this is
// not a true SPSC ring like the input buffer; only the consumer side is
// single-reader.
package queue

import (
	"sync"
	"time"

	"github.com/vermosen/reckless/internal/wakeup"
)

// Extent is the tuple a producer hands to the consumer: which input
// buffer to drain, and up to what offset. A nil Buffer is the shutdown
// sentinel.
type Extent struct {
	Buffer    any
	CommitEnd uint64
}

// Queue is the bounded handoff queue described in spec.md §3/§4.4.
type Queue struct {
	mu   sync.Mutex
	cap  int
	buf  []Extent
	head int
	size int

	// nonEmpty is signaled by Push after every push attempt, successful
	// or not, and waited on by Pop.
	nonEmpty *wakeup.Event
	// consumed is signaled by Pop after a successful pop, and waited on
	// by Push's slow path — this is the same Event object producers
	// block on when their own input ring is full (internal/ring), so a
	// single consumer action unblocks both kinds of backpressure.
	consumed *wakeup.Event
}

// New creates a queue with the given fixed capacity, sharing the two
// wakeup events with the rest of the pipeline.
func New(capacity int, nonEmpty, consumed *wakeup.Event) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		cap:      capacity,
		buf:      make([]Extent, capacity),
		nonEmpty: nonEmpty,
		consumed: consumed,
	}
}

func (q *Queue) tryPush(e Extent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == q.cap {
		return false
	}
	tail := (q.head + q.size) % q.cap
	q.buf[tail] = e
	q.size++
	return true
}

func (q *Queue) tryPop() (Extent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return Extent{}, false
	}
	e := q.buf[q.head]
	q.buf[q.head] = Extent{}
	q.head = (q.head + 1) % q.cap
	q.size--
	return e, true
}

// Push enqueues ce, blocking while the queue is full. Per spec.md §4.4,
// nonEmpty is signaled "after a successful or failed push". The
// consumed generation is snapshotted *before* each tryPush attempt, not
// after it fails: capturing it afterwards would leave a gap in which a
// concurrent Pop could signal consumed and have that signal missed,
// parking this producer forever (wakeup.Event is a binary latch, not a
// level-triggered semaphore — see wakeup.Event.Gen's doc comment).
func (q *Queue) Push(ce Extent) {
	for {
		gen := q.consumed.Gen()
		if q.tryPush(ce) {
			q.nonEmpty.Signal()
			return
		}
		q.nonEmpty.Signal()
		q.consumed.WaitFrom(gen, 0)
	}
}

// Pop blocks until an extent is available, backing off exponentially
// (0 = indefinite on the first wait, doubling from 1ms up to the cap)
// while the queue stays empty. After a successful pop it signals
// consumed so any producer blocked in Push's slow path, or in the input
// ring's wait-for-drain path, can retry.
func (q *Queue) Pop(backoffCap time.Duration) Extent {
	var wait time.Duration
	for {
		gen := q.nonEmpty.Gen()
		if e, ok := q.tryPop(); ok {
			q.consumed.Signal()
			return e
		}
		q.nonEmpty.WaitFrom(gen, wait)
		if wait == 0 {
			wait = time.Millisecond
		} else {
			wait *= 2
			if wait > backoffCap {
				wait = backoffCap
			}
		}
	}
}

// Len reports the number of extents currently queued, for diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap reports the queue's fixed capacity.
func (q *Queue) Cap() int {
	return q.cap
}
