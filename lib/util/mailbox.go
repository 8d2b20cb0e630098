// Package util provides an unbounded Multi-Producer Single-Consumer (MPSC) mailbox.
//
// The mailbox is the inbox of a document actor: any goroutine (client handlers,
// timer callbacks, flush completions) may Push operations, exactly one goroutine
// consumes them through Recv().
//
// Features and Guarantees:
//
//   - Lock-Free writes: producers append with atomic CAS on a linked list
//   - Unbounded Size: Push never blocks, so a timer or a client handler can never stall on a busy document
//   - Pending accounting: Pending() counts values that were pushed but not yet acknowledged with Done()
//   - Single Consumer: values are handed out in link order through the Recv() channel
//   - Order: values pushed by one goroutine are received in push order. Across goroutines the
//     order is the order in which the pushes were linked, which is the arrival order of the mailbox.
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the mailbox
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// Mailbox is an unbounded multi-producer single-consumer queue.
// A background goroutine moves values from the linked list to the Recv() channel.
type Mailbox[T any] struct {
	head    atomic.Pointer[node[T]]
	tail    atomic.Pointer[node[T]]
	out     chan *T
	closed  atomic.Bool
	pending atomic.Int64

	// Condition variable used by the forwarding goroutine to sleep while empty
	mu   sync.Mutex
	cond *sync.Cond
}

// NewMailbox creates a new mailbox and starts its forwarding goroutine.
func NewMailbox[T any]() *Mailbox[T] {
	// sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &Mailbox[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.forward()

	return q
}

// Push appends a value to the mailbox.
// Returns false if the value is nil or the mailbox is closed. A Push racing
// with Close may be dropped, callers that need a guarantee must serialize both
// (the coordinator does this per document key).
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *Mailbox[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	q.pending.Add(1)
	newNode := &node[T]{value: value}

	var spins uint8
	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// may fail if another producer already helped, the tail still moves forward
				q.tail.CompareAndSwap(tailNode, newNode)

				// signal under the lock, otherwise the wakeup can slip between the
				// consumer's emptiness check and its Wait
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// another producer linked a node but did not swing the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// back off under contention
		if spins < 8 {
			spins++
		}
		for i := 0; i < 1<<spins; i++ {
			runtime.Gosched()
		}
	}
}

// forward moves values from the linked list to the out channel
func (q *Mailbox[T]) forward() {
	defer close(q.out)

	for {
		head := q.head.Load()
		next := head.next.Load()

		if next != nil {
			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil // help gc
			continue
		}

		if q.closed.Load() {
			return
		}

		q.mu.Lock()
		// double-check after acquiring the lock
		if q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// Recv returns the receive-only channel of the consumer.
// The channel is closed after Close once all pushed values were received.
func (q *Mailbox[T]) Recv() <-chan *T {
	return q.out
}

// Done acknowledges that one received value was fully processed.
func (q *Mailbox[T]) Done() {
	q.pending.Add(-1)
}

// Pending returns the number of pushed values that were not yet acknowledged with Done.
func (q *Mailbox[T]) Pending() int64 {
	return q.pending.Load()
}

// Close prevents further pushes. Values already pushed are still delivered.
func (q *Mailbox[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed returns true if the mailbox is closed.
func (q *Mailbox[T]) IsClosed() bool {
	return q.closed.Load()
}
