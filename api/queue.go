// File: api/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded notification queue contract for cross-thread hand-off from
// the accept thread to a consumer thread.

package api

// NotifyQueue is a bounded MPSC queue. The producer never blocks:
// TryPut fails when the queue holds bound or more messages, and the
// caller decides what to do with the rejected item. FIFO order is
// guaranteed for the single consumer.
type NotifyQueue[T any] interface {
	// TryPut enqueues item unless the queue already holds bound or more
	// messages. Never blocks.
	TryPut(item T, bound int) bool

	// Get removes the oldest item. ok is false when the queue is empty.
	// Must only be called from the consumer thread.
	Get() (item T, ok bool)

	// Len returns the number of queued items.
	Len() int

	// Dispose releases the queue. Pending items are abandoned; the
	// caller drains first if it cares about them.
	Dispose()
}
