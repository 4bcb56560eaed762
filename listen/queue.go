// File: listen/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded notification queue backed by a lock-free ring buffer.

package listen

import (
	"net"
	"syscall"
	"time"

	gods "github.com/Workiva/go-datastructures/queue"

	"github.com/momentics/hioload-listen/api"
)

// queueMsg is a message on a consumer's notification queue.
type queueMsg interface {
	isQueueMsg()
}

// newConnMsg carries one accepted descriptor to a consumer loop.
type newConnMsg struct {
	fd         int
	peer       net.Addr
	acceptTime time.Time
	// deadline is zero when no queue timeout is configured; otherwise a
	// message still queued past it is discarded on dequeue.
	deadline time.Time
}

// errorMsg carries an asynchronous accept failure to a consumer loop.
type errorMsg struct {
	msg   string
	errno syscall.Errno
}

func (*newConnMsg) isQueueMsg() {}
func (*errorMsg) isQueueMsg()   {}

// notifyQueue adapts a Workiva ring buffer to api.NotifyQueue. The
// ring itself is MPMC-safe; this library uses it single-producer
// (listener loop) single-consumer (acceptor loop). The bound is
// enforced at TryPut rather than by ring capacity, because the ring
// rounds capacity up to a power of two.
type notifyQueue struct {
	ring *gods.RingBuffer
}

var _ api.NotifyQueue[queueMsg] = (*notifyQueue)(nil)

func newNotifyQueue(capacity int) *notifyQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &notifyQueue{ring: gods.NewRingBuffer(uint64(capacity))}
}

// TryPut enqueues unless bound messages are already queued. Never
// blocks the producer; a false return is the back-pressure signal.
func (q *notifyQueue) TryPut(m queueMsg, bound int) bool {
	if bound > 0 && q.ring.Len() >= uint64(bound) {
		return false
	}
	ok, err := q.ring.Offer(m)
	return ok && err == nil
}

// Get removes the oldest message. Only the consumer loop calls this,
// so a positive length guarantees the Get does not block.
func (q *notifyQueue) Get() (queueMsg, bool) {
	if q.ring.Len() == 0 {
		return nil, false
	}
	item, err := q.ring.Get()
	if err != nil || item == nil {
		return nil, false
	}
	return item.(queueMsg), true
}

// Len reports the number of queued messages.
func (q *notifyQueue) Len() int {
	return int(q.ring.Len())
}

// Dispose releases the ring. Drain first; disposed rings reject both
// ends.
func (q *notifyQueue) Dispose() {
	q.ring.Dispose()
}
