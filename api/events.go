// File: api/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Optional observer surface for connection-level and backoff events.

package api

import (
	"net"
	"syscall"
)

// ConnectionEventCallback observes the life of connections inside the
// listener: kernel accept, queue hand-off, drops, accept errors and the
// resource-exhaustion backoff window. All hooks run on the thread that
// produced the event (listener loop for accepts and drops, consumer
// loop for dequeue and deadline drops).
type ConnectionEventCallback interface {
	// OnConnectionAccepted fires right after a successful accept, before
	// rate limiting and dispatch.
	OnConnectionAccepted(fd int, peer net.Addr)

	// OnConnectionEnqueuedForAcceptorCallback fires when a connection is
	// placed on a remote consumer's notification queue.
	OnConnectionEnqueuedForAcceptorCallback(fd int, peer net.Addr)

	// OnConnectionDequeuedByAcceptorCallback fires on the consumer loop
	// when a queued connection is taken off the queue for delivery.
	OnConnectionDequeuedByAcceptorCallback(fd int, peer net.Addr)

	// OnConnectionDropped fires whenever an accepted descriptor is closed
	// instead of delivered: rate limiting, queue saturation, or a queue
	// deadline expiring.
	OnConnectionDropped(fd int, peer net.Addr, reason string)

	// OnConnectionAcceptError fires for accept failures other than
	// EAGAIN/EWOULDBLOCK.
	OnConnectionAcceptError(errno syscall.Errno)

	// OnBackoffStarted fires when the listener unsubscribes from
	// readable events after descriptor exhaustion.
	OnBackoffStarted()

	// OnBackoffEnded fires when the backoff window elapses.
	OnBackoffEnded()

	// OnBackoffError fires when the backoff timer could not be armed and
	// the listener keeps accepting without a pause.
	OnBackoffError()
}
