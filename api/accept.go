// File: api/accept.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Accept callback surface: the consumer-side contract for receiving
// accepted connection descriptors from a Listener.

package api

import (
	"net"
	"time"
)

// ConnInfo carries per-connection metadata handed to the consumer
// together with the accepted descriptor.
type ConnInfo struct {
	// AcceptTime is when the listener pulled the connection off the
	// kernel queue, before any cross-thread hand-off.
	AcceptTime time.Time
}

// AcceptCallback receives accepted connections and accept errors.
//
// AcceptStarted and AcceptStopped bracket the registration lifetime.
// For a consumer with its own event loop, all four methods run on that
// loop; for a consumer sharing the listener's loop they run inline on
// the listener loop.
type AcceptCallback interface {
	// AcceptStarted is invoked once the callback is ready to receive
	// connections.
	AcceptStarted()

	// AcceptStopped is invoked after the callback has been removed and
	// no further ConnectionAccepted or AcceptError calls will be made.
	AcceptStopped()

	// ConnectionAccepted hands over ownership of an accepted descriptor.
	// The consumer is responsible for closing fd.
	ConnectionAccepted(fd int, peer net.Addr, info ConnInfo)

	// AcceptError reports an asynchronous accept failure. The listener
	// keeps running unless documented otherwise.
	AcceptError(err error)
}
