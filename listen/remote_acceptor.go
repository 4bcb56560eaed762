// File: listen/remote_acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// remoteAcceptor is the consumer-side agent: it lives on the
// consumer's event loop and drains the bounded notification queue the
// listener fills from the accept thread.

package listen

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/internal/sockopt"
)

// remoteAcceptor owns one consumer's notification queue. Construction
// happens on the listener loop; start, every message, and the final
// stop all run as posted tasks on the consumer loop, so the callback
// only ever sees its own thread.
type remoteAcceptor struct {
	callback api.AcceptCallback
	events   api.ConnectionEventCallback
	log      *zap.Logger

	loop          api.EventLoop
	queue         *notifyQueue
	maxReadAtOnce uint32
}

func newRemoteAcceptor(cb api.AcceptCallback, events api.ConnectionEventCallback, log *zap.Logger) *remoteAcceptor {
	return &remoteAcceptor{
		callback: cb,
		events:   events,
		log:      log,
	}
}

// start allocates the queue and brings the consumer up on its loop:
// AcceptStarted first, then queue consumption.
func (a *remoteAcceptor) start(loop api.EventLoop, maxAtOnce uint32, queueCap int) {
	a.loop = loop
	a.maxReadAtOnce = maxAtOnce
	a.queue = newNotifyQueue(queueCap)
	loop.RunInLoop(func() {
		a.callback.AcceptStarted()
		a.drain()
	})
}

// tryPut is the producer side, called from the listener loop. A
// successful put schedules a drain on the consumer loop.
func (a *remoteAcceptor) tryPut(m queueMsg, bound int) bool {
	if !a.queue.TryPut(m, bound) {
		return false
	}
	a.loop.RunInLoop(a.drain)
	return true
}

// drain runs on the consumer loop: up to maxReadAtOnce messages per
// invocation, then re-posts itself so other work on the loop gets a
// turn. FIFO holds because this is the queue's only consumer.
func (a *remoteAcceptor) drain() {
	for i := uint32(0); i < a.maxReadAtOnce; i++ {
		m, ok := a.queue.Get()
		if !ok {
			return
		}
		a.process(m)
	}
	if a.queue.Len() > 0 {
		a.loop.RunInLoop(a.drain)
	}
}

func (a *remoteAcceptor) process(m queueMsg) {
	switch msg := m.(type) {
	case *newConnMsg:
		if !msg.deadline.IsZero() && time.Now().After(msg.deadline) {
			_ = sockopt.Close(msg.fd)
			if a.events != nil {
				timeout := msg.deadline.Sub(msg.acceptTime)
				a.events.OnConnectionDropped(msg.fd, msg.peer, fmt.Sprintf(
					"exceeded deadline for accepting connection socket (%d ms)", timeout.Milliseconds()))
			}
			return
		}
		if a.events != nil {
			a.events.OnConnectionDequeuedByAcceptorCallback(msg.fd, msg.peer)
		}
		a.callback.ConnectionAccepted(msg.fd, msg.peer, api.ConnInfo{AcceptTime: msg.acceptTime})
	case *errorMsg:
		a.callback.AcceptError(api.NewError("accept", msg.errno, msg.msg))
	}
}

// stop finishes the consumer on its own loop: enqueued messages drain
// (or expire) first, then AcceptStopped fires and the queue is
// released. Posting after any pending drain keeps delivery order.
func (a *remoteAcceptor) stop() {
	a.loop.RunInLoop(func() {
		for {
			m, ok := a.queue.Get()
			if !ok {
				break
			}
			a.process(m)
		}
		a.callback.AcceptStopped()
		a.queue.Dispose()
	})
}
