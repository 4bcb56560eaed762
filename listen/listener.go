// File: listen/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listener core: socket ownership, the accepting state machine, and
// consumer registration. The accept loop and dispatcher live in
// accept.go, binding in bind.go.

package listen

import (
	"math/rand"
	"net"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/internal/sockopt"
)

// callbackInfo is one registered consumer: the callback, its target
// loop (nil means the listener's own loop) and, for foreign loops, the
// acceptor that drains the notification queue over there.
type callbackInfo struct {
	callback api.AcceptCallback
	loop     api.EventLoop
	consumer *remoteAcceptor
}

type acceptFunc func(fd int) (int, net.Addr, error)

// Listener owns one or more bound listening descriptors and dispatches
// accepted connections to registered consumers. It is single-threaded
// cooperative: every public mutator must run on the listener's event
// loop thread. The bind, listen, consumer-registration, accepting-state,
// teardown, SetShutdownSocketSet and SetConnectionEventCallback methods
// return ErrWrongThread otherwise; the option setters do not check the
// calling thread. The only state
// readable from other threads is NumDroppedConnections.
type Listener struct {
	loop api.EventLoop
	log  *zap.Logger
	rng  *rand.Rand

	sockets      []*socketHandle
	pendingClose []int

	callbacks          []*callbackInfo
	napiToCallback     map[int]*callbackInfo
	callbackIndex      int
	localCallbackIndex int

	accepting bool

	maxAcceptAtOnce       uint32
	maxMsgsInQueue        uint32
	acceptRate            float64
	acceptRateAdjustSpeed float64
	lastAcceptTime        time.Time
	queueTimeout          time.Duration

	numDropped atomic.Uint64

	backoffTimer api.Timer

	reuseAddr   bool
	reusePort   bool
	keepAlive   bool
	closeOnExec bool
	tfo         bool
	tfoMaxQueue int
	zeroCopy    bool
	ipFreebind  bool
	tosReflect  bool
	listenerTos int

	shutdownSet api.ShutdownSocketSet
	events      api.ConnectionEventCallback

	guards         int
	destroyPending bool
	destroyed      bool

	lastQueueFullLog time.Time

	acceptFn   acceptFunc
	napiLookup func(fd int) int
}

// New creates a detached-or-attached listener. loop may be nil; the
// listener can be attached later with AttachEventLoop, but accepting
// requires a loop.
func New(loop api.EventLoop, opts ...Option) *Listener {
	l := &Listener{
		loop:               loop,
		log:                zap.NewNop(),
		rng:                rand.New(rand.NewSource(rand.Int63())),
		napiToCallback:     make(map[int]*callbackInfo),
		localCallbackIndex: -1,
		maxAcceptAtOnce:    DefaultMaxAcceptAtOnce,
		maxMsgsInQueue:     DefaultMaxMessagesInQueue,
		acceptRate:         1,
		lastAcceptTime:     time.Now(),
		reuseAddr:          true,
		keepAlive:          true,
		closeOnExec:        true,
	}
	l.acceptFn = sockopt.AcceptConn
	l.napiLookup = sockopt.IncomingNapiID
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// checkLoop enforces the single-threaded contract: when attached, the
// caller must be on the loop thread.
func (l *Listener) checkLoop() error {
	if l.loop != nil && !l.loop.InLoop() {
		return api.ErrWrongThread
	}
	return nil
}

// acquireGuard defers destruction while a callback-invoking section is
// on the stack, so a consumer callback calling Destroy is safe.
func (l *Listener) acquireGuard() func() {
	l.guards++
	return func() {
		l.guards--
		if l.guards == 0 && l.destroyPending {
			l.destroyPending = false
			l.destroyed = true
		}
	}
}

// AttachEventLoop binds a detached listener to a loop. Must be called
// from that loop's thread.
func (l *Listener) AttachEventLoop(loop api.EventLoop) error {
	if l.loop != nil {
		return api.ErrWrongThread
	}
	if loop != nil && !loop.InLoop() {
		return api.ErrWrongThread
	}
	l.loop = loop
	return nil
}

// DetachEventLoop unbinds the listener from its loop. Accepting must be
// paused first.
func (l *Listener) DetachEventLoop() error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	if l.accepting {
		return api.ErrStillAccepting
	}
	for _, h := range l.sockets {
		h.unregister()
	}
	l.loop = nil
	return nil
}

// Listen starts listening on every bound socket.
func (l *Listener) Listen(backlog int) error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	for _, h := range l.sockets {
		if err := sockopt.Listen(h.fd, backlog); err != nil {
			return api.NewError("listen", errnoOf(err), "failed to listen on async server socket")
		}
	}
	return nil
}

// Addr returns the local address of the first bound socket.
func (l *Listener) Addr() (net.Addr, error) {
	if len(l.sockets) == 0 {
		return nil, api.ErrNoSockets
	}
	return sockopt.LocalAddr(l.sockets[0].fd)
}

// Addrs returns the local addresses of all bound sockets in bind order.
func (l *Listener) Addrs() ([]net.Addr, error) {
	if len(l.sockets) == 0 {
		return nil, api.ErrNoSockets
	}
	out := make([]net.Addr, 0, len(l.sockets))
	for _, h := range l.sockets {
		addr, err := sockopt.LocalAddr(h.fd)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// AddAcceptCallback registers a consumer. A nil loop runs the callback
// inline on the listener's loop (fast path); otherwise a remote
// acceptor is started on the given loop. Connections for a consumer on
// a foreign loop travel over a bounded queue; a consumer whose loop is
// the listener's own still receives them inline. maxAtOnce bounds the
// consumer's drain batch; zero selects DefaultCallbackAcceptAtOnce.
//
// If this is the first consumer and the listener is accepting,
// readable subscriptions resume immediately.
func (l *Listener) AddAcceptCallback(cb api.AcceptCallback, loop api.EventLoop, maxAtOnce uint32) error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	if maxAtOnce == 0 {
		maxAtOnce = DefaultCallbackAcceptAtOnce
	}
	runStartAccepting := l.accepting && len(l.callbacks) == 0

	info := &callbackInfo{callback: cb, loop: loop}
	l.callbacks = append(l.callbacks, info)

	if loop == nil {
		// Runs on the listener's own loop; no queue needed.
		cb.AcceptStarted()
	} else {
		// A consumer with an explicit loop always gets an acceptor, even
		// when that loop is the listener's; the acceptor runs
		// AcceptStarted and AcceptStopped there. The dispatcher still
		// hands connections and errors to a consumer on the listener's
		// own loop inline, without the queue.
		acceptor := newRemoteAcceptor(cb, l.events, l.log)
		acceptor.start(loop, maxAtOnce, int(l.maxMsgsInQueue))
		info.consumer = acceptor
		if id := loop.NapiID(); id != -1 {
			l.napiToCallback[id] = info
		}
		if l.localCallbackIndex < 0 && loop == l.loop {
			l.localCallbackIndex = len(l.callbacks) - 1
		}
	}

	if runStartAccepting {
		return l.StartAccepting()
	}
	return nil
}

// RemoveAcceptCallback unregisters the first consumer matching cb (and
// loop, unless loop is nil). The consumer's AcceptStopped fires on its
// own loop after any already-enqueued connections drain or expire.
//
// Removing the last consumer while accepting unsubscribes readable
// events but keeps the accepting intent, so a later AddAcceptCallback
// resumes automatically.
func (l *Listener) RemoveAcceptCallback(cb api.AcceptCallback, loop api.EventLoop) error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	idx := -1
	for i, info := range l.callbacks {
		if info.callback == cb && (loop == nil || info.loop == loop) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return api.ErrCallbackNotFound
	}
	for id, info := range l.napiToCallback {
		if info.callback == cb && (loop == nil || info.loop == loop) {
			delete(l.napiToCallback, id)
		}
	}

	// Remove before invoking AcceptStopped, in case the callback
	// re-enters the listener.
	info := l.callbacks[idx]
	l.callbacks = append(l.callbacks[:idx:idx], l.callbacks[idx+1:]...)
	if idx < l.callbackIndex {
		l.callbackIndex--
	} else if l.callbackIndex >= len(l.callbacks) {
		l.callbackIndex = 0
	}
	l.recomputeLocalCallbackIndex()

	if info.consumer != nil {
		info.consumer.stop()
	} else {
		info.callback.AcceptStopped()
	}

	if l.accepting && len(l.callbacks) == 0 {
		for _, h := range l.sockets {
			h.unregister()
		}
	}
	return nil
}

func (l *Listener) recomputeLocalCallbackIndex() {
	l.localCallbackIndex = -1
	for i, info := range l.callbacks {
		if info.loop != nil && info.loop == l.loop {
			l.localCallbackIndex = i
			return
		}
	}
}

// StartAccepting marks the accepting intent and, when consumers are
// registered, subscribes every bound socket for readable events.
func (l *Listener) StartAccepting() error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	l.accepting = true
	if len(l.callbacks) == 0 {
		// Subscription is deferred until the first AddAcceptCallback.
		return nil
	}
	for _, h := range l.sockets {
		if err := h.register(); err != nil {
			return err
		}
	}
	return nil
}

// PauseAccepting unsubscribes readable events and cancels any pending
// backoff window. Queued hand-offs already in flight still deliver.
func (l *Listener) PauseAccepting() error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	l.accepting = false
	for _, h := range l.sockets {
		h.unregister()
	}
	if l.backoffTimer != nil {
		l.backoffTimer.Cancel()
		l.backoffTimer = nil
	}
	return nil
}

// StopAccepting tears the listener down. Sockets close in reverse bind
// order, so a concurrent re-binder cannot catch the port half-released.
// With shutdownFlags >= 0 each socket gets shutdown(2) with those flags
// and is parked in pendingClose until Destroy; with a registered
// shutdown set, the set closes it. Consumers are stopped last.
func (l *Listener) StopAccepting(shutdownFlags int) error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	l.accepting = false

	var errs error
	for i := len(l.sockets) - 1; i >= 0; i-- {
		h := l.sockets[i]
		h.unregister()
		switch {
		case l.shutdownSet != nil:
			errs = multierr.Append(errs, l.shutdownSet.Close(h.fd))
		case shutdownFlags >= 0:
			errs = multierr.Append(errs, sockopt.Shutdown(h.fd, shutdownFlags))
			l.pendingClose = append(l.pendingClose, h.fd)
		default:
			errs = multierr.Append(errs, sockopt.Close(h.fd))
		}
	}
	l.sockets = nil

	if l.backoffTimer != nil {
		l.backoffTimer.Cancel()
		l.backoffTimer = nil
	}

	// Clear the registry before invoking AcceptStopped so a misbehaving
	// callback that re-enters Add/RemoveAcceptCallback sees an empty
	// listener instead of a half-dismantled one.
	cbs := l.callbacks
	l.callbacks = nil
	l.napiToCallback = make(map[int]*callbackInfo)
	l.callbackIndex = 0
	l.localCallbackIndex = -1
	for _, info := range cbs {
		if info.consumer != nil {
			info.consumer.stop()
		} else {
			info.callback.AcceptStopped()
		}
	}
	return errs
}

// Destroy stops accepting, closes parked descriptors and releases the
// listener. When called from inside a consumer callback the final
// release is deferred until the callback stack unwinds.
func (l *Listener) Destroy() error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	errs := l.StopAccepting(-1)
	for _, fd := range l.pendingClose {
		errs = multierr.Append(errs, sockopt.Close(fd))
	}
	l.pendingClose = nil
	if l.guards > 0 {
		l.destroyPending = true
	} else {
		l.destroyed = true
	}
	return errs
}

// SetShutdownSocketSet swaps the shutdown registry. Sockets already
// bound move from the old set to the new one.
func (l *Listener) SetShutdownSocketSet(set api.ShutdownSocketSet) error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	if l.shutdownSet == set {
		return nil
	}
	if l.shutdownSet != nil {
		for _, h := range l.sockets {
			l.shutdownSet.Remove(h.fd)
		}
	}
	if set != nil {
		for _, h := range l.sockets {
			set.Add(h.fd)
		}
	}
	l.shutdownSet = set
	return nil
}

// NumDroppedConnections reports how many accepted connections the
// listener closed undelivered: rate limiting or queue saturation. A
// failed accept whose rate-limiter draw loses is counted as well.
// Deadline expiries happen on consumer loops and are visible through
// OnConnectionDropped instead. Safe from any thread.
func (l *Listener) NumDroppedConnections() uint64 {
	return l.numDropped.Load()
}

// SetConnectionEventCallback swaps the connection-event observer.
func (l *Listener) SetConnectionEventCallback(cb api.ConnectionEventCallback) error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	l.events = cb
	return nil
}

// SetMaxAcceptAtOnce bounds accepts per readable notification.
func (l *Listener) SetMaxAcceptAtOnce(n uint32) {
	if n > 0 {
		l.maxAcceptAtOnce = n
	}
}

// SetMaxNumMessagesInQueue caps each consumer's notification queue.
// The ring is sized at registration, but the cap is read on every put:
// a lowered cap applies to existing consumers at once, while a raised
// one is still limited by the ring their queue was created with.
func (l *Listener) SetMaxNumMessagesInQueue(n uint32) {
	if n > 0 {
		l.maxMsgsInQueue = n
	}
}

// SetAcceptRate sets the survival probability for new connections;
// rates below 1 shed load probabilistically.
func (l *Listener) SetAcceptRate(rate float64) {
	if rate > 0 && rate <= 1 {
		l.acceptRate = rate
	}
}

// AcceptRate reports the current accept-rate value.
func (l *Listener) AcceptRate() float64 { return l.acceptRate }

// SetAcceptRateAdjustSpeed controls how fast a lowered accept rate
// recovers, in fractional gain per millisecond between accepts. Zero
// disables adaptive behavior.
func (l *Listener) SetAcceptRateAdjustSpeed(speed float64) {
	if speed >= 0 {
		l.acceptRateAdjustSpeed = speed
	}
}

// SetQueueTimeout bounds how long a connection may wait in a consumer
// queue before being dropped on dequeue. Zero disables the deadline.
func (l *Listener) SetQueueTimeout(d time.Duration) {
	if d >= 0 {
		l.queueTimeout = d
	}
}

// QueueTimeout reports the configured queue deadline.
func (l *Listener) QueueTimeout() time.Duration { return l.queueTimeout }

// SetEnableReuseAddr toggles SO_REUSEADDR; applies to already-bound
// sockets immediately and to future sockets pre-bind.
func (l *Listener) SetEnableReuseAddr(on bool) error {
	l.reuseAddr = on
	for _, h := range l.sockets {
		if err := sockopt.SetReuseAddr(h.fd, on); err != nil {
			l.log.Error("failed to set SO_REUSEADDR on async server socket", zap.Error(err))
			return api.NewError("setsockopt", errnoOf(err), "SO_REUSEADDR")
		}
	}
	return nil
}

// SetReusePort toggles SO_REUSEPORT; applies to already-bound sockets
// immediately and to future sockets pre-bind, allowing several accept
// threads to share a port.
func (l *Listener) SetReusePort(on bool) error {
	l.reusePort = on
	for _, h := range l.sockets {
		if err := sockopt.SetReusePort(h.fd, on); err != nil {
			l.log.Error("failed to set SO_REUSEPORT on async server socket", zap.Error(err))
			return api.NewError("setsockopt", errnoOf(err), "SO_REUSEPORT")
		}
	}
	return nil
}

// SetKeepAlive toggles SO_KEEPALIVE for sockets created afterwards.
func (l *Listener) SetKeepAlive(on bool) { l.keepAlive = on }

// SetCloseOnExec toggles FD_CLOEXEC for sockets created afterwards.
func (l *Listener) SetCloseOnExec(on bool) { l.closeOnExec = on }

// SetTCPFastOpen enables TFO with the given pending-SYN queue length.
// Must be set before bind.
func (l *Listener) SetTCPFastOpen(maxQueue int) {
	l.tfo = maxQueue > 0
	l.tfoMaxQueue = maxQueue
}

// SetZeroCopy toggles SO_ZEROCOPY; returns whether any bound socket
// took it.
func (l *Listener) SetZeroCopy(on bool) bool {
	l.zeroCopy = on
	ok := 0
	for _, h := range l.sockets {
		if err := sockopt.SetZeroCopy(h.fd, on); err == nil {
			ok++
		}
	}
	return ok != 0
}

// SetIPFreebind allows binding to addresses not yet configured on any
// interface. Must be set before bind.
func (l *Listener) SetIPFreebind(on bool) { l.ipFreebind = on }

// SetTosReflect makes accepted connections reflect the traffic class
// of the client's SYN. Applies TCP_SAVE_SYN to bound sockets.
func (l *Listener) SetTosReflect(on bool) error {
	if !on {
		l.tosReflect = false
		return nil
	}
	for _, h := range l.sockets {
		if h.family == sockopt.AFUnix {
			continue
		}
		if err := sockopt.SetSaveSyn(h.fd, true); err != nil {
			return api.NewError("setsockopt", errnoOf(err), "failed to enable TOS reflect")
		}
	}
	l.tosReflect = true
	return nil
}

// SetListenerTos sets the traffic class on the listening sockets.
func (l *Listener) SetListenerTos(tos int) error {
	if tos == 0 {
		l.listenerTos = 0
		return nil
	}
	for _, h := range l.sockets {
		if h.family == sockopt.AFUnix {
			continue
		}
		if err := sockopt.SetTOS(h.fd, h.family, tos); err != nil {
			return api.NewError("setsockopt", errnoOf(err), "failed to set TOS for socket")
		}
	}
	l.listenerTos = tos
	return nil
}
