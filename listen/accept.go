// File: listen/accept.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The accept loop: batched accept4, rate limiting, dispatch to
// consumers, and the descriptor-exhaustion backoff state.

package listen

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/internal/sockopt"
)

// handlerReady runs on the listener loop when a bound socket reports
// readable. It accepts up to maxAcceptAtOnce connections so one busy
// socket cannot starve the rest of the loop.
func (l *Listener) handlerReady(h *socketHandle) {
	if len(l.callbacks) == 0 {
		return
	}
	release := l.acquireGuard()
	defer release()

	for n := uint32(0); n < l.maxAcceptAtOnce; n++ {
		connFd, peer, acceptErr := l.acceptFn(h.fd)

		if acceptErr == nil {
			if l.events != nil {
				l.events.OnConnectionAccepted(connFd, peer)
			}
			if l.tosReflect && h.family != sockopt.AFUnix {
				if err := sockopt.ReflectTOS(connFd, h.family); err != nil {
					l.log.Error("unable to reflect TOS for accepted socket",
						zap.Int("fd", connFd), zap.Error(err))
				}
			}
		}

		if l.stepRateLimiter(connFd, peer, acceptErr == nil) {
			continue
		}

		if acceptErr != nil {
			errno := errnoOf(acceptErr)
			if errno == syscall.EAGAIN || errno == syscall.EWOULDBLOCK {
				// Kernel queue fully drained.
				return
			}
			if errno == syscall.EMFILE || errno == syscall.ENFILE {
				l.log.Error("accept failed: out of file descriptors; entering accept back-off state")
				l.enterBackoff()
				l.dispatchError("accept() failed", errno)
			} else {
				l.dispatchError("accept() failed", errno)
			}
			if l.events != nil {
				l.events.OnConnectionAcceptError(errno)
			}
			return
		}

		l.dispatchSocket(connFd, peer)

		if !l.accepting || len(l.callbacks) == 0 {
			break
		}
	}
}

// stepRateLimiter advances the adaptive accept rate and decides whether
// this accept survives. Returns true when the connection was shed.
// Timestamps advance even for failed accepts so recovery tracks real
// arrival spacing.
func (l *Listener) stepRateLimiter(fd int, peer net.Addr, accepted bool) bool {
	now := time.Now()
	delta := now.Sub(l.lastAcceptTime)
	if delta < 0 {
		delta = 0
	}
	l.lastAcceptTime = now

	if l.acceptRate >= 1 {
		return false
	}
	deltaMs := float64(delta) / float64(time.Millisecond)
	l.acceptRate *= 1 + l.acceptRateAdjustSpeed*deltaMs
	if l.acceptRate >= 1 {
		l.acceptRate = 1
		return false
	}
	if l.rng.Float64() > l.acceptRate {
		l.numDropped.Inc()
		if accepted {
			_ = sockopt.Close(fd)
			if l.events != nil {
				l.events.OnConnectionDropped(fd, peer, fmt.Sprintf(
					"server is rate limiting new connections, current accept rate is %g", l.acceptRate))
			}
		}
		return true
	}
	return false
}

// nextCallback selects the consumer for the next hand-off: the NAPI
// map wins when the connection's receive queue is pinned to a
// consumer, otherwise round-robin.
func (l *Listener) nextCallback(connFd int) *callbackInfo {
	if connFd >= 0 && len(l.napiToCallback) > 0 {
		if id := l.napiLookup(connFd); id != -1 {
			if info, ok := l.napiToCallback[id]; ok {
				return info
			}
		}
	}
	info := l.callbacks[l.callbackIndex]
	l.callbackIndex++
	if l.callbackIndex >= len(l.callbacks) {
		l.callbackIndex = 0
	}
	return info
}

// dispatchSocket hands one accepted descriptor to a consumer: inline
// for local consumers, through the bounded queue otherwise. A full
// queue rotates to the next consumer; a full rotation drops the
// connection.
func (l *Listener) dispatchSocket(fd int, peer net.Addr) {
	startingIndex := l.callbackIndex
	acceptTime := time.Now()

	info := l.nextCallback(fd)
	for {
		if info.loop == nil || info.loop == l.loop {
			info.callback.ConnectionAccepted(fd, peer, api.ConnInfo{AcceptTime: acceptTime})
			return
		}

		var deadline time.Time
		if l.queueTimeout != 0 {
			deadline = acceptTime.Add(l.queueTimeout)
		}
		msg := &newConnMsg{fd: fd, peer: peer, acceptTime: acceptTime, deadline: deadline}
		if info.consumer.tryPut(msg, int(l.maxMsgsInQueue)) {
			if l.events != nil {
				l.events.OnConnectionEnqueuedForAcceptorCallback(fd, peer)
			}
			return
		}

		if l.acceptRateAdjustSpeed > 0 {
			// Queues are backing up; shed harder.
			l.acceptRate *= 1 - AcceptRateDecreaseStep
		}

		if l.callbackIndex == startingIndex {
			// Every queue rejected the hand-off. Nothing left to do but
			// close; an overloaded service should PauseAccepting before
			// its consumers get here.
			l.numDropped.Inc()
			const dropMsg = "failed to dispatch newly accepted socket: all accept callback queues are full"
			l.logQueueFull(dropMsg)
			_ = sockopt.Close(fd)
			if l.events != nil {
				l.events.OnConnectionDropped(fd, peer, dropMsg)
			}
			return
		}
		info = l.nextCallback(fd)
	}
}

// dispatchError routes an asynchronous accept failure to a consumer,
// preferring the same rotation the connection dispatch uses.
func (l *Listener) dispatchError(msg string, errno syscall.Errno) {
	startingIndex := l.callbackIndex
	info := l.nextCallback(-1)
	for {
		if info.loop == nil || info.loop == l.loop {
			info.callback.AcceptError(api.NewError("accept", errno, msg))
			return
		}
		if info.consumer.tryPut(&errorMsg{msg: msg, errno: errno}, int(l.maxMsgsInQueue)) {
			return
		}
		if l.callbackIndex == startingIndex {
			l.logQueueFull("failed to dispatch accept error: all accept callback queues are full")
			return
		}
		info = l.nextCallback(-1)
	}
}

// enterBackoff reacts to descriptor exhaustion: unsubscribe readable
// events for a fixed window so the process can recover descriptors.
// The accepting intent stays set.
func (l *Listener) enterBackoff() {
	if l.loop == nil {
		l.log.Error("cannot arm accept back-off timer: listener is detached")
		if l.events != nil {
			l.events.OnBackoffError()
		}
		return
	}
	if l.backoffTimer != nil {
		// Already backing off.
		return
	}
	l.backoffTimer = l.loop.ScheduleTimer(BackoffDuration, l.backoffExpired)
	for _, h := range l.sockets {
		h.unregister()
	}
	if l.events != nil {
		l.events.OnBackoffStarted()
	}
}

// backoffExpired re-enables accepts after the backoff window. Failure
// to re-register is unrecoverable: the process aborts rather than
// silently never accepting again.
func (l *Listener) backoffExpired() {
	l.backoffTimer = nil
	if len(l.callbacks) == 0 {
		if l.events != nil {
			l.events.OnBackoffEnded()
		}
		return
	}
	for _, h := range l.sockets {
		if err := h.register(); err != nil {
			l.log.Fatal("failed to re-enable accepts after back-off", zap.Error(err))
		}
	}
	if l.events != nil {
		l.events.OnBackoffEnded()
	}
}

// logQueueFull logs saturation at most once per second; under overload
// this fires per accepted connection.
func (l *Listener) logQueueFull(msg string) {
	now := time.Now()
	if now.Sub(l.lastQueueFullLog) < time.Second {
		return
	}
	l.lastQueueFullLog = now
	l.log.Error(msg, zap.Uint64("dropped", l.numDropped.Load()))
}

// errnoOf extracts the syscall errno from an error chain.
func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}
