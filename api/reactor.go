// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Defines the abstract interface for single-threaded event loops used to
// multiplex listening sockets and consumer callbacks, regardless of the
// polling mechanism underneath (epoll, kqueue, IOCP).

package api

import "time"

// ReadHandler is invoked on the loop thread each time the registered
// descriptor reports readable.
type ReadHandler func()

// Timer is a handle for a scheduled one-shot callback.
type Timer interface {
	// Cancel stops the timer. Returns false if the callback already fired
	// or was already cancelled. After Cancel returns, the callback will
	// not run.
	Cancel() bool
}

// EventLoop is a single-threaded cooperative reactor. All callbacks
// (read handlers, posted tasks, timer expirations) run on one goroutine,
// the loop thread. Tasks posted with RunInLoop execute in FIFO order.
type EventLoop interface {
	// RegisterRead subscribes fd for persistent readable notifications.
	// The handler keeps firing until UnregisterRead is called.
	RegisterRead(fd int, h ReadHandler) error

	// UnregisterRead removes the readable subscription for fd.
	UnregisterRead(fd int) error

	// RunInLoop schedules fn to run on the loop thread. Safe to call from
	// any goroutine, including the loop thread itself.
	RunInLoop(fn func())

	// RunSync runs fn on the loop thread and waits for it to complete.
	// When called from the loop thread, fn runs inline.
	RunSync(fn func()) error

	// ScheduleTimer arranges for fn to run on the loop thread after d.
	ScheduleTimer(d time.Duration, fn func()) Timer

	// InLoop reports whether the caller is the loop thread.
	InLoop() bool

	// NapiID returns the NIC receive-queue identity this loop is pinned
	// to, or -1 when unpinned.
	NapiID() int
}
