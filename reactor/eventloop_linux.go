// File: reactor/eventloop_linux.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll event loop. One goroutine calls Run and becomes the loop
// thread; every read handler, posted task and timer callback executes
// there. Cross-thread posts go through an eapache FIFO guarded by a
// mutex and wake the poll via eventfd.

package reactor

import (
	"encoding/binary"
	"errors"
	"sync"
	"syscall"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-listen/api"
)

const maxPollEvents = 128

// EventLoop is the epoll-backed api.EventLoop implementation.
type EventLoop struct {
	epfd   int
	wakeFd int
	log    *zap.Logger
	napiID int

	mu          sync.Mutex
	tasks       *queue.Queue
	wakePending bool
	handlers    map[int]api.ReadHandler

	loopGoID atomic.Int64
	running  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
}

var _ api.EventLoop = (*EventLoop)(nil)

// New creates an event loop. The caller owns the loop goroutine: call
// Run from a dedicated goroutine, then Stop to tear down.
func New(opts ...Option) (*EventLoop, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, api.NewError("epoll_create1", errnoOf(err), "")
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, api.NewError("eventfd", errnoOf(err), "")
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, api.NewError("epoll_ctl", errnoOf(err), "wakeup registration")
	}

	el := &EventLoop{
		epfd:     epfd,
		wakeFd:   wakeFd,
		log:      cfg.logger,
		napiID:   cfg.napiID,
		tasks:    queue.New(),
		handlers: make(map[int]api.ReadHandler),
		done:     make(chan struct{}),
	}
	el.loopGoID.Store(-1)
	return el, nil
}

// Run enters the poll loop and blocks until Stop is called. It must be
// invoked at most once.
func (el *EventLoop) Run() error {
	if !el.running.CompareAndSwap(false, true) {
		return api.ErrLoopClosed
	}
	el.loopGoID.Store(goid())
	defer close(el.done)

	events := make([]unix.EpollEvent, maxPollEvents)
	for !el.stopping.Load() {
		n, err := unix.EpollWait(el.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			el.log.Error("epoll_wait failed", zap.Error(err))
			return api.NewError("epoll_wait", errnoOf(err), "")
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == el.wakeFd {
				el.drainWake()
				continue
			}
			el.mu.Lock()
			h := el.handlers[fd]
			el.mu.Unlock()
			if h != nil {
				h()
			}
		}
		el.runTasks()
	}
	return nil
}

// Stop asks the loop to exit, waits for it, and releases the kernel
// resources. Posted tasks that never got to run are dropped.
func (el *EventLoop) Stop() error {
	if !el.stopping.CompareAndSwap(false, true) {
		return nil
	}
	if el.running.Load() {
		el.wake()
		<-el.done
	}
	return multierr.Combine(
		unix.Close(el.wakeFd),
		unix.Close(el.epfd),
	)
}

// RegisterRead subscribes fd for level-triggered persistent readable
// events.
func (el *EventLoop) RegisterRead(fd int, h api.ReadHandler) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	el.mu.Lock()
	el.handlers[fd] = h
	el.mu.Unlock()
	err := unix.EpollCtl(el.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	if err == unix.EEXIST {
		err = unix.EpollCtl(el.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	if err != nil {
		el.mu.Lock()
		delete(el.handlers, fd)
		el.mu.Unlock()
		return api.NewError("epoll_ctl", errnoOf(err), "register read")
	}
	return nil
}

// UnregisterRead removes the readable subscription for fd.
func (el *EventLoop) UnregisterRead(fd int) error {
	el.mu.Lock()
	delete(el.handlers, fd)
	el.mu.Unlock()
	if err := unix.EpollCtl(el.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
		return api.NewError("epoll_ctl", errnoOf(err), "unregister read")
	}
	return nil
}

// RunInLoop posts fn to the loop thread. Tasks run in FIFO order.
func (el *EventLoop) RunInLoop(fn func()) {
	if el.stopping.Load() {
		el.log.Debug("task dropped: loop stopping")
		return
	}
	el.mu.Lock()
	el.tasks.Add(fn)
	needWake := !el.wakePending
	el.wakePending = true
	el.mu.Unlock()
	if needWake {
		el.wake()
	}
}

// RunSync posts fn and waits until it has run. Inline when already on
// the loop thread.
func (el *EventLoop) RunSync(fn func()) error {
	if el.InLoop() {
		fn()
		return nil
	}
	if el.stopping.Load() {
		return api.ErrLoopClosed
	}
	ch := make(chan struct{})
	el.RunInLoop(func() {
		fn()
		close(ch)
	})
	select {
	case <-ch:
		return nil
	case <-el.done:
		return api.ErrLoopClosed
	}
}

// ScheduleTimer arranges for fn to run on the loop thread after d.
func (el *EventLoop) ScheduleTimer(d time.Duration, fn func()) api.Timer {
	return newOneShotTimer(el, d, fn)
}

// InLoop reports whether the caller is the loop thread.
func (el *EventLoop) InLoop() bool {
	return el.loopGoID.Load() == goid()
}

// NapiID returns the NIC receive-queue identity the loop is pinned to.
func (el *EventLoop) NapiID() int { return el.napiID }

func (el *EventLoop) wake() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(el.wakeFd, buf[:]); err != nil && err != unix.EAGAIN {
		el.log.Warn("eventfd wakeup failed", zap.Error(err))
	}
}

func (el *EventLoop) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(el.wakeFd, buf[:])
	el.mu.Lock()
	el.wakePending = false
	el.mu.Unlock()
}

func (el *EventLoop) runTasks() {
	for {
		el.mu.Lock()
		n := el.tasks.Length()
		if n == 0 {
			el.mu.Unlock()
			return
		}
		batch := make([]func(), 0, n)
		for i := 0; i < n; i++ {
			batch = append(batch, el.tasks.Remove().(func()))
		}
		el.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
	}
}

// errnoOf extracts the syscall errno from an error chain.
func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}
