// File: listen/helpers_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package listen

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/internal/sockopt"
	"github.com/momentics/hioload-listen/reactor"
)

// startLoop spins up an event loop on its own goroutine and tears it
// down with the test.
func startLoop(t *testing.T, opts ...reactor.Option) *reactor.EventLoop {
	t.Helper()
	el, err := reactor.New(opts...)
	if errors.Is(err, api.ErrNotSupported) {
		t.Skip("event loop not supported on this platform")
	}
	require.NoError(t, err)
	go func() { _ = el.Run() }()
	t.Cleanup(func() { _ = el.Stop() })
	return el
}

// runL runs fn on the listener loop and fails the test on loop errors.
func runL(t *testing.T, el *reactor.EventLoop, fn func()) {
	t.Helper()
	require.NoError(t, el.RunSync(fn))
}

// blockLoop parks the loop thread until the returned release func is
// called.
func blockLoop(el api.EventLoop) (release func()) {
	ch := make(chan struct{})
	el.RunInLoop(func() { <-ch })
	return func() { close(ch) }
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", msg)
}

type acceptedConn struct {
	fd   int
	peer net.Addr
}

// testConsumer records the full callback sequence it observes.
type testConsumer struct {
	mu     sync.Mutex
	events []string
	conns  []acceptedConn
	errs   []error

	// enteredCh, when set, receives one token per ConnectionAccepted
	// before any blocking.
	enteredCh chan struct{}
	// blockCh, when set, parks ConnectionAccepted until closed.
	blockCh chan struct{}
	// onConn, when set, runs inside ConnectionAccepted after recording.
	onConn func(fd int, peer net.Addr)
	// keepFds leaves accepted descriptors open for the test to manage.
	keepFds bool
}

var _ api.AcceptCallback = (*testConsumer)(nil)

func newTestConsumer() *testConsumer {
	return &testConsumer{}
}

func (c *testConsumer) AcceptStarted() {
	c.mu.Lock()
	c.events = append(c.events, "started")
	c.mu.Unlock()
}

func (c *testConsumer) AcceptStopped() {
	c.mu.Lock()
	c.events = append(c.events, "stopped")
	c.mu.Unlock()
}

func (c *testConsumer) ConnectionAccepted(fd int, peer net.Addr, info api.ConnInfo) {
	c.mu.Lock()
	c.events = append(c.events, "conn")
	c.conns = append(c.conns, acceptedConn{fd: fd, peer: peer})
	c.mu.Unlock()
	if c.enteredCh != nil {
		c.enteredCh <- struct{}{}
	}
	if c.blockCh != nil {
		<-c.blockCh
	}
	if c.onConn != nil {
		c.onConn(fd, peer)
	}
	if !c.keepFds {
		_ = sockopt.Close(fd)
	}
}

func (c *testConsumer) AcceptError(err error) {
	c.mu.Lock()
	c.events = append(c.events, "error")
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func (c *testConsumer) connCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *testConsumer) errCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func (c *testConsumer) eventLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	copy(out, c.events)
	return out
}

func (c *testConsumer) peerPorts() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.conns))
	for _, conn := range c.conns {
		if tcp, ok := conn.peer.(*net.TCPAddr); ok {
			out = append(out, tcp.Port)
		}
	}
	return out
}

// testEvents is a recording api.ConnectionEventCallback.
type testEvents struct {
	mu          sync.Mutex
	dropReasons []string
	acceptErrs  []syscall.Errno
	accepted    int
	enqueued    int
	dequeued    int

	backoffStarted chan struct{}
	backoffEnded   chan struct{}
	backoffErrs    int
}

var _ api.ConnectionEventCallback = (*testEvents)(nil)

func newTestEvents() *testEvents {
	return &testEvents{
		backoffStarted: make(chan struct{}, 8),
		backoffEnded:   make(chan struct{}, 8),
	}
}

func (e *testEvents) OnConnectionAccepted(fd int, peer net.Addr) {
	e.mu.Lock()
	e.accepted++
	e.mu.Unlock()
}

func (e *testEvents) OnConnectionEnqueuedForAcceptorCallback(fd int, peer net.Addr) {
	e.mu.Lock()
	e.enqueued++
	e.mu.Unlock()
}

func (e *testEvents) OnConnectionDequeuedByAcceptorCallback(fd int, peer net.Addr) {
	e.mu.Lock()
	e.dequeued++
	e.mu.Unlock()
}

func (e *testEvents) OnConnectionDropped(fd int, peer net.Addr, reason string) {
	e.mu.Lock()
	e.dropReasons = append(e.dropReasons, reason)
	e.mu.Unlock()
}

func (e *testEvents) OnConnectionAcceptError(errno syscall.Errno) {
	e.mu.Lock()
	e.acceptErrs = append(e.acceptErrs, errno)
	e.mu.Unlock()
}

func (e *testEvents) OnBackoffStarted() { e.backoffStarted <- struct{}{} }
func (e *testEvents) OnBackoffEnded()   { e.backoffEnded <- struct{}{} }

func (e *testEvents) OnBackoffError() {
	e.mu.Lock()
	e.backoffErrs++
	e.mu.Unlock()
}

func (e *testEvents) enqueuedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enqueued
}

func (e *testEvents) drops() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.dropReasons))
	copy(out, e.dropReasons)
	return out
}

// bindLoopback binds and listens on an ephemeral IPv4 loopback port.
func bindLoopback(t *testing.T, el *reactor.EventLoop, l *Listener) net.Addr {
	t.Helper()
	var addr net.Addr
	runL(t, el, func() {
		assert.NoError(t, l.Bind(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}))
		assert.NoError(t, l.Listen(128))
		var err error
		addr, err = l.Addr()
		assert.NoError(t, err)
	})
	return addr
}

// dial opens a client connection and schedules its close.
func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func localPort(t *testing.T, conn net.Conn) int {
	t.Helper()
	tcp, ok := conn.LocalAddr().(*net.TCPAddr)
	require.True(t, ok)
	return tcp.Port
}
