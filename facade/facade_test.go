// File: facade/facade_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/internal/sockopt"
	"github.com/momentics/hioload-listen/shutdownset"
)

type recordingConsumer struct {
	mu    sync.Mutex
	conns int
}

func (c *recordingConsumer) AcceptStarted() {}
func (c *recordingConsumer) AcceptStopped() {}

func (c *recordingConsumer) ConnectionAccepted(fd int, peer net.Addr, info api.ConnInfo) {
	c.mu.Lock()
	c.conns++
	c.mu.Unlock()
	_ = sockopt.Close(fd)
}

func (c *recordingConsumer) AcceptError(err error) {}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns
}

func TestServerAcceptsAndCounts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
	srv, err := New(cfg)
	if errors.Is(err, api.ErrNotSupported) {
		t.Skip("event loop not supported on this platform")
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown() })

	cb := &recordingConsumer{}
	require.NoError(t, srv.AddConsumer(cb, nil, 0))

	addr, err := srv.Addr()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", addr.String())
		require.NoError(t, err)
		conn.Close()
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && cb.count() < 3 {
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, 3, cb.count())
	assert.GreaterOrEqual(t, srv.Stats()["connections_accepted"], uint64(3))

	require.NoError(t, srv.RemoveConsumer(cb, nil))
	require.NoError(t, srv.Shutdown())
	assert.NoError(t, srv.Shutdown())
}

func TestServerWithShutdownSet(t *testing.T) {
	set := shutdownset.New(nil)
	cfg := DefaultConfig()
	cfg.Addr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
	cfg.ShutdownSet = set

	srv, err := New(cfg)
	if errors.Is(err, api.ErrNotSupported) {
		t.Skip("event loop not supported on this platform")
	}
	require.NoError(t, err)

	assert.Equal(t, 1, set.Len())
	require.NoError(t, srv.Shutdown())
	// Teardown ran through the set, which closed and forgot the socket.
	assert.Zero(t, set.Len())
}
