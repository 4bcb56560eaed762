// File: shutdownset/shutdownset_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shutdownset

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/internal/sockopt"
)

func newSocket(t *testing.T) int {
	t.Helper()
	fd, err := sockopt.Create(sockopt.AFInet)
	if errors.Is(err, api.ErrNotSupported) {
		t.Skip("raw sockets unavailable on this platform")
	}
	require.NoError(t, err)
	return fd
}

func TestAddRemove(t *testing.T) {
	s := New(nil)
	fd := newSocket(t)
	defer sockopt.Close(fd)

	s.Add(fd)
	assert.Equal(t, 1, s.Len())
	s.Remove(fd)
	assert.Zero(t, s.Len())
}

func TestCloseExactlyOnce(t *testing.T) {
	s := New(nil)
	fd := newSocket(t)

	s.Add(fd)
	require.NoError(t, s.Close(fd))
	assert.Zero(t, s.Len())

	// A second close through the set must not touch the (possibly
	// reused) descriptor number.
	assert.NoError(t, s.Close(fd))
}

func TestCloseUnregisteredIsNoop(t *testing.T) {
	s := New(nil)
	fd := newSocket(t)
	defer sockopt.Close(fd)

	assert.NoError(t, s.Close(fd))
}

func TestShutdownSweep(t *testing.T) {
	s := New(nil)

	fd := newSocket(t)
	require.NoError(t, sockopt.BindNetAddr(fd, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}))
	require.NoError(t, sockopt.Listen(fd, 8))
	s.Add(fd)

	s.Shutdown(false)
	// Still registered: the owner closes it through the set.
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Close(fd))
	assert.Zero(t, s.Len())
}

func TestAbortiveShutdown(t *testing.T) {
	s := New(nil)
	fd := newSocket(t)
	s.Add(fd)

	s.Shutdown(true)
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Close(fd))
}
