// File: listen/bind_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Binding behavior: dual-stack wildcard, per-IP binds, unix sockets.

package listen

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dynaport "github.com/travisjeffery/go-dynaport"

	"github.com/momentics/hioload-listen/api"
)

func TestBindPortDualStackEphemeral(t *testing.T) {
	el := startLoop(t)
	l := New(el)

	runL(t, el, func() {
		assert.NoError(t, l.BindPort(0))
	})
	t.Cleanup(func() { runL(t, el, func() { _ = l.Destroy() }) })

	var addrs []net.Addr
	runL(t, el, func() {
		var err error
		addrs, err = l.Addrs()
		assert.NoError(t, err)
	})
	if len(addrs) < 2 {
		t.Skip("kernel exposes a single address family")
	}
	require.Len(t, addrs, 2)

	// IPv6 binds first; both stacks share the kernel-assigned port.
	first, ok := addrs[0].(*net.TCPAddr)
	require.True(t, ok)
	second, ok := addrs[1].(*net.TCPAddr)
	require.True(t, ok)
	assert.NotZero(t, first.Port)
	assert.Equal(t, first.Port, second.Port)
	assert.NotNil(t, first.IP.To16())
	assert.Nil(t, first.IP.To4())
	assert.NotNil(t, second.IP.To4())
}

func TestBindPortExplicit(t *testing.T) {
	el := startLoop(t)
	l := New(el)
	ports := dynaport.Get(1)
	require.Len(t, ports, 1)

	runL(t, el, func() {
		assert.NoError(t, l.BindPort(ports[0]))
	})
	t.Cleanup(func() { runL(t, el, func() { _ = l.Destroy() }) })

	var addr net.Addr
	runL(t, el, func() {
		var err error
		addr, err = l.Addr()
		assert.NoError(t, err)
	})
	tcp, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	assert.Equal(t, ports[0], tcp.Port)
}

func TestBindIPsRequiresAddresses(t *testing.T) {
	el := startLoop(t)
	l := New(el)
	runL(t, el, func() {
		assert.ErrorIs(t, l.BindIPs(nil, 0), api.ErrNoAddresses)
		assert.ErrorIs(t, l.BindPairs(nil, 0), api.ErrNoAddresses)
	})
}

func TestBindIPsOneSocketPerIP(t *testing.T) {
	el := startLoop(t)
	l := New(el)

	var bindErr error
	runL(t, el, func() {
		ips := []net.IP{net.IPv4(127, 0, 0, 1), net.ParseIP("::1")}
		bindErr = l.BindIPs(ips, 0)
	})
	t.Cleanup(func() { runL(t, el, func() { _ = l.Destroy() }) })
	if bindErr != nil {
		t.Skipf("dual-stack loopback unavailable: %v", bindErr)
	}

	runL(t, el, func() {
		assert.Len(t, l.sockets, 2)
	})
}

func TestBindUnixSocket(t *testing.T) {
	el := startLoop(t)
	l := New(el)
	cb := newTestConsumer()
	path := filepath.Join(t.TempDir(), "listen.sock")

	runL(t, el, func() {
		assert.NoError(t, l.Bind(&net.UnixAddr{Name: path, Net: "unix"}))
		assert.NoError(t, l.Listen(16))
		assert.NoError(t, l.AddAcceptCallback(cb, nil, 0))
		assert.NoError(t, l.StartAccepting())
	})
	t.Cleanup(func() { runL(t, el, func() { _ = l.Destroy() }) })

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	eventually(t, func() bool { return cb.connCount() == 1 }, "unix connection accepted")
}

func TestBindRejectsSecondAddressFamily(t *testing.T) {
	el := startLoop(t)
	l := New(el)

	runL(t, el, func() {
		assert.NoError(t, l.Bind(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}))
	})
	t.Cleanup(func() { runL(t, el, func() { _ = l.Destroy() }) })

	runL(t, el, func() {
		err := l.Bind(&net.TCPAddr{IP: net.ParseIP("::1")})
		assert.ErrorIs(t, err, api.ErrFamilyMismatch)
	})
}

func TestAddrWithoutSockets(t *testing.T) {
	l := New(nil)
	_, err := l.Addr()
	assert.ErrorIs(t, err, api.ErrNoSockets)
	_, err = l.Addrs()
	assert.ErrorIs(t, err, api.ErrNoSockets)
}
