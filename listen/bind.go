// File: listen/bind.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Binding: pre-created descriptors, single-address, per-IP and the
// dual-stack wildcard path with its same-port retry dance.

package listen

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/flowchartsman/retry"
	"go.uber.org/zap"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/internal/sockopt"
)

// IPIfPair names an address together with the interface to bind it on.
type IPIfPair struct {
	IP     net.IP
	IfName string
}

// UseExistingSockets adopts pre-bound descriptors. Fails if the
// listener already has sockets. Adopted descriptors are configured
// like freshly created ones but are never closed on setup failure,
// since the listener does not own their creation.
func (l *Listener) UseExistingSockets(fds []int) error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	if len(l.sockets) > 0 {
		return api.ErrSocketsPresent
	}
	for _, fd := range fds {
		family, err := sockopt.Family(fd)
		if err != nil {
			return api.NewError("getsockopt", errnoOf(err), "SO_DOMAIN on existing socket")
		}
		if err := l.setupSocket(fd, family); err != nil {
			return err
		}
		l.sockets = append(l.sockets, &socketHandle{fd: fd, family: family, lst: l})
	}
	return nil
}

// Bind binds one address, creating a socket or reusing a single
// pre-installed one.
func (l *Listener) Bind(addr net.Addr) error {
	return l.bindInternal(addr, "")
}

// BindToDevice is Bind plus SO_BINDTODEVICE on the named interface.
func (l *Listener) BindToDevice(addr net.Addr, ifName string) error {
	return l.bindInternal(addr, ifName)
}

func (l *Listener) bindInternal(addr net.Addr, ifName string) error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	family, err := sockopt.AddrFamily(addr)
	if err != nil {
		return api.NewError("bind", errnoOf(err), "unsupported address type")
	}

	var fd int
	existing := false
	switch {
	case len(l.sockets) == 0:
		if fd, err = l.createSocket(family); err != nil {
			return err
		}
	case len(l.sockets) == 1:
		if family != l.sockets[0].family {
			return api.ErrFamilyMismatch
		}
		fd = l.sockets[0].fd
		existing = true
	default:
		return api.ErrMultipleSockets
	}

	return l.bindFD(fd, family, existing, ifName, func() error {
		return sockopt.BindNetAddr(fd, addr)
	})
}

// BindIPs binds one socket per IP, all on the same port.
func (l *Listener) BindIPs(ips []net.IP, port int) error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	if len(ips) == 0 {
		return api.ErrNoAddresses
	}
	for _, ip := range ips {
		if err := l.bindOneIP(ip, "", port); err != nil {
			return err
		}
	}
	if len(l.sockets) == 0 {
		return api.ErrNoSockets
	}
	return nil
}

// BindPairs binds one socket per (IP, interface) pair on the same port.
func (l *Listener) BindPairs(pairs []IPIfPair, port int) error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	if len(pairs) == 0 {
		return api.ErrNoAddresses
	}
	for _, p := range pairs {
		if err := l.bindOneIP(p.IP, p.IfName, port); err != nil {
			return err
		}
	}
	if len(l.sockets) == 0 {
		return api.ErrNoSockets
	}
	return nil
}

func (l *Listener) bindOneIP(ip net.IP, ifName string, port int) error {
	family := sockopt.AFInet6
	if ip.To4() != nil {
		family = sockopt.AFInet
	}
	fd, err := l.createSocket(family)
	if err != nil {
		return err
	}
	return l.bindFD(fd, family, false, ifName, func() error {
		return sockopt.BindNetAddr(fd, &net.TCPAddr{IP: ip, Port: port})
	})
}

// BindPort binds the dual-stack wildcard. IPv6 binds first; with
// port 0, the kernel-assigned IPv6 port is reused for IPv4. When that
// port turns out to be taken on IPv4, everything is closed and the
// whole dance restarts, up to BindPortMaxRetries times.
func (l *Listener) BindPort(port int) error {
	if err := l.checkLoop(); err != nil {
		return err
	}
	effPort := port
	r := retry.NewRetrier(BindPortMaxRetries, 0, 0)
	err := r.Run(func() error {
		if err := l.bindWildcard(sockopt.AFInet6, effPort); err != nil {
			return retry.Stop(err)
		}
		if port == 0 && len(l.sockets) == 1 {
			addr, err := sockopt.LocalAddr(l.sockets[0].fd)
			if err != nil {
				return retry.Stop(api.NewError("getsockname", errnoOf(err), "reading back wildcard port"))
			}
			if tcp, ok := addr.(*net.TCPAddr); ok {
				effPort = tcp.Port
			}
		}
		if err := l.bindWildcard(sockopt.AFInet, effPort); err != nil {
			if port == 0 && len(l.sockets) > 0 {
				// The ephemeral port the kernel picked for IPv6 is taken
				// on IPv4. Start over with a fresh one.
				l.log.Debug("wildcard port unavailable on IPv4, rebinding",
					zap.Int("port", effPort))
				l.closeAllSockets()
				effPort = 0
				return err
			}
			return retry.Stop(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(l.sockets) == 0 {
		return api.ErrNoSockets
	}
	return nil
}

// bindWildcard creates, configures and binds one wildcard socket.
// A family the kernel does not support is skipped silently.
func (l *Listener) bindWildcard(family, port int) error {
	fd, err := sockopt.Create(family)
	if err != nil {
		if errors.Is(err, syscall.EAFNOSUPPORT) {
			return nil
		}
		return api.NewError("socket", errnoOf(err), "error creating async server socket")
	}
	if err := l.setupSocket(fd, family); err != nil {
		_ = sockopt.Close(fd)
		return err
	}
	if family == sockopt.AFInet6 {
		// Keep the IPv6 wildcard from also claiming IPv4 traffic; the
		// separate IPv4 socket handles that.
		if err := sockopt.SetV6Only(fd); err != nil {
			l.closeSocket(fd)
			return api.NewError("setsockopt", errnoOf(err), "IPV6_V6ONLY")
		}
	}
	if err := sockopt.BindWildcard(fd, family, port); err != nil {
		l.closeSocket(fd)
		return api.NewError("bind", errnoOf(err),
			fmt.Sprintf("failed to bind to async server socket for port %d", port))
	}
	l.sockets = append(l.sockets, &socketHandle{fd: fd, family: family, lst: l})
	return nil
}

// bindFD finishes a bind: optional device pinning, the bind itself,
// and handle installation. Descriptors the listener created are closed
// on failure; adopted ones are left alone.
func (l *Listener) bindFD(fd, family int, existing bool, ifName string, doBind func() error) error {
	if ifName != "" {
		if err := sockopt.SetBindToDevice(fd, ifName); err != nil {
			if !existing {
				l.closeSocket(fd)
			}
			return api.NewError("setsockopt", errnoOf(err), "failed to bind to device: "+ifName)
		}
	}
	if err := doBind(); err != nil && !errors.Is(err, syscall.EINPROGRESS) {
		if !existing {
			l.closeSocket(fd)
		}
		return api.NewError("bind", errnoOf(err), "failed to bind to async server socket")
	}
	if !existing {
		l.sockets = append(l.sockets, &socketHandle{fd: fd, family: family, lst: l})
	}
	return nil
}

// createSocket opens and configures a socket; setup failures close it.
func (l *Listener) createSocket(family int) (int, error) {
	fd, err := sockopt.Create(family)
	if err != nil {
		return -1, api.NewError("socket", errnoOf(err), "error creating async server socket")
	}
	if err := l.setupSocket(fd, family); err != nil {
		_ = sockopt.Close(fd)
		return -1, err
	}
	return fd, nil
}

// setupSocket applies every configured option pre-bind, so they take
// effect before the kernel allocates the port. Options folly treats as
// advisory are logged and skipped on failure; the rest are fatal.
func (l *Listener) setupSocket(fd, family int) error {
	if err := sockopt.SetNonblock(fd); err != nil {
		return api.NewError("fcntl", errnoOf(err), "failed to put socket in non-blocking mode")
	}
	// AF_UNIX does not support SO_REUSEADDR.
	if family != sockopt.AFUnix && l.reuseAddr {
		if err := sockopt.SetReuseAddr(fd, true); err != nil {
			l.log.Error("failed to set SO_REUSEADDR on async server socket", zap.Error(err))
		}
	}
	if l.reusePort {
		if err := sockopt.SetReusePort(fd, true); err != nil {
			l.log.Error("failed to set SO_REUSEPORT on async server socket", zap.Error(err))
			return api.NewError("setsockopt", errnoOf(err), "failed to set SO_REUSEPORT")
		}
	}
	if err := sockopt.SetKeepAlive(fd, l.keepAlive); err != nil {
		l.log.Error("failed to set SO_KEEPALIVE on async server socket", zap.Error(err))
	}
	if l.closeOnExec {
		if err := sockopt.SetCloseOnExec(fd); err != nil {
			l.log.Error("failed to set FD_CLOEXEC on async server socket", zap.Error(err))
		}
	}
	if family != sockopt.AFUnix && family != sockopt.AFVsock {
		if err := sockopt.SetNoDelay(fd, true); err != nil {
			l.log.Error("failed to set TCP_NODELAY on async server socket", zap.Error(err))
		}
	}
	if l.tfo && family != sockopt.AFUnix {
		if err := sockopt.SetFastOpen(fd, l.tfoMaxQueue); err != nil {
			l.log.Warn("failed to set TCP_FASTOPEN on async server socket", zap.Error(err))
		}
	}
	if l.zeroCopy {
		if err := sockopt.SetZeroCopy(fd, true); err != nil {
			l.log.Warn("failed to set SO_ZEROCOPY on async server socket", zap.Error(err))
		}
	}
	if l.ipFreebind && family != sockopt.AFUnix {
		if err := sockopt.SetIPFreebind(fd, true); err != nil {
			l.log.Error("failed to set IP_FREEBIND on async server socket", zap.Error(err))
		}
	}
	if l.tosReflect && family != sockopt.AFUnix {
		if err := sockopt.SetSaveSyn(fd, true); err != nil {
			return api.NewError("setsockopt", errnoOf(err), "failed to enable TOS reflect")
		}
	}
	if l.shutdownSet != nil {
		l.shutdownSet.Add(fd)
	}
	return nil
}

// closeSocket closes one descriptor, through the shutdown set when it
// was registered there.
func (l *Listener) closeSocket(fd int) {
	if l.shutdownSet != nil {
		_ = l.shutdownSet.Close(fd)
		return
	}
	_ = sockopt.Close(fd)
}

// closeAllSockets releases every bound socket.
func (l *Listener) closeAllSockets() {
	for _, h := range l.sockets {
		h.unregister()
		l.closeSocket(h.fd)
	}
	l.sockets = l.sockets[:0]
}
