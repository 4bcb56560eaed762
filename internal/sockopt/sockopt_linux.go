// File: internal/sockopt/sockopt_linux.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux implementation of the socket plumbing used by the listener.

package sockopt

import (
	"encoding/binary"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Address families re-exported so callers stay free of platform
// imports.
const (
	AFInet  = unix.AF_INET
	AFInet6 = unix.AF_INET6
	AFUnix  = unix.AF_UNIX
	AFVsock = unix.AF_VSOCK
)

// Create opens a stream socket of the given address family.
func Create(family int) (int, error) {
	return unix.Socket(family, unix.SOCK_STREAM, 0)
}

// Close closes the descriptor, retrying on EINTR.
func Close(fd int) error {
	for {
		err := unix.Close(fd)
		if err != unix.EINTR {
			return err
		}
	}
}

// Shutdown calls shutdown(2) with the given how flags.
func Shutdown(fd, how int) error {
	return unix.Shutdown(fd, how)
}

// Accept pulls one connection off the kernel queue. The returned
// descriptor is non-blocking and close-on-exec.
func Accept(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

// Listen starts listening with the given backlog.
func Listen(fd, backlog int) error {
	return unix.Listen(fd, backlog)
}

// Bind binds fd to the given sockaddr.
func Bind(fd int, sa unix.Sockaddr) error {
	return unix.Bind(fd, sa)
}

// SetNonblock puts the descriptor in non-blocking mode.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

// SetCloseOnExec sets FD_CLOEXEC on the descriptor.
func SetCloseOnExec(fd int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
	return err
}

func boolToInt(on bool) int {
	if on {
		return 1
	}
	return 0
}

// SetReuseAddr toggles SO_REUSEADDR.
func SetReuseAddr(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on))
}

// SetReusePort toggles SO_REUSEPORT.
func SetReusePort(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(on))
}

// SetKeepAlive toggles SO_KEEPALIVE.
func SetKeepAlive(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(on))
}

// SetNoDelay toggles TCP_NODELAY.
func SetNoDelay(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on))
}

// SetFastOpen enables TCP_FASTOPEN with the given pending-SYN queue
// length.
func SetFastOpen(fd, qlen int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_FASTOPEN, qlen)
}

// SetZeroCopy toggles SO_ZEROCOPY.
func SetZeroCopy(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ZEROCOPY, boolToInt(on))
}

// SetIPFreebind toggles IP_FREEBIND.
func SetIPFreebind(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_FREEBIND, boolToInt(on))
}

// SetV6Only restricts an AF_INET6 socket to IPv6 traffic.
func SetV6Only(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
}

// SetSaveSyn asks the kernel to retain the SYN packet of accepted
// connections for later retrieval via TCP_SAVED_SYN.
func SetSaveSyn(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_SAVE_SYN, boolToInt(on))
}

// SetBindToDevice binds the socket to a network interface.
func SetBindToDevice(fd int, ifName string) error {
	return unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifName)
}

// SetTOS sets the type-of-service / traffic-class byte on the socket.
func SetTOS(fd, family int, tos int) error {
	if family == unix.AF_INET6 {
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos)
}

// SetLingerZero arranges reset-on-close for abortive teardown.
func SetLingerZero(fd int) error {
	return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
}

// ReflectTOS reads the saved SYN of an accepted connection and copies
// its DSCP bits onto the connection socket, so replies carry the class
// of service the client asked for. family is the listening socket's
// address family.
func ReflectTOS(connFd, family int) error {
	// Raw getsockopt: the saved SYN is a binary packet, so the string
	// helpers (which stop at NUL bytes) cannot carry it.
	var buf [256]byte
	optLen := uint32(len(buf))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(connFd), unix.IPPROTO_TCP, unix.TCP_SAVED_SYN,
		uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&optLen)), 0)
	if errno != 0 {
		return errno
	}
	if optLen < 4 {
		return unix.EINVAL
	}
	word := binary.BigEndian.Uint32(buf[:4])
	var tos uint32
	if family == unix.AF_INET6 {
		tos = (word & 0x0FC00000) >> 20
	} else {
		tos = (word & 0x00FC0000) >> 16
	}
	if tos == 0 {
		return nil
	}
	return SetTOS(connFd, family, int(tos))
}

// Family returns the address family the descriptor was created with.
func Family(fd int) (int, error) {
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_DOMAIN)
}

// IncomingNapiID returns the NIC receive-queue identity the connection
// arrived on, or -1 when unavailable.
func IncomingNapiID(fd int) int {
	id, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_INCOMING_NAPI_ID)
	if err != nil || id == 0 {
		return -1
	}
	return id
}

// LocalAddr reports the local address the descriptor is bound to.
func LocalAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, err
	}
	return SockaddrToAddr(sa), nil
}

// SockaddrToAddr converts a kernel-filled sockaddr into a net.Addr.
func SockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port, Zone: zoneOf(sa.ZoneId)}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: sa.Name, Net: "unix"}
	default:
		return nil
	}
}

func zoneOf(zoneID uint32) string {
	if zoneID == 0 {
		return ""
	}
	ifi, err := net.InterfaceByIndex(int(zoneID))
	if err != nil {
		return ""
	}
	return ifi.Name
}

// AddrToSockaddr converts a net.Addr into the family and sockaddr to
// bind with. TCP addresses with a 4-byte IP map to AF_INET, everything
// else to AF_INET6; unix addresses map to AF_UNIX.
func AddrToSockaddr(addr net.Addr) (int, unix.Sockaddr, error) {
	switch addr := addr.(type) {
	case *net.TCPAddr:
		if ip4 := addr.IP.To4(); ip4 != nil {
			sa := &unix.SockaddrInet4{Port: addr.Port}
			copy(sa.Addr[:], ip4)
			return unix.AF_INET, sa, nil
		}
		sa := &unix.SockaddrInet6{Port: addr.Port}
		if addr.IP != nil {
			copy(sa.Addr[:], addr.IP.To16())
		}
		return unix.AF_INET6, sa, nil
	case *net.UnixAddr:
		return unix.AF_UNIX, &unix.SockaddrUnix{Name: addr.Name}, nil
	default:
		return 0, nil, unix.EAFNOSUPPORT
	}
}

// AcceptConn accepts one connection and converts the kernel-filled
// sockaddr into a net.Addr. The returned descriptor is non-blocking and
// close-on-exec.
func AcceptConn(fd int) (int, net.Addr, error) {
	nfd, sa, err := Accept(fd)
	if err != nil {
		return -1, nil, err
	}
	return nfd, SockaddrToAddr(sa), nil
}

// AddrFamily reports the address family a net.Addr would bind with.
func AddrFamily(addr net.Addr) (int, error) {
	family, _, err := AddrToSockaddr(addr)
	return family, err
}

// BindNetAddr binds fd to the given net.Addr.
func BindNetAddr(fd int, addr net.Addr) error {
	_, sa, err := AddrToSockaddr(addr)
	if err != nil {
		return err
	}
	return unix.Bind(fd, sa)
}

// BindWildcard binds fd to the wildcard address of the family at the
// given port.
func BindWildcard(fd, family, port int) error {
	sa, err := TCPSockaddr(nil, port, family)
	if err != nil {
		return err
	}
	return unix.Bind(fd, sa)
}

// TCPSockaddr builds a sockaddr for the given IP, port and family.
// A nil IP yields the wildcard address of that family.
func TCPSockaddr(ip net.IP, port, family int) (unix.Sockaddr, error) {
	if family == unix.AF_INET {
		sa := &unix.SockaddrInet4{Port: port}
		if ip != nil {
			ip4 := ip.To4()
			if ip4 == nil {
				return nil, unix.EAFNOSUPPORT
			}
			copy(sa.Addr[:], ip4)
		}
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: port}
	if ip != nil {
		copy(sa.Addr[:], ip.To16())
	}
	return sa, nil
}
