// File: internal/sockopt/sockopt_stub.go
//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-Linux stubs. The listener requires the Linux implementation;
// these keep cross-platform builds compiling.

package sockopt

import (
	"net"

	"github.com/momentics/hioload-listen/api"
	"golang.org/x/sys/unix"
)

const (
	AFInet  = 2
	AFInet6 = 10
	AFUnix  = 1
	AFVsock = 40
)

func Create(family int) (int, error) { return -1, api.ErrNotSupported }
func Close(fd int) error { return api.ErrNotSupported }
func Shutdown(fd, how int) error { return api.ErrNotSupported }
func Accept(fd int) (int, unix.Sockaddr, error) { return -1, nil, api.ErrNotSupported }
func Listen(fd, backlog int) error { return api.ErrNotSupported }
func Bind(fd int, sa unix.Sockaddr) error { return api.ErrNotSupported }
func SetNonblock(fd int) error { return api.ErrNotSupported }
func SetCloseOnExec(fd int) error { return api.ErrNotSupported }
func SetReuseAddr(fd int, on bool) error { return api.ErrNotSupported }
func SetReusePort(fd int, on bool) error { return api.ErrNotSupported }
func SetKeepAlive(fd int, on bool) error { return api.ErrNotSupported }
func SetNoDelay(fd int, on bool) error { return api.ErrNotSupported }
func SetFastOpen(fd, qlen int) error { return api.ErrNotSupported }
func SetZeroCopy(fd int, on bool) error { return api.ErrNotSupported }
func SetIPFreebind(fd int, on bool) error { return api.ErrNotSupported }
func SetV6Only(fd int) error { return api.ErrNotSupported }
func SetSaveSyn(fd int, on bool) error { return api.ErrNotSupported }
func SetBindToDevice(fd int, ifName string) error { return api.ErrNotSupported }
func SetTOS(fd, family int, tos int) error { return api.ErrNotSupported }
func SetLingerZero(fd int) error { return api.ErrNotSupported }
func ReflectTOS(connFd, family int) error { return api.ErrNotSupported }
func Family(fd int) (int, error) { return 0, api.ErrNotSupported }
func IncomingNapiID(fd int) int { return -1 }
func LocalAddr(fd int) (net.Addr, error) { return nil, api.ErrNotSupported }
func SockaddrToAddr(sa unix.Sockaddr) net.Addr { return nil }

func AddrToSockaddr(addr net.Addr) (int, unix.Sockaddr, error) {
	return 0, nil, api.ErrNotSupported
}

func AcceptConn(fd int) (int, net.Addr, error) { return -1, nil, api.ErrNotSupported }
func AddrFamily(addr net.Addr) (int, error) { return 0, api.ErrNotSupported }
func BindNetAddr(fd int, addr net.Addr) error { return api.ErrNotSupported }
func BindWildcard(fd, family, port int) error { return api.ErrNotSupported }

func TCPSockaddr(ip net.IP, port, family int) (unix.Sockaddr, error) {
	return nil, api.ErrNotSupported
}
