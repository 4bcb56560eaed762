// File: shutdownset/shut_linux.go
//go:build linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shutdownset

import "golang.org/x/sys/unix"

const shutRDWR = unix.SHUT_RDWR
