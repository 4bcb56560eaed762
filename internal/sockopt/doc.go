// File: internal/sockopt/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package sockopt wraps the raw socket syscalls the listener is built
// on: descriptor creation, pre-bind option setup, bind/listen/accept4,
// sockaddr conversion and TOS reflection. Linux is the primary target;
// other platforms compile against stubs that report ErrNotSupported.
package sockopt
