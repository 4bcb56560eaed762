// File: shutdownset/shut_stub.go
//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shutdownset

const shutRDWR = 2
