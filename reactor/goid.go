// File: reactor/goid.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Goroutine identity, used to answer EventLoop.InLoop.

package reactor

import (
	"runtime"
	"strconv"
	"strings"
)

// goid returns the current goroutine id by parsing the stack header
// ("goroutine N [running]:"). Called once per loop start and on InLoop
// checks; not on any hot path.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if i := strings.IndexByte(s, ' '); i > 0 {
		if id, err := strconv.ParseInt(s[:i], 10, 64); err == nil {
			return id
		}
	}
	return -1
}
