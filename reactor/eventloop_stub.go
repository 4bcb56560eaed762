// File: reactor/eventloop_stub.go
//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-Linux stub. Construction fails; the type exists so dependent
// code compiles everywhere.

package reactor

import (
	"time"

	"github.com/momentics/hioload-listen/api"
)

// EventLoop is unavailable on this platform.
type EventLoop struct{}

var _ api.EventLoop = (*EventLoop)(nil)

// New reports that no poll backend exists for this platform.
func New(opts ...Option) (*EventLoop, error) {
	return nil, api.ErrNotSupported
}

func (el *EventLoop) Run() error { return api.ErrNotSupported }
func (el *EventLoop) Stop() error { return api.ErrNotSupported }

func (el *EventLoop) RegisterRead(fd int, h api.ReadHandler) error { return api.ErrNotSupported }
func (el *EventLoop) UnregisterRead(fd int) error { return api.ErrNotSupported }
func (el *EventLoop) RunInLoop(fn func()) {}
func (el *EventLoop) RunSync(fn func()) error { return api.ErrNotSupported }

func (el *EventLoop) ScheduleTimer(d time.Duration, fn func()) api.Timer {
	return newOneShotTimer(el, d, fn)
}

func (el *EventLoop) InLoop() bool { return false }
func (el *EventLoop) NapiID() int { return -1 }
