// File: reactor/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One-shot timers that fire on the loop thread.

package reactor

import (
	"time"

	"go.uber.org/atomic"

	"github.com/momentics/hioload-listen/api"
)

// oneShotTimer trampolines a time.AfterFunc expiry back onto the loop
// thread. Cancellation is race-free with respect to the callback: the
// cancelled flag is re-checked on the loop thread right before fn runs,
// so a Cancel issued from the loop thread always wins.
type oneShotTimer struct {
	cancelled atomic.Bool
	fired     atomic.Bool
	timer     *time.Timer
}

var _ api.Timer = (*oneShotTimer)(nil)

func newOneShotTimer(el api.EventLoop, d time.Duration, fn func()) *oneShotTimer {
	t := &oneShotTimer{}
	t.timer = time.AfterFunc(d, func() {
		el.RunInLoop(func() {
			if t.cancelled.Load() {
				return
			}
			t.fired.Store(true)
			fn()
		})
	})
	return t
}

// Cancel stops the timer. Returns false when the callback already ran
// or the timer was already cancelled.
func (t *oneShotTimer) Cancel() bool {
	if t.cancelled.Swap(true) {
		return false
	}
	t.timer.Stop()
	return !t.fired.Load()
}
