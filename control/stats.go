// File: control/stats.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime counters for listener monitoring. StatsCollector plugs into
// the listener as its connection-event observer and exposes a
// snapshot map for telemetry export.

package control

import (
	"net"
	"syscall"

	"go.uber.org/atomic"

	"github.com/momentics/hioload-listen/api"
)

// StatsCollector counts connection-level and backoff events. All
// counters are atomics: events arrive from the listener loop and from
// consumer loops concurrently, and Snapshot may be called from
// anywhere.
type StatsCollector struct {
	Accepted     atomic.Uint64
	Enqueued     atomic.Uint64
	Dequeued     atomic.Uint64
	Dropped      atomic.Uint64
	AcceptErrors atomic.Uint64
	Backoffs     atomic.Uint64
	BackoffEnds  atomic.Uint64
	BackoffFails atomic.Uint64
}

var _ api.ConnectionEventCallback = (*StatsCollector)(nil)

// NewStatsCollector creates a zeroed collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{}
}

func (s *StatsCollector) OnConnectionAccepted(fd int, peer net.Addr) {
	s.Accepted.Inc()
}

func (s *StatsCollector) OnConnectionEnqueuedForAcceptorCallback(fd int, peer net.Addr) {
	s.Enqueued.Inc()
}

func (s *StatsCollector) OnConnectionDequeuedByAcceptorCallback(fd int, peer net.Addr) {
	s.Dequeued.Inc()
}

func (s *StatsCollector) OnConnectionDropped(fd int, peer net.Addr, reason string) {
	s.Dropped.Inc()
}

func (s *StatsCollector) OnConnectionAcceptError(errno syscall.Errno) {
	s.AcceptErrors.Inc()
}

func (s *StatsCollector) OnBackoffStarted() { s.Backoffs.Inc() }
func (s *StatsCollector) OnBackoffEnded()   { s.BackoffEnds.Inc() }
func (s *StatsCollector) OnBackoffError()   { s.BackoffFails.Inc() }

// Snapshot returns the current counter values keyed for telemetry
// export.
func (s *StatsCollector) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"connections_accepted": s.Accepted.Load(),
		"connections_enqueued": s.Enqueued.Load(),
		"connections_dequeued": s.Dequeued.Load(),
		"connections_dropped": s.Dropped.Load(),
		"accept_errors": s.AcceptErrors.Load(),
		"backoffs_started": s.Backoffs.Load(),
		"backoffs_ended": s.BackoffEnds.Load(),
		"backoff_arm_failures": s.BackoffFails.Load(),
	}
}
