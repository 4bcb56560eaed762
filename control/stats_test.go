// File: control/stats_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"net"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsCollectorCounts(t *testing.T) {
	s := NewStatsCollector()
	peer := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242}

	s.OnConnectionAccepted(3, peer)
	s.OnConnectionAccepted(4, peer)
	s.OnConnectionEnqueuedForAcceptorCallback(3, peer)
	s.OnConnectionDequeuedByAcceptorCallback(3, peer)
	s.OnConnectionDropped(4, peer, "rate limited")
	s.OnConnectionAcceptError(syscall.EMFILE)
	s.OnBackoffStarted()
	s.OnBackoffEnded()
	s.OnBackoffError()

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap["connections_accepted"])
	assert.Equal(t, uint64(1), snap["connections_enqueued"])
	assert.Equal(t, uint64(1), snap["connections_dequeued"])
	assert.Equal(t, uint64(1), snap["connections_dropped"])
	assert.Equal(t, uint64(1), snap["accept_errors"])
	assert.Equal(t, uint64(1), snap["backoffs_started"])
	assert.Equal(t, uint64(1), snap["backoffs_ended"])
	assert.Equal(t, uint64(1), snap["backoff_arm_failures"])
}

func TestStatsCollectorConcurrent(t *testing.T) {
	s := NewStatsCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.OnConnectionAccepted(0, nil)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8000), s.Snapshot()["connections_accepted"])
}
