// File: listen/ratelimit_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unit coverage for the adaptive accept-rate limiter.

package listen

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcceptRateRecoversToOne(t *testing.T) {
	l := New(nil)
	l.SetAcceptRate(0.05)
	l.SetAcceptRateAdjustSpeed(1.0)

	// Two seconds since the previous accept is plenty for full recovery
	// at this adjust speed.
	l.lastAcceptTime = time.Now().Add(-2 * time.Second)
	dropped := l.stepRateLimiter(-1, nil, false)
	assert.False(t, dropped)
	assert.Equal(t, 1.0, l.AcceptRate())
}

func TestAcceptRateRecoveryIsGradual(t *testing.T) {
	l := New(nil)
	l.rng = rand.New(rand.NewSource(7))
	l.SetAcceptRate(0.5)
	l.SetAcceptRateAdjustSpeed(0.001)

	l.lastAcceptTime = time.Now().Add(-100 * time.Millisecond)
	l.stepRateLimiter(-1, nil, false)
	// rate *= 1 + 0.001*100 = 1.1x
	assert.InDelta(t, 0.55, l.AcceptRate(), 0.01)
	assert.Less(t, l.AcceptRate(), 1.0)
}

func TestVanishingAcceptRateDropsConnections(t *testing.T) {
	l := New(nil)
	events := newTestEvents()
	l.events = events
	l.SetAcceptRate(1e-12)

	// With adjust speed zero the rate never recovers, so the draw loses
	// for any realistic rng output.
	dropped := l.stepRateLimiter(-1, nil, false)
	assert.True(t, dropped)
	assert.Equal(t, uint64(1), l.NumDroppedConnections())
	// No descriptor to close or report for a failed accept.
	assert.Empty(t, events.drops())
}

func TestFullRateSkipsTheDraw(t *testing.T) {
	l := New(nil)
	for i := 0; i < 100; i++ {
		assert.False(t, l.stepRateLimiter(-1, nil, false))
	}
	assert.Zero(t, l.NumDroppedConnections())
}

func TestSetAcceptRateRejectsOutOfRange(t *testing.T) {
	l := New(nil)
	l.SetAcceptRate(0)
	assert.Equal(t, 1.0, l.AcceptRate())
	l.SetAcceptRate(1.5)
	assert.Equal(t, 1.0, l.AcceptRate())
	l.SetAcceptRate(0.25)
	assert.Equal(t, 0.25, l.AcceptRate())
}
