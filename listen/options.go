// File: listen/options.go
// Package listen defines tuning constants and functional options.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package listen

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-listen/api"
)

// Contract-visible tuning constants.
const (
	// DefaultMaxAcceptAtOnce bounds how many connections one readable
	// notification may accept, so a busy listening socket cannot starve
	// other work on the loop.
	DefaultMaxAcceptAtOnce uint32 = 30

	// DefaultCallbackAcceptAtOnce bounds how many queued connections a
	// consumer drains per loop wakeup.
	DefaultCallbackAcceptAtOnce uint32 = 10

	// DefaultMaxMessagesInQueue caps each consumer's notification queue.
	DefaultMaxMessagesInQueue uint32 = 1024

	// BackoffDuration is how long accepts stay unsubscribed after
	// descriptor exhaustion.
	BackoffDuration = 1000 * time.Millisecond

	// AcceptRateDecreaseStep is the multiplicative cut applied to the
	// accept rate each time a consumer queue rejects a hand-off, when the
	// accept-rate adjust speed is non-zero.
	AcceptRateDecreaseStep = 0.1

	// BindPortMaxRetries bounds the dual-stack ephemeral-port dance:
	// when the kernel assigns an IPv6 port that turns out to be taken
	// on IPv4, everything is closed and rebound from scratch.
	BindPortMaxRetries = 25
)

// Option customizes listener construction.
type Option func(*Listener)

// WithLogger attaches a logger. The default discards everything except
// the fatal path taken when accepts cannot be re-enabled after backoff.
func WithLogger(log *zap.Logger) Option {
	return func(l *Listener) {
		if log != nil {
			l.log = log
		}
	}
}

// WithConnectionEvents attaches an observer for connection-level and
// backoff events.
func WithConnectionEvents(cb api.ConnectionEventCallback) Option {
	return func(l *Listener) {
		l.events = cb
	}
}

// WithShutdownSocketSet registers every bound descriptor with set for
// centralized teardown.
func WithShutdownSocketSet(set api.ShutdownSocketSet) Option {
	return func(l *Listener) {
		l.shutdownSet = set
	}
}
