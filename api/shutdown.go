// File: api/shutdown.go
// Package api defines the process-wide socket shutdown registry contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown unifies teardown across components.
type GracefulShutdown interface {
	// Shutdown stops internal services and releases resources.
	Shutdown() error
}

// ShutdownSocketSet is a process-wide registry of listening descriptors
// that enables centralized teardown during shutdown. Writers hold the
// set loosely: every descriptor added must later be removed or closed
// through the set exactly once.
type ShutdownSocketSet interface {
	// Add registers fd with the set.
	Add(fd int)

	// Remove forgets fd without closing it.
	Remove(fd int)

	// Close removes fd from the set and closes it.
	Close(fd int) error

	// Shutdown sweeps every registered descriptor: graceful shutdown(2)
	// when abortive is false, reset-on-close otherwise. Descriptors stay
	// registered so their owners can still Close them.
	Shutdown(abortive bool)
}
