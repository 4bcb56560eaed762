// File: shutdownset/shutdownset.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide registry of listening descriptors for coordinated
// teardown. Listeners register every bound socket; a shutdown sweep
// then reaches all of them without each owner wiring its own hook.

package shutdownset

import (
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/internal/sockopt"
)

type fdState uint8

const (
	stateInUse fdState = iota
	stateShutdown
)

// Set implements api.ShutdownSocketSet. Each registered descriptor is
// removed or closed through the set exactly once; double closes are
// swallowed and logged.
type Set struct {
	mu  sync.Mutex
	fds map[int]fdState
	log *zap.Logger
}

var _ api.ShutdownSocketSet = (*Set)(nil)

// New creates an empty set. A nil logger disables diagnostics.
func New(log *zap.Logger) *Set {
	if log == nil {
		log = zap.NewNop()
	}
	return &Set{
		fds: make(map[int]fdState),
		log: log,
	}
}

// Add registers fd with the set.
func (s *Set) Add(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fds[fd]; ok {
		s.log.Warn("descriptor already registered", zap.Int("fd", fd))
		return
	}
	s.fds[fd] = stateInUse
}

// Remove forgets fd without closing it.
func (s *Set) Remove(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fds, fd)
}

// Close removes fd from the set and closes it. Closing a descriptor
// that was never registered, or was already closed through the set, is
// a no-op.
func (s *Set) Close(fd int) error {
	s.mu.Lock()
	_, ok := s.fds[fd]
	delete(s.fds, fd)
	s.mu.Unlock()
	if !ok {
		s.log.Warn("close of unregistered descriptor", zap.Int("fd", fd))
		return nil
	}
	return sockopt.Close(fd)
}

// Shutdown sweeps every registered descriptor. Graceful mode issues
// shutdown(2) so pending accepts drain with RST-free closes; abortive
// mode arranges reset-on-close first. Descriptors stay registered so
// their owners can still Close them.
func (s *Set) Shutdown(abortive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fd, st := range s.fds {
		if st == stateShutdown {
			continue
		}
		if abortive {
			if err := sockopt.SetLingerZero(fd); err != nil {
				s.log.Warn("linger setup failed", zap.Int("fd", fd), zap.Error(err))
			}
		}
		if err := sockopt.Shutdown(fd, shutRDWR); err != nil {
			s.log.Warn("shutdown failed", zap.Int("fd", fd), zap.Error(err))
		}
		s.fds[fd] = stateShutdown
	}
}

// Len reports the number of registered descriptors.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fds)
}
