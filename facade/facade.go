// File: facade/facade.go
// Unified facade layer for hioload-listen.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// This file defines the Server struct, which aggregates the core
// components behind a single facade: an owned event loop goroutine, a
// Listener bound per configuration, and a stats collector wired in as
// the connection-event observer. The facade exposes methods to add and
// remove consumers, read bound addresses and runtime counters, and to
// shut everything down in one call.

package facade

import (
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/control"
	"github.com/momentics/hioload-listen/listen"
	"github.com/momentics/hioload-listen/reactor"
)

// Config holds parameters immutable per run.
type Config struct {
	Addr            net.Addr      // explicit bind address; nil selects the dual-stack wildcard
	Port            int           // wildcard port when Addr is nil; 0 asks the kernel
	Backlog         int           // listen(2) backlog
	MaxAcceptAtOnce uint32        // accepts per readable notification
	MaxQueueLen     uint32        // per-consumer notification queue bound
	QueueTimeout    time.Duration // per-message queue deadline; 0 disables
	ReusePort       bool          // SO_REUSEPORT on the listening sockets
	Logger          *zap.Logger   // nil discards diagnostics
	ShutdownSet     api.ShutdownSocketSet
}

// DefaultConfig returns defaults good enough to serve on an ephemeral
// wildcard port.
func DefaultConfig() *Config {
	return &Config{
		Backlog:         1024,
		MaxAcceptAtOnce: listen.DefaultMaxAcceptAtOnce,
		MaxQueueLen:     listen.DefaultMaxMessagesInQueue,
	}
}

// Server is the facade type: one accept loop plus its listener.
type Server struct {
	loop     *reactor.EventLoop
	listener *listen.Listener
	stats    *control.StatsCollector

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*Server)(nil)

// New builds the stack: event loop goroutine, listener, bind, listen,
// accepting intent. Consumers attach afterwards with AddConsumer.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	loop, err := reactor.New(reactor.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	s := &Server{
		loop:  loop,
		stats: control.NewStatsCollector(),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = loop.Run()
	}()

	var setupErr error
	err = loop.RunSync(func() {
		l := listen.New(loop,
			listen.WithLogger(logger),
			listen.WithConnectionEvents(s.stats),
			listen.WithShutdownSocketSet(cfg.ShutdownSet),
		)
		if cfg.MaxAcceptAtOnce > 0 {
			l.SetMaxAcceptAtOnce(cfg.MaxAcceptAtOnce)
		}
		if cfg.MaxQueueLen > 0 {
			l.SetMaxNumMessagesInQueue(cfg.MaxQueueLen)
		}
		l.SetQueueTimeout(cfg.QueueTimeout)
		if cfg.ReusePort {
			if setupErr = l.SetReusePort(true); setupErr != nil {
				return
			}
		}
		if cfg.Addr != nil {
			setupErr = l.Bind(cfg.Addr)
		} else {
			setupErr = l.BindPort(cfg.Port)
		}
		if setupErr != nil {
			return
		}
		backlog := cfg.Backlog
		if backlog <= 0 {
			backlog = 1024
		}
		if setupErr = l.Listen(backlog); setupErr != nil {
			return
		}
		if setupErr = l.StartAccepting(); setupErr != nil {
			return
		}
		s.listener = l
	})
	if err == nil {
		err = setupErr
	}
	if err != nil {
		_ = loop.Stop()
		s.wg.Wait()
		return nil, err
	}
	return s, nil
}

// AddConsumer registers an accept callback. A nil loop runs it inline
// on the accept loop.
func (s *Server) AddConsumer(cb api.AcceptCallback, loop api.EventLoop, maxAtOnce uint32) error {
	var opErr error
	err := s.loop.RunSync(func() {
		opErr = s.listener.AddAcceptCallback(cb, loop, maxAtOnce)
	})
	return multierr.Combine(err, opErr)
}

// RemoveConsumer unregisters a previously added accept callback.
func (s *Server) RemoveConsumer(cb api.AcceptCallback, loop api.EventLoop) error {
	var opErr error
	err := s.loop.RunSync(func() {
		opErr = s.listener.RemoveAcceptCallback(cb, loop)
	})
	return multierr.Combine(err, opErr)
}

// Addr reports the first bound address.
func (s *Server) Addr() (net.Addr, error) {
	var addr net.Addr
	var opErr error
	if err := s.loop.RunSync(func() { addr, opErr = s.listener.Addr() }); err != nil {
		return nil, err
	}
	return addr, opErr
}

// Addrs reports every bound address in bind order.
func (s *Server) Addrs() ([]net.Addr, error) {
	var addrs []net.Addr
	var opErr error
	if err := s.loop.RunSync(func() { addrs, opErr = s.listener.Addrs() }); err != nil {
		return nil, err
	}
	return addrs, opErr
}

// Loop exposes the accept loop, for callers that want co-located
// consumers or timers.
func (s *Server) Loop() api.EventLoop { return s.loop }

// Stats returns a snapshot of the runtime counters.
func (s *Server) Stats() map[string]uint64 { return s.stats.Snapshot() }

// Shutdown destroys the listener and stops the accept loop. Safe to
// call once; later calls are no-ops.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	var opErr error
	runErr := s.loop.RunSync(func() {
		opErr = s.listener.Destroy()
	})
	stopErr := s.loop.Stop()
	s.wg.Wait()
	return multierr.Combine(runErr, opErr, stopErr)
}
