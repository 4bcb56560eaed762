// File: listen/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package listen implements an asynchronous accepting socket on top of
// an api.EventLoop: multi-address binding (including dual-stack
// wildcard), a batched accept loop with adaptive rate limiting and
// descriptor-exhaustion backoff, and round-robin dispatch of accepted
// descriptors to registered consumers, each optionally running on its
// own event loop behind a bounded notification queue.
//
// All public mutators of a Listener must run on its event loop thread;
// use EventLoop.RunInLoop or RunSync to get there. Consumer callbacks
// run either inline on the listener loop (fast path) or on the
// consumer's loop after a queue hand-off.
package listen
