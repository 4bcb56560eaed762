// File: reactor/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package reactor implements api.EventLoop: a single-goroutine event
// loop multiplexing descriptor readiness, cross-thread task posting and
// one-shot timers. The Linux backend is epoll with an eventfd wakeup;
// other platforms compile against a stub that fails at construction.
package reactor
