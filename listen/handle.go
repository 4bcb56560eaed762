// File: listen/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// socketHandle is one bound descriptor and its readable registration.

package listen

// socketHandle ties a bound descriptor to the listener that owns it.
// The back-reference is only used while registered; registration is
// always torn down before the descriptor is closed.
type socketHandle struct {
	fd         int
	family     int
	lst        *Listener
	registered bool
}

// register subscribes the descriptor for persistent readable events on
// the listener's loop.
func (h *socketHandle) register() error {
	if h.registered {
		return nil
	}
	if err := h.lst.loop.RegisterRead(h.fd, h.onReadable); err != nil {
		return err
	}
	h.registered = true
	return nil
}

// unregister drops the readable subscription if present.
func (h *socketHandle) unregister() {
	if !h.registered {
		return
	}
	if h.lst.loop != nil {
		_ = h.lst.loop.UnregisterRead(h.fd)
	}
	h.registered = false
}

func (h *socketHandle) onReadable() {
	h.lst.handlerReady(h)
}
