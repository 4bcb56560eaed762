// File: api/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api defines the public contracts of hioload-listen: the event
// loop abstraction, accept callback surfaces, the bounded notification
// queue contract between the accept thread and consumer threads, the
// shutdown socket registry, and the shared error taxonomy.
//
// Implementations live in the reactor, listen and shutdownset packages.
// Embedders that already run their own event loop only need to satisfy
// EventLoop to plug into the listener.
package api
