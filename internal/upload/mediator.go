// Package upload implements the client side of the attachment pipeline:
// per-file upload sessions, the chunked HTTP transport, and the coordinator
// that fans out multi-file uploads and binds results into field state.
package upload

import "sync"

// Mediator is the cancellation handshake shared between the coordinator and
// an already-dispatched transport. The transport checks Canceled before each
// chunk dispatch; cancellation never aborts a request that is in flight, it
// only prevents further chunks and suppresses downstream effects.
type Mediator struct {
	mu       sync.Mutex
	canceled bool
}

// Cancel marks the transfer as canceled.
func (m *Mediator) Cancel() {
	m.mu.Lock()
	m.canceled = true
	m.mu.Unlock()
}

// Canceled reports whether Cancel has been called.
func (m *Mediator) Canceled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canceled
}
