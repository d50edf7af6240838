package upload

import (
	"io"
	"sync"

	"github.com/attachkit/attachkit/internal/attachment"
	"github.com/google/uuid"
)

// File is the client-side handle to a file selected or dropped by the user.
// Content is read sequentially; Size must be the exact byte length.
type File struct {
	Name    string
	Type    string
	Size    int64
	Content io.Reader
}

// State is the lifecycle state of an upload session.
type State string

const (
	StateIdle         State = "idle"
	StateValidating   State = "validating"
	StateTransferring State = "transferring"
	StateCompleted    State = "completed"
	StateCanceled     State = "canceled"
	StateFailed       State = "failed"
)

// Session tracks one in-flight file upload. It carries the client-local
// correlation id, the target attachment (identity unset until the remote
// store assigns it), the bytes-sent counter, and the mediator shared with
// the transport.
type Session struct {
	// ID is the client-local correlation id; it is not the attachment id.
	ID string

	File     File
	Mediator *Mediator

	mu         sync.Mutex
	state      State
	bytesSent  int64
	canceled   bool
	attachment *attachment.Attachment
}

// NewSession creates a session in the idle state for one file.
func NewSession(file File) *Session {
	return &Session{
		ID:       uuid.NewString(),
		File:     file,
		Mediator: &Mediator{},
		state:    StateIdle,
		attachment: &attachment.Attachment{
			Name: file.Name,
			Type: file.Type,
			Size: file.Size,
			Role: attachment.RoleAttachment,
		},
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// BytesSent returns the cumulative bytes confirmed by the remote endpoint.
func (s *Session) BytesSent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

// recordProgress stores the cumulative byte count reported by the transport.
// Counts are monotonically non-decreasing because chunk dispatch for one
// file is strictly sequential.
func (s *Session) recordProgress(n int64) {
	s.mu.Lock()
	if n > s.bytesSent {
		s.bytesSent = n
	}
	s.mu.Unlock()
}

// Cancel marks the session canceled and signals the shared mediator so the
// transport stops dispatching further chunks.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()
	s.Mediator.Cancel()
}

// Canceled reports whether the user canceled this session.
func (s *Session) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// adoptAttachment replaces the placeholder with the attachment the remote
// store persisted. Called by the coordinator once the transport reports an
// assigned identity.
func (s *Session) adoptAttachment(att *attachment.Attachment) {
	s.mu.Lock()
	s.attachment = att
	s.mu.Unlock()
}

// Attachment returns the session's target attachment.
func (s *Session) Attachment() *attachment.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachment
}
