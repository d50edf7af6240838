package attachment

// errors.go defines the error taxonomy for the upload pipeline.
//
// ValidationError is resolved locally before any request is dispatched.
// TransferError wraps a network or server failure mid-transfer.
// ErrCanceled marks a user-initiated cancellation; it is never surfaced to
// the user as a failure.
// BindingError reports a non-fatal failure to attach a derived record.

import (
	"errors"
	"fmt"
)

// ErrCanceled is returned by the transport when a transfer is stopped by the
// session's mediator. Callers must swallow it silently at resolution time.
var ErrCanceled = errors.New("upload canceled")

// ValidationError reports a file rejected before transfer, such as one
// exceeding the effective size cap or failing the accept patterns.
type ValidationError struct {
	Field   string // field name the upload targeted
	File    string // file name
	Message string // human-readable reason
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Field, e.File, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// TransferError reports a network or server failure during transfer.
// It is terminal for the file; there is no automatic retry.
type TransferError struct {
	Op     string // "upload", "chunk"
	Status int    // HTTP status, 0 for transport-level failures
	Err    error
}

func (e *TransferError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// BindingError reports that the server rejected attaching a derived record.
// It is surfaced as a notice; the rest of the binding proceeds.
type BindingError struct {
	RecordID string
	Err      error
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("bind attachments for record %s: %v", e.RecordID, e.Err)
}

func (e *BindingError) Unwrap() error { return e.Err }
