// Package storage persists attachment records and their payloads for the
// upload endpoint. Two implementations exist: an in-memory store used by
// tests and the demo server, and a Postgres-backed store for deployments.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no attachment exists for the given id.
var ErrNotFound = errors.New("attachment not found")

// ErrBadOffset is returned when a chunk's offset does not match the bytes
// already stored. Chunks for one attachment arrive strictly in order.
var ErrBadOffset = errors.New("chunk offset does not match stored length")

// Record is one persisted attachment's metadata.
type Record struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Size        int64     `json:"size"`
	Role        string    `json:"role,omitempty"`
	Field       string    `json:"field,omitempty"`
	ParentType  string    `json:"parentType,omitempty"`
	RelatedType string    `json:"relatedType,omitempty"`
	ParentID    string    `json:"parentId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Complete reports whether every declared byte has been stored.
func (r Record) Complete(stored int64) bool {
	return stored >= r.Size
}

// Store persists attachments. Implementations must be safe for concurrent
// use.
type Store interface {
	// Create stores a new record with its initial content, which may be the
	// whole payload or only the first chunk. A record with an empty ID gets
	// one assigned; the stored record is returned.
	Create(ctx context.Context, rec Record, content []byte) (Record, error)

	// AppendChunk appends a chunk at the given offset. The offset must equal
	// the number of bytes already stored, otherwise ErrBadOffset.
	AppendChunk(ctx context.Context, id string, offset int64, chunk []byte) (Record, error)

	// Get returns a record's metadata.
	Get(ctx context.Context, id string) (Record, error)

	// Content returns a record's stored payload.
	Content(ctx context.Context, id string) ([]byte, error)

	// StoredBytes returns how many payload bytes are held for id.
	StoredBytes(ctx context.Context, id string) (int64, error)

	// Delete removes a record and its payload. Deleting an absent record
	// returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// ListForRecord returns the attachments linked to a parent record,
	// oldest first.
	ListForRecord(ctx context.Context, recordID string) ([]Record, error)
}

func newID() string {
	return uuid.NewString()
}
