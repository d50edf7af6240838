// Package binder connects confirmed attachments to field state. It is the
// only writer of the field store: uploads, external-source selections, and
// user removals all funnel through it.
package binder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/attachkit/attachkit/internal/attachment"
	"github.com/attachkit/attachkit/internal/fieldstate"
)

// AttachmentEntityType is the entity kind of attachment records themselves.
// Records of this kind bind directly; anything else goes through the
// derive-attachments collaborator.
const AttachmentEntityType = "Attachment"

// RemoteClient is the slice of the storage API the binder needs.
type RemoteClient interface {
	DeriveAttachments(ctx context.Context, recordID string) ([]attachment.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error
}

// Record is an externally selected record offered as an attachment source.
type Record struct {
	ID         string
	EntityType string

	// Name and Type are meaningful only when EntityType is
	// AttachmentEntityType.
	Name string
	Type string
}

// Binder binds attachments into field state and unbinds them on removal.
type Binder struct {
	store  *fieldstate.Store
	remote RemoteClient
	logger *slog.Logger
}

// New creates a Binder writing to store. remote may be nil when no external
// source or orphan cleanup is needed, such as in offline tests.
func New(store *fieldstate.Store, remote RemoteClient, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{store: store, remote: remote, logger: logger}
}

// BindFromUpload commits a successfully uploaded attachment into the field.
// For single-value fields the new attachment replaces any previous value.
func (b *Binder) BindFromUpload(att *attachment.Attachment, field fieldstate.Field) {
	b.bind(att.ID, att.Name, att.Type, field)
}

// BindFromExternalSource binds the selected records into the field. Records
// of the attachment entity kind bind directly; for any other kind the
// derived attachment list is fetched from the remote store. Binding order
// follows selection order even though the fetches run concurrently.
//
// A record whose derivation fails is skipped and reported in the returned
// error; the remaining records still bind.
func (b *Binder) BindFromExternalSource(ctx context.Context, records []Record, field fieldstate.Field) error {
	derived := make([][]attachment.Attachment, len(records))
	failures := make([]error, len(records))

	g, gctx := errgroup.WithContext(ctx)
	for i, rec := range records {
		if rec.EntityType == AttachmentEntityType {
			derived[i] = []attachment.Attachment{{ID: rec.ID, Name: rec.Name, Type: rec.Type}}
			continue
		}
		if b.remote == nil {
			failures[i] = &attachment.BindingError{RecordID: rec.ID, Err: errors.New("no remote client configured")}
			continue
		}

		i, rec := i, rec
		g.Go(func() error {
			list, err := b.remote.DeriveAttachments(gctx, rec.ID)
			if err != nil {
				failures[i] = &attachment.BindingError{RecordID: rec.ID, Err: err}
				return nil
			}
			derived[i] = list
			return nil
		})
	}
	g.Wait()

	for i := range records {
		if failures[i] != nil {
			b.logger.Warn("skipping record, deriving attachments failed",
				"recordID", records[i].ID,
				"error", failures[i],
			)
			continue
		}
		for _, att := range derived[i] {
			b.bind(att.ID, att.Name, att.Type, field)
		}
	}

	return errors.Join(failures...)
}

// Unbind removes an attachment from the field. When the owning record has
// never been persisted the attachment is an orphan nothing else can
// reference, so it is also deleted remotely. For persisted records only the
// field association is cleared.
func (b *Binder) Unbind(ctx context.Context, id string, field fieldstate.Field, recordIsNew bool) error {
	switch field.Kind {
	case fieldstate.SingleFile:
		b.store.ClearSingle(field.Name)
	case fieldstate.MultiFile:
		b.store.RemoveFromMulti(field.Name, id)
	}

	if !recordIsNew || b.remote == nil {
		return nil
	}

	if err := b.remote.DeleteAttachment(ctx, id); err != nil {
		return fmt.Errorf("deleting orphaned attachment %s: %w", id, err)
	}
	return nil
}

func (b *Binder) bind(id, name, typ string, field fieldstate.Field) {
	switch field.Kind {
	case fieldstate.SingleFile:
		b.store.SetSingle(field.Name, id, name, typ)
	case fieldstate.MultiFile:
		b.store.AddToMulti(field.Name, id, name, typ)
	}
}
