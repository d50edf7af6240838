package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/attachkit/attachkit/internal/attachment"
	"github.com/attachkit/attachkit/internal/binder"
	"github.com/attachkit/attachkit/internal/fieldstate"
)

// CoordinatorConfig wires a Coordinator's collaborators.
type CoordinatorConfig struct {
	Transport Transport
	Binder    *binder.Binder
	Store     *fieldstate.Store

	// Remote cleans up attachments that were partially persisted before a
	// cancellation. Optional.
	Remote binder.RemoteClient

	Limits  Limits
	Limiter *Limiter
	Logger  *slog.Logger

	// AfterUpload runs once per settled batch that had at least one file
	// still counted at settlement, with the number of successful uploads.
	AfterUpload func(field string, uploaded int)
}

// Coordinator fans out file uploads per field, tracks the batch counters,
// and binds each confirmed attachment into field state.
//
// One batch runs per field at a time. Files within a batch transfer
// concurrently, bounded by the limiter; chunks within one file stay
// sequential inside the transport.
type Coordinator struct {
	transport   Transport
	binder      *binder.Binder
	store       *fieldstate.Store
	remote      binder.RemoteClient
	limits      Limits
	limiter     *Limiter
	logger      *slog.Logger
	afterUpload func(field string, uploaded int)

	mu      sync.Mutex
	batches map[string]*batch

	wg sync.WaitGroup
}

// batch is the bookkeeping for one multi-file operation on one field.
// A canceled session's eventual transport resolution must not touch the
// counters again, so canceled ids are kept until the session resolves.
type batch struct {
	total    int
	uploaded int
	canceled map[string]struct{}
	sessions map[string]*Session
	settled  bool
}

// NewCoordinator creates a Coordinator from cfg. Limiter and Logger fall
// back to defaults when unset.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewLimiter(DefaultMaxConcurrentUploads, DefaultMaxWaitTime)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		transport:   cfg.Transport,
		binder:      cfg.Binder,
		store:       cfg.Store,
		remote:      cfg.Remote,
		limits:      cfg.Limits,
		limiter:     limiter,
		logger:      logger,
		afterUpload: cfg.AfterUpload,
		batches:     make(map[string]*batch),
	}
}

// StartUpload begins uploading files into field and returns as soon as the
// batch is dispatched. Progress and completion are observed through field
// state changes and the after-upload hook.
//
// Every file is validated before any transfer starts; one invalid file
// rejects the whole drop. A second batch for a field already uploading is
// refused.
func (c *Coordinator) StartUpload(ctx context.Context, field fieldstate.Field, files []File) error {
	if len(files) == 0 {
		return nil
	}
	if field.Kind == fieldstate.SingleFile && len(files) != 1 {
		return &attachment.ValidationError{
			Field:   field.Name,
			Message: fmt.Sprintf("single-value field accepts one file, got %d", len(files)),
		}
	}

	sessions := make([]*Session, len(files))
	var invalid []error
	for i, f := range files {
		s := NewSession(f)
		s.setState(StateValidating)
		if verr := validateFile(field, f, c.limits); verr != nil {
			s.setState(StateFailed)
			invalid = append(invalid, verr)
		}
		sessions[i] = s
	}
	if len(invalid) > 0 {
		return errors.Join(invalid...)
	}

	c.mu.Lock()
	if _, busy := c.batches[field.Name]; busy {
		c.mu.Unlock()
		return &attachment.ValidationError{
			Field:   field.Name,
			Message: "an upload for this field is already in progress",
		}
	}
	b := &batch{
		total:    len(sessions),
		canceled: make(map[string]struct{}),
		sessions: make(map[string]*Session, len(sessions)),
	}
	for _, s := range sessions {
		b.sessions[s.ID] = s
	}
	c.batches[field.Name] = b
	c.mu.Unlock()

	for _, s := range sessions {
		c.wg.Add(1)
		go func(s *Session) {
			defer c.wg.Done()
			c.run(ctx, field, s)
		}(s)
	}
	return nil
}

func (c *Coordinator) run(ctx context.Context, field fieldstate.Field, s *Session) {
	if err := c.limiter.Acquire(ctx); err != nil {
		c.resolve(ctx, field, s, &attachment.TransferError{Op: "upload", Err: err})
		return
	}

	s.setState(StateTransferring)

	meta := *s.Attachment()
	meta.Field = field.Name
	if field.Kind == fieldstate.MultiFile {
		meta.ParentType = field.RecordType
	} else {
		meta.RelatedType = field.RecordType
	}

	att, err := c.transport.Upload(ctx, s.File, meta, Options{
		OnProgress:            s.recordProgress,
		OnAttachmentPersisted: s.adoptAttachment,
		Mediator:              s.Mediator,
	})
	c.limiter.Release()

	if err == nil {
		s.adoptAttachment(att)
	}
	c.resolve(ctx, field, s, err)
}

// resolve handles a session's terminal transport outcome. The canceled set
// and the session's own flag are consulted here, at resolution time, so a
// response that raced a cancellation never mutates field state.
func (c *Coordinator) resolve(ctx context.Context, field fieldstate.Field, s *Session, err error) {
	c.mu.Lock()
	b := c.batches[field.Name]

	wasCanceled := s.Canceled() || errors.Is(err, attachment.ErrCanceled)
	if b != nil {
		if _, ok := b.canceled[s.ID]; ok {
			wasCanceled = true
		}
	}

	if wasCanceled {
		// CancelSession already adjusted the counters.
		if b != nil {
			delete(b.sessions, s.ID)
		}
		c.mu.Unlock()
		c.discardPartial(ctx, s)
		return
	}

	if b == nil {
		c.mu.Unlock()
		return
	}

	if err != nil {
		s.setState(StateFailed)
		b.total--
		delete(b.sessions, s.ID)
		settled, uploaded, total := c.trySettleLocked(field.Name, b)
		c.mu.Unlock()

		c.logger.Error("upload failed",
			"field", field.Name,
			"file", s.File.Name,
			"error", err,
		)
		c.fireAfterUpload(field.Name, settled, uploaded, total)
		return
	}

	// Completed state makes a late CancelSession a no-op before the bind.
	s.setState(StateCompleted)
	c.mu.Unlock()

	c.binder.BindFromUpload(s.Attachment(), field)

	c.mu.Lock()
	b.uploaded++
	delete(b.sessions, s.ID)
	settled, uploaded, total := c.trySettleLocked(field.Name, b)
	c.mu.Unlock()

	c.fireAfterUpload(field.Name, settled, uploaded, total)
}

// CancelSession cancels one in-flight transfer. Only a session in the
// transferring state can be canceled; the remove affordance exists only
// once transfer has begun.
func (c *Coordinator) CancelSession(field, sessionID string) error {
	c.mu.Lock()
	b := c.batches[field]
	if b == nil {
		c.mu.Unlock()
		return fmt.Errorf("no upload in progress for field %s", field)
	}
	s := b.sessions[sessionID]
	if s == nil {
		c.mu.Unlock()
		return fmt.Errorf("no session %s for field %s", sessionID, field)
	}
	if s.State() != StateTransferring {
		c.mu.Unlock()
		return fmt.Errorf("session %s is not transferring", sessionID)
	}

	s.Cancel()
	s.setState(StateCanceled)
	b.canceled[sessionID] = struct{}{}
	b.total--
	settled, uploaded, total := c.trySettleLocked(field, b)
	c.mu.Unlock()

	c.fireAfterUpload(field, settled, uploaded, total)
	return nil
}

// Uploading reports whether a batch is in flight for the field.
func (c *Coordinator) Uploading(field string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.batches[field]
	return ok
}

// Sessions returns the still-unresolved sessions of the field's active
// batch, for the rendering layer's placeholder boxes.
func (c *Coordinator) Sessions(field string) []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.batches[field]
	if b == nil {
		return nil
	}
	out := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, s)
	}
	return out
}

// ValidateReady blocks submission while an upload is in flight for the
// field.
func (c *Coordinator) ValidateReady(field fieldstate.Field) *attachment.ValidationError {
	if c.Uploading(field.Name) {
		return &attachment.ValidationError{
			Field:   field.Name,
			Message: "uploading is in progress",
		}
	}
	return nil
}

// ValidateRequired reports a required field whose committed value is empty.
func (c *Coordinator) ValidateRequired(field fieldstate.Field) *attachment.ValidationError {
	if !field.Required {
		return nil
	}

	empty := false
	switch field.Kind {
	case fieldstate.SingleFile:
		empty = !c.store.Single(field.Name).Set
	case fieldstate.MultiFile:
		empty = len(c.store.Multi(field.Name).IDs) == 0
	}

	if empty {
		return &attachment.ValidationError{
			Field:   field.Name,
			Message: "field is required",
		}
	}
	return nil
}

// Wait blocks until every dispatched session has resolved or ctx is
// canceled. Used on shutdown so in-flight uploads settle their batches.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trySettleLocked checks the settlement condition under c.mu. The batch is
// settled exactly when every counted session has succeeded; it then leaves
// the map, clearing the field's uploading flag.
func (c *Coordinator) trySettleLocked(field string, b *batch) (settled bool, uploaded, total int) {
	if b.settled || b.uploaded != b.total {
		return false, 0, 0
	}
	b.settled = true
	delete(c.batches, field)
	return true, b.uploaded, b.total
}

// fireAfterUpload runs the hook for a settled batch. A batch whose every
// file was canceled or failed settles silently.
func (c *Coordinator) fireAfterUpload(field string, settled bool, uploaded, total int) {
	if !settled || total == 0 {
		return
	}
	if c.afterUpload != nil {
		c.afterUpload(field, uploaded)
	}
}

// discardPartial deletes an attachment the remote store persisted before
// the transfer was canceled.
func (c *Coordinator) discardPartial(ctx context.Context, s *Session) {
	att := s.Attachment()
	if c.remote == nil || !att.Persisted() {
		return
	}
	if err := c.remote.DeleteAttachment(context.WithoutCancel(ctx), att.ID); err != nil {
		c.logger.Warn("discarding canceled attachment failed",
			"attachmentID", att.ID,
			"error", err,
		)
	}
}
