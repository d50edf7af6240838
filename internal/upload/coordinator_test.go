package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/attachkit/attachkit/internal/attachment"
	"github.com/attachkit/attachkit/internal/binder"
	"github.com/attachkit/attachkit/internal/fieldstate"
)

// stubTransport runs a test-provided function per upload.
type stubTransport struct {
	fn func(ctx context.Context, file File, meta attachment.Attachment, opts Options) (*attachment.Attachment, error)
}

func (s *stubTransport) Upload(ctx context.Context, file File, meta attachment.Attachment, opts Options) (*attachment.Attachment, error) {
	return s.fn(ctx, file, meta, opts)
}

// fakeRemote records remote deletions.
type fakeRemote struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeRemote) DeriveAttachments(context.Context, string) ([]attachment.Attachment, error) {
	return nil, nil
}

func (f *fakeRemote) DeleteAttachment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRemote) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// hookRecorder counts after-upload hook invocations.
type hookRecorder struct {
	mu    sync.Mutex
	calls []int
}

func (h *hookRecorder) record(_ string, uploaded int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, uploaded)
}

func (h *hookRecorder) snapshot() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.calls...)
}

func newTestCoordinator(tr Transport, limits Limits) (*Coordinator, *fieldstate.Store, *fakeRemote, *hookRecorder) {
	store := fieldstate.NewStore()
	remote := &fakeRemote{}
	hook := &hookRecorder{}

	c := NewCoordinator(CoordinatorConfig{
		Transport:   tr,
		Binder:      binder.New(store, remote, nil),
		Store:       store,
		Remote:      remote,
		Limits:      limits,
		AfterUpload: hook.record,
	})
	return c, store, remote, hook
}

func attachmentFor(file File, id string) *attachment.Attachment {
	return &attachment.Attachment{
		ID:   id,
		Name: file.Name,
		Type: file.Type,
		Size: file.Size,
		Role: attachment.RoleAttachment,
	}
}

func waitSettled(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestCoordinator_SingleFieldScenario(t *testing.T) {
	tr := &stubTransport{fn: func(_ context.Context, file File, _ attachment.Attachment, opts Options) (*attachment.Attachment, error) {
		att := attachmentFor(file, "a1")
		opts.OnAttachmentPersisted(att)
		opts.OnProgress(file.Size)
		return att, nil
	}}
	c, store, _, hook := newTestCoordinator(tr, Limits{})

	field := fieldstate.Field{
		Name:          "document",
		Kind:          fieldstate.SingleFile,
		RecordType:    "Case",
		MaxFileSizeMB: 5,
	}
	file := File{Name: "report.pdf", Type: "application/pdf", Size: 2 * 1024 * 1024}

	if err := c.StartUpload(context.Background(), field, []File{file}); err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	waitSettled(t, c)

	got := store.Single("document")
	if !got.Set || got.ID != "a1" || got.Name != "report.pdf" || got.Type != "application/pdf" {
		t.Errorf("Single = %+v, want {a1 report.pdf application/pdf}", got)
	}
	if calls := hook.snapshot(); len(calls) != 1 || calls[0] != 1 {
		t.Errorf("hook calls = %v, want [1]", calls)
	}
	if c.Uploading("document") {
		t.Error("field still uploading after settlement")
	}
}

func TestCoordinator_SecondUploadRefusedWhileUploading(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})

	tr := &stubTransport{fn: func(_ context.Context, file File, _ attachment.Attachment, opts Options) (*attachment.Attachment, error) {
		close(started)
		<-gate
		return attachmentFor(file, "a1"), nil
	}}
	c, _, _, _ := newTestCoordinator(tr, Limits{})

	field := fieldstate.Field{Name: "document", Kind: fieldstate.SingleFile}
	file := File{Name: "report.pdf", Type: "application/pdf", Size: 100}

	if err := c.StartUpload(context.Background(), field, []File{file}); err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	<-started

	if !c.Uploading("document") {
		t.Error("Uploading = false while transfer in flight")
	}

	err := c.StartUpload(context.Background(), field, []File{file})
	var verr *attachment.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("second StartUpload error = %v, want ValidationError", err)
	}

	close(gate)
	waitSettled(t, c)

	if c.Uploading("document") {
		t.Error("field still uploading after settlement")
	}
}

func TestCoordinator_MultiWithMidflightCancel(t *testing.T) {
	// Three concurrent files. The 2nd is canceled while its transfer is
	// blocked; its transport call still returns success afterwards, which
	// must not mutate field state.
	gates := map[string]chan struct{}{
		"one.pdf":   make(chan struct{}),
		"two.pdf":   make(chan struct{}),
		"three.pdf": make(chan struct{}),
	}
	var startedWG sync.WaitGroup
	startedWG.Add(3)

	ids := map[string]string{"one.pdf": "a1", "two.pdf": "a2", "three.pdf": "a3"}

	tr := &stubTransport{fn: func(_ context.Context, file File, _ attachment.Attachment, opts Options) (*attachment.Attachment, error) {
		att := attachmentFor(file, ids[file.Name])
		opts.OnAttachmentPersisted(att)
		startedWG.Done()
		<-gates[file.Name]
		opts.OnProgress(file.Size)
		return att, nil
	}}
	c, store, remote, hook := newTestCoordinator(tr, Limits{})

	field := fieldstate.Field{Name: "attachments", Kind: fieldstate.MultiFile, RecordType: "Case"}
	files := []File{
		{Name: "one.pdf", Type: "application/pdf", Size: 10},
		{Name: "two.pdf", Type: "application/pdf", Size: 20},
		{Name: "three.pdf", Type: "application/pdf", Size: 30},
	}

	if err := c.StartUpload(context.Background(), field, files); err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	startedWG.Wait()

	var secondID string
	for _, s := range c.Sessions("attachments") {
		if s.File.Name == "two.pdf" {
			secondID = s.ID
		}
	}
	if secondID == "" {
		t.Fatal("session for two.pdf not found")
	}
	if err := c.CancelSession("attachments", secondID); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}

	for _, gate := range gates {
		close(gate)
	}
	waitSettled(t, c)

	v := store.Multi("attachments")
	if len(v.IDs) != 2 {
		t.Fatalf("len(IDs) = %d, want 2 (got %v)", len(v.IDs), v.IDs)
	}
	for _, id := range v.IDs {
		if id == "a2" {
			t.Error("canceled session's response mutated field state")
		}
	}
	if calls := hook.snapshot(); len(calls) != 1 || calls[0] != 2 {
		t.Errorf("hook calls = %v, want [2]", calls)
	}

	// The canceled file's partially persisted attachment is discarded.
	deadline := time.After(2 * time.Second)
	for {
		deleted := remote.deletedIDs()
		if len(deleted) == 1 && deleted[0] == "a2" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("deleted = %v, want [a2]", deleted)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCoordinator_BatchSettlement(t *testing.T) {
	// For N concurrent uploads with K canceled, the hook fires exactly once
	// with uploaded == N-K, and not at all when K == N.
	const n = 5
	for _, k := range []int{0, 2, n} {
		t.Run(fmt.Sprintf("cancel_%d_of_%d", k, n), func(t *testing.T) {
			gates := make(map[string]chan struct{}, n)
			files := make([]File, n)
			for i := range files {
				name := fmt.Sprintf("file%d.bin", i)
				files[i] = File{Name: name, Type: "application/octet-stream", Size: int64(i + 1)}
				gates[name] = make(chan struct{})
			}

			var startedWG sync.WaitGroup
			startedWG.Add(n)

			tr := &stubTransport{fn: func(_ context.Context, file File, _ attachment.Attachment, opts Options) (*attachment.Attachment, error) {
				startedWG.Done()
				<-gates[file.Name]
				return attachmentFor(file, "id-"+file.Name), nil
			}}
			c, store, _, hook := newTestCoordinator(tr, Limits{})

			field := fieldstate.Field{Name: "attachments", Kind: fieldstate.MultiFile}
			if err := c.StartUpload(context.Background(), field, files); err != nil {
				t.Fatalf("StartUpload: %v", err)
			}
			startedWG.Wait()

			canceled := 0
			for _, s := range c.Sessions("attachments") {
				if canceled == k {
					break
				}
				if err := c.CancelSession("attachments", s.ID); err != nil {
					t.Fatalf("CancelSession: %v", err)
				}
				canceled++
			}

			for _, gate := range gates {
				close(gate)
			}
			waitSettled(t, c)

			calls := hook.snapshot()
			if k == n {
				if len(calls) != 0 {
					t.Errorf("fully canceled batch fired hook: %v", calls)
				}
			} else {
				if len(calls) != 1 || calls[0] != n-k {
					t.Errorf("hook calls = %v, want [%d]", calls, n-k)
				}
			}
			if got := len(store.Multi("attachments").IDs); got != n-k {
				t.Errorf("bound ids = %d, want %d", got, n-k)
			}
			if c.Uploading("attachments") {
				t.Error("field still uploading after settlement")
			}
		})
	}
}

func TestCoordinator_FailureDecrementsTotal(t *testing.T) {
	tr := &stubTransport{fn: func(_ context.Context, file File, _ attachment.Attachment, _ Options) (*attachment.Attachment, error) {
		if file.Name == "bad.bin" {
			return nil, &attachment.TransferError{Op: "upload", Status: 500}
		}
		return attachmentFor(file, "a1"), nil
	}}
	c, store, _, hook := newTestCoordinator(tr, Limits{})

	field := fieldstate.Field{Name: "attachments", Kind: fieldstate.MultiFile}
	files := []File{
		{Name: "good.bin", Size: 10},
		{Name: "bad.bin", Size: 20},
	}

	if err := c.StartUpload(context.Background(), field, files); err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	waitSettled(t, c)

	if got := len(store.Multi("attachments").IDs); got != 1 {
		t.Errorf("bound ids = %d, want 1", got)
	}
	if calls := hook.snapshot(); len(calls) != 1 || calls[0] != 1 {
		t.Errorf("hook calls = %v, want [1]", calls)
	}
	if c.Uploading("attachments") {
		t.Error("field stuck in uploading state after failure")
	}
}

func TestCoordinator_ValidationRejectsWholeDrop(t *testing.T) {
	tr := &stubTransport{fn: func(_ context.Context, file File, _ attachment.Attachment, _ Options) (*attachment.Attachment, error) {
		t.Errorf("transport dispatched for %s despite validation failure", file.Name)
		return nil, nil
	}}
	c, store, _, hook := newTestCoordinator(tr, Limits{GlobalMaxMB: 1})

	field := fieldstate.Field{Name: "attachments", Kind: fieldstate.MultiFile}
	files := []File{
		{Name: "small.bin", Size: 100},
		{Name: "big.bin", Size: 2 * 1024 * 1024},
	}

	err := c.StartUpload(context.Background(), field, files)
	var verr *attachment.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("StartUpload error = %v, want ValidationError", err)
	}
	if !strings.Contains(verr.File, "big.bin") {
		t.Errorf("validation error names %q, want big.bin", verr.File)
	}

	waitSettled(t, c)

	if got := len(store.Multi("attachments").IDs); got != 0 {
		t.Errorf("bound ids = %d, want 0", got)
	}
	if calls := hook.snapshot(); len(calls) != 0 {
		t.Errorf("hook fired for rejected drop: %v", calls)
	}
	if c.Uploading("attachments") {
		t.Error("rejected drop left field uploading")
	}
}

func TestCoordinator_Validators(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})

	tr := &stubTransport{fn: func(_ context.Context, file File, _ attachment.Attachment, _ Options) (*attachment.Attachment, error) {
		close(started)
		<-gate
		return attachmentFor(file, "a1"), nil
	}}
	c, _, _, _ := newTestCoordinator(tr, Limits{})

	field := fieldstate.Field{Name: "document", Kind: fieldstate.SingleFile, Required: true}

	if verr := c.ValidateRequired(field); verr == nil {
		t.Error("empty required field passed ValidateRequired")
	}
	if verr := c.ValidateReady(field); verr != nil {
		t.Errorf("idle field failed ValidateReady: %v", verr)
	}

	file := File{Name: "report.pdf", Type: "application/pdf", Size: 100}
	if err := c.StartUpload(context.Background(), field, []File{file}); err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	<-started

	if verr := c.ValidateReady(field); verr == nil {
		t.Error("uploading field passed ValidateReady")
	}

	close(gate)
	waitSettled(t, c)

	if verr := c.ValidateReady(field); verr != nil {
		t.Errorf("settled field failed ValidateReady: %v", verr)
	}
	if verr := c.ValidateRequired(field); verr != nil {
		t.Errorf("bound required field failed ValidateRequired: %v", verr)
	}
}
