package binder

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/attachkit/attachkit/internal/attachment"
	"github.com/attachkit/attachkit/internal/fieldstate"
)

// fakeRemote serves canned derived-attachment lists and records deletions.
type fakeRemote struct {
	mu       sync.Mutex
	derived  map[string][]attachment.Attachment
	failures map[string]error
	deleted  []string
}

func (f *fakeRemote) DeriveAttachments(_ context.Context, recordID string) ([]attachment.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[recordID]; err != nil {
		return nil, err
	}
	return f.derived[recordID], nil
}

func (f *fakeRemote) DeleteAttachment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

var multiField = fieldstate.Field{Name: "attachments", Kind: fieldstate.MultiFile}
var singleField = fieldstate.Field{Name: "document", Kind: fieldstate.SingleFile}

func TestBindFromUpload(t *testing.T) {
	store := fieldstate.NewStore()
	b := New(store, nil, nil)

	att := &attachment.Attachment{ID: "a1", Name: "report.pdf", Type: "application/pdf"}

	b.BindFromUpload(att, singleField)
	if got := store.Single("document"); !got.Set || got.ID != "a1" {
		t.Errorf("Single = %+v, want a1 set", got)
	}

	// A later upload replaces the single value.
	b.BindFromUpload(&attachment.Attachment{ID: "a2", Name: "v2.pdf", Type: "application/pdf"}, singleField)
	if got := store.Single("document"); got.ID != "a2" || got.Name != "v2.pdf" {
		t.Errorf("Single = %+v, want a2/v2.pdf", got)
	}

	b.BindFromUpload(att, multiField)
	if got := store.Multi("attachments"); len(got.IDs) != 1 || got.IDs[0] != "a1" {
		t.Errorf("Multi IDs = %v, want [a1]", got.IDs)
	}
}

func TestBindFromExternalSource_OrderPreserved(t *testing.T) {
	store := fieldstate.NewStore()
	remote := &fakeRemote{
		derived: map[string][]attachment.Attachment{
			"case-1": {
				{ID: "d1", Name: "one.pdf", Type: "application/pdf"},
				{ID: "d2", Name: "two.pdf", Type: "application/pdf"},
			},
			"case-2": {
				{ID: "d3", Name: "three.pdf", Type: "application/pdf"},
			},
		},
	}
	b := New(store, remote, nil)

	// Selection order: a non-attachment record, a direct attachment, another
	// non-attachment record. Bound ids must follow that order even though
	// derivations run concurrently.
	records := []Record{
		{ID: "case-1", EntityType: "Case"},
		{ID: "a9", EntityType: AttachmentEntityType, Name: "direct.png", Type: "image/png"},
		{ID: "case-2", EntityType: "Case"},
	}

	if err := b.BindFromExternalSource(context.Background(), records, multiField); err != nil {
		t.Fatalf("BindFromExternalSource: %v", err)
	}

	got := store.Multi("attachments")
	want := []string{"d1", "d2", "a9", "d3"}
	if len(got.IDs) != len(want) {
		t.Fatalf("IDs = %v, want %v", got.IDs, want)
	}
	for i := range want {
		if got.IDs[i] != want[i] {
			t.Errorf("IDs[%d] = %s, want %s", i, got.IDs[i], want[i])
		}
	}
	if got.Names["a9"] != "direct.png" || got.Types["a9"] != "image/png" {
		t.Errorf("direct record bound as %s/%s, want direct.png/image/png",
			got.Names["a9"], got.Types["a9"])
	}
}

func TestBindFromExternalSource_FailureIsNonFatal(t *testing.T) {
	store := fieldstate.NewStore()
	remote := &fakeRemote{
		derived: map[string][]attachment.Attachment{
			"case-ok": {{ID: "d1", Name: "one.pdf", Type: "application/pdf"}},
		},
		failures: map[string]error{
			"case-bad": errors.New("access denied"),
		},
	}
	b := New(store, remote, nil)

	records := []Record{
		{ID: "case-bad", EntityType: "Case"},
		{ID: "case-ok", EntityType: "Case"},
	}

	err := b.BindFromExternalSource(context.Background(), records, multiField)

	var berr *attachment.BindingError
	if !errors.As(err, &berr) {
		t.Fatalf("error = %v, want BindingError", err)
	}
	if berr.RecordID != "case-bad" {
		t.Errorf("BindingError.RecordID = %s, want case-bad", berr.RecordID)
	}

	// The healthy record still bound.
	if got := store.Multi("attachments"); len(got.IDs) != 1 || got.IDs[0] != "d1" {
		t.Errorf("IDs = %v, want [d1]", got.IDs)
	}
}

func TestUnbind_DraftRecordDeletesOrphan(t *testing.T) {
	store := fieldstate.NewStore()
	remote := &fakeRemote{}
	b := New(store, remote, nil)

	store.AddToMulti("attachments", "a1", "one.pdf", "application/pdf")

	if err := b.Unbind(context.Background(), "a1", multiField, true); err != nil {
		t.Fatalf("Unbind: %v", err)
	}

	if got := store.Multi("attachments"); len(got.IDs) != 0 {
		t.Errorf("IDs = %v, want empty", got.IDs)
	}
	if len(remote.deleted) != 1 || remote.deleted[0] != "a1" {
		t.Errorf("deleted = %v, want [a1]", remote.deleted)
	}
}

func TestUnbind_PersistedRecordKeepsAttachment(t *testing.T) {
	store := fieldstate.NewStore()
	remote := &fakeRemote{}
	b := New(store, remote, nil)

	store.SetSingle("document", "a1", "report.pdf", "application/pdf")

	if err := b.Unbind(context.Background(), "a1", singleField, false); err != nil {
		t.Fatalf("Unbind: %v", err)
	}

	if got := store.Single("document"); got.Set {
		t.Errorf("Single = %+v, want cleared", got)
	}
	if len(remote.deleted) != 0 {
		t.Errorf("deleted = %v, want none for a persisted record", remote.deleted)
	}
}
