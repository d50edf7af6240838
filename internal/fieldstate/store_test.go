package fieldstate

import (
	"math/rand"
	"testing"
)

// checkInvariant verifies the parallel collections agree after a mutation.
func checkInvariant(t *testing.T, v MultiValue) {
	t.Helper()

	if len(v.IDs) != len(v.Names) || len(v.IDs) != len(v.Types) {
		t.Fatalf("collections out of sync: %d ids, %d names, %d types",
			len(v.IDs), len(v.Names), len(v.Types))
	}
	for _, id := range v.IDs {
		if _, ok := v.Names[id]; !ok {
			t.Fatalf("id %s missing from names", id)
		}
		if _, ok := v.Types[id]; !ok {
			t.Fatalf("id %s missing from types", id)
		}
	}
}

func TestStore_SingleValue(t *testing.T) {
	s := NewStore()

	if got := s.Single("document"); got.Set {
		t.Errorf("empty field reports Set = true")
	}

	s.SetSingle("document", "a1", "report.pdf", "application/pdf")

	got := s.Single("document")
	if !got.Set {
		t.Fatal("field not set after SetSingle")
	}
	if got.ID != "a1" || got.Name != "report.pdf" || got.Type != "application/pdf" {
		t.Errorf("Single = %+v, want {a1 report.pdf application/pdf}", got)
	}

	s.ClearSingle("document")

	got = s.Single("document")
	if got.Set || got.ID != "" || got.Name != "" || got.Type != "" {
		t.Errorf("after ClearSingle, Single = %+v, want zero value", got)
	}
}

func TestStore_MultiAddAndRemove(t *testing.T) {
	s := NewStore()

	s.AddToMulti("attachments", "a1", "one.txt", "text/plain")
	s.AddToMulti("attachments", "a2", "two.png", "image/png")
	s.AddToMulti("attachments", "a3", "three.pdf", "application/pdf")

	v := s.Multi("attachments")
	checkInvariant(t, v)
	if len(v.IDs) != 3 {
		t.Fatalf("len(IDs) = %d, want 3", len(v.IDs))
	}

	// Insertion order preserved
	want := []string{"a1", "a2", "a3"}
	for i, id := range want {
		if v.IDs[i] != id {
			t.Errorf("IDs[%d] = %s, want %s", i, v.IDs[i], id)
		}
	}

	// Removal preserves relative order of the rest
	s.RemoveFromMulti("attachments", "a2")

	v = s.Multi("attachments")
	checkInvariant(t, v)
	if len(v.IDs) != 2 || v.IDs[0] != "a1" || v.IDs[1] != "a3" {
		t.Errorf("IDs after remove = %v, want [a1 a3]", v.IDs)
	}
	if _, ok := v.Names["a2"]; ok {
		t.Error("removed id still present in names")
	}
}

func TestStore_RemoveIdempotent(t *testing.T) {
	s := NewStore()
	s.AddToMulti("attachments", "a1", "one.txt", "text/plain")

	s.RemoveFromMulti("attachments", "a1")
	first := s.Multi("attachments")

	// Second remove of the same id must be a no-op
	s.RemoveFromMulti("attachments", "a1")
	second := s.Multi("attachments")

	checkInvariant(t, second)
	if len(first.IDs) != 0 || len(second.IDs) != 0 {
		t.Errorf("IDs = %v then %v, want empty both times", first.IDs, second.IDs)
	}

	// Removing from a field that never existed is also a no-op
	s.RemoveFromMulti("other", "a1")
}

func TestStore_AddExistingUpdatesWithoutDuplicate(t *testing.T) {
	s := NewStore()

	s.AddToMulti("attachments", "a1", "draft.txt", "text/plain")
	s.AddToMulti("attachments", "a1", "final.txt", "text/plain")

	v := s.Multi("attachments")
	checkInvariant(t, v)
	if len(v.IDs) != 1 {
		t.Fatalf("len(IDs) = %d, want 1", len(v.IDs))
	}
	if v.Names["a1"] != "final.txt" {
		t.Errorf("name = %s, want final.txt", v.Names["a1"])
	}
}

func TestStore_InvariantUnderRandomMutation(t *testing.T) {
	s := NewStore()
	rng := rand.New(rand.NewSource(1))

	ids := []string{"a", "b", "c", "d", "e"}
	for i := 0; i < 500; i++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(3) {
		case 0:
			s.AddToMulti("attachments", id, id+".bin", "application/octet-stream")
		case 1:
			s.RemoveFromMulti("attachments", id)
		case 2:
			s.ClearMulti("attachments")
		}
		checkInvariant(t, s.Multi("attachments"))
	}
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.AddToMulti("attachments", "a1", "one.txt", "text/plain")

	v := s.Multi("attachments")
	v.IDs[0] = "tampered"
	v.Names["a1"] = "tampered"
	delete(v.Types, "a1")

	fresh := s.Multi("attachments")
	if fresh.IDs[0] != "a1" || fresh.Names["a1"] != "one.txt" || fresh.Types["a1"] != "text/plain" {
		t.Error("mutating a snapshot changed the store")
	}
}

func TestStore_ListenerObservesCommittedState(t *testing.T) {
	s := NewStore()

	var notified []string
	s.OnChange(func(field string) {
		notified = append(notified, field)
		// The mutation must be fully applied by the time we run.
		checkInvariant(t, s.Multi(field))
	})

	s.AddToMulti("attachments", "a1", "one.txt", "text/plain")
	s.RemoveFromMulti("attachments", "a1")
	s.SetSingle("document", "a2", "two.txt", "text/plain")

	want := []string{"attachments", "attachments", "document"}
	if len(notified) != len(want) {
		t.Fatalf("got %d notifications, want %d", len(notified), len(want))
	}
	for i := range want {
		if notified[i] != want[i] {
			t.Errorf("notification %d = %s, want %s", i, notified[i], want[i])
		}
	}
}

func TestStore_NoNotificationForAbsentRemove(t *testing.T) {
	s := NewStore()
	s.AddToMulti("attachments", "a1", "one.txt", "text/plain")

	count := 0
	s.OnChange(func(string) { count++ })

	s.RemoveFromMulti("attachments", "missing")
	if count != 0 {
		t.Errorf("no-op remove fired %d notifications, want 0", count)
	}
}
