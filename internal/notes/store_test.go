package notes

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	clock := newSteppingClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), time.Second)
	store, err := NewStore(StoreConfig{Clock: clock.Now, IDProvider: sequentialIDs("note")})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func TestNewStoreRequiresIDProvider(t *testing.T) {
	if _, err := NewStore(StoreConfig{}); !errors.Is(err, errMissingIDProvider) {
		t.Fatalf("expected missing id provider error, got %v", err)
	}
}

func TestStoreCreateAssignsOrderFromLiveCount(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Create("", "Alice", "socket-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.ID == "" || first.Order != 0 {
		t.Fatalf("unexpected first note %#v", first)
	}
	if first.Attachments == nil || len(first.Attachments) != 0 {
		t.Fatalf("expected empty attachment list, got %#v", first.Attachments)
	}
	if !first.CreatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("expected createdAt to equal updatedAt on creation")
	}

	second, _ := store.Create("b", "Alice", "socket-1")
	if second.Order != 1 {
		t.Fatalf("expected order 1, got %d", second.Order)
	}
	if _, err := store.Delete(first.ID, ""); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	third, _ := store.Create("c", "Alice", "socket-1")
	if third.Order != 1 {
		t.Fatalf("expected order to follow live count after deletion, got %d", third.Order)
	}

	snapshot := store.Snapshot()
	if len(snapshot) != 2 || snapshot[0].ID != second.ID || snapshot[1].ID != third.ID {
		t.Fatalf("unexpected insertion order %#v", snapshot)
	}
}

func TestStoreUpdateReportsNotFoundAndNoChange(t *testing.T) {
	store := newTestStore(t)
	note, _ := store.Create("hello", "Alice", "socket-1")

	if _, _, err := store.Update("missing", Patch{Text: stringPointer("x")}, "Carol"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Update(note.ID, Patch{Text: stringPointer("hello")}, "Bob"); !errors.Is(err, ErrNoChange) {
		t.Fatalf("expected ErrNoChange, got %v", err)
	}

	stored, ok := store.Get(note.ID)
	if !ok {
		t.Fatalf("expected stored note")
	}
	if stored.Author != "Alice" || !stored.UpdatedAt.Equal(note.UpdatedAt) {
		t.Fatalf("no-op update must leave note untouched: %#v", stored)
	}
}

func TestStoreUpdateAppliesPatchAndAttribution(t *testing.T) {
	store := newTestStore(t)
	note, _ := store.Create("hello", "Alice", "socket-1")

	updated, changes, err := store.Update(note.ID, Patch{Width: floatPointer(320)}, "Bob")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !equalActions(changes.Actions(), []Action{ActionResized}) {
		t.Fatalf("unexpected actions %v", changes.Actions())
	}
	if updated.Author != "Bob" || updated.Width == nil || *updated.Width != 320 || updated.Height != nil {
		t.Fatalf("unexpected updated note %#v", updated)
	}
	if !updated.UpdatedAt.After(note.UpdatedAt) {
		t.Fatalf("expected updatedAt to advance")
	}
	if updated.Text != "hello" || updated.CreatorID != "socket-1" || updated.Order != 0 {
		t.Fatalf("untouched fields changed: %#v", updated)
	}
}

func TestStoreReturnsIsolatedCopies(t *testing.T) {
	store := newTestStore(t)
	note, _ := store.Create("hello", "Alice", "socket-1")
	_, _, err := store.Update(note.ID, Patch{Attachments: attachmentsPointer(attachment("a.pdf", "a.pdf"))}, "Alice")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	snapshot := store.Snapshot()
	snapshot[0].Attachments[0].OriginalName = "mutated"
	snapshot[0].Text = "mutated"

	stored, _ := store.Get(note.ID)
	if stored.Text != "hello" || stored.Attachments[0].OriginalName != "a.pdf" {
		t.Fatalf("store state leaked through snapshot: %#v", stored)
	}
}

func TestStoreDeleteAttributesReturnedCopy(t *testing.T) {
	store := newTestStore(t)
	note, _ := store.Create("hello", "Alice", "socket-1")

	removed, err := store.Delete(note.ID, "Bob")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if removed.Author != "Bob" {
		t.Fatalf("expected deletion attributed to Bob, got %q", removed.Author)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store")
	}
	if _, err := store.Delete(note.ID, "Bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStoreRestoreRejectsDuplicates(t *testing.T) {
	store := newTestStore(t)
	err := store.Restore([]Note{{ID: "a"}, {ID: "a"}})
	if !errors.Is(err, errDuplicateNoteID) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
	if err := store.Restore([]Note{{ID: "a"}, {ID: "b"}}); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("expected two restored notes, got %d", store.Len())
	}
}

func TestStoreDraftsLeaveStoredNotesUntouched(t *testing.T) {
	store := newTestStore(t)
	first, _ := store.Create("a", "Alice", "")
	second, _ := store.Create("b", "Alice", "")

	drafted, err := store.draftCreate("c", "Carol", "")
	if err != nil {
		t.Fatalf("draft create failed: %v", err)
	}
	if drafted.Order != 2 || store.Len() != 2 {
		t.Fatalf("draft create must not store the note: order=%d len=%d", drafted.Order, store.Len())
	}

	patched, _, err := store.draftUpdate(first.ID, Patch{Text: stringPointer("changed")}, "Bob")
	if err != nil || patched.Text != "changed" {
		t.Fatalf("unexpected draft update %#v %v", patched, err)
	}
	if stored, _ := store.Get(first.ID); stored.Text != "a" || stored.Author != "Alice" {
		t.Fatalf("draft update leaked into the store: %#v", stored)
	}

	if _, err := store.draftDelete(second.ID, "Bob"); err != nil {
		t.Fatalf("draft delete failed: %v", err)
	}
	if _, ok := store.Get(second.ID); !ok {
		t.Fatalf("draft delete must not remove the note")
	}

	store.put(patched)
	store.drop(second.ID)
	store.put(drafted)
	snapshot := store.Snapshot()
	got := []string{snapshot[0].ID, snapshot[1].ID}
	if len(snapshot) != 2 || got[0] != first.ID || got[1] != drafted.ID || snapshot[0].Text != "changed" {
		t.Fatalf("unexpected store after applying drafts: %#v", snapshot)
	}
}
