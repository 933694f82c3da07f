package notes

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	errMissingIDProvider = errors.New("id provider is required")
	errDuplicateNoteID   = errors.New("duplicate note id")
)

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Clock      func() time.Time
	IDProvider IDProvider
}

// Store owns the set of live notes in insertion order.
//
// Readers may call Snapshot, Get and Len concurrently with anything. Mutations
// are expected to be serialized by the caller; the Engine is the only writer in
// the running service.
type Store struct {
	mu         sync.RWMutex
	notes      []Note
	clock      func() time.Time
	idProvider IDProvider
}

// NewStore constructs an empty Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		clock:      clock,
		idProvider: cfg.IDProvider,
	}, nil
}

// Restore replaces the live set, typically with state loaded at startup.
func (s *Store) Restore(notes []Note) error {
	seen := make(map[string]struct{}, len(notes))
	restored := make([]Note, 0, len(notes))
	for _, note := range notes {
		if _, ok := seen[note.ID]; ok {
			return fmt.Errorf("%w: %s", errDuplicateNoteID, note.ID)
		}
		seen[note.ID] = struct{}{}
		restored = append(restored, note.clone())
	}
	s.mu.Lock()
	s.notes = restored
	s.mu.Unlock()
	return nil
}

// Create adds a note with a fresh identifier; order is the current note count.
func (s *Store) Create(text, author, creatorID string) (Note, error) {
	note, err := s.draftCreate(text, author, creatorID)
	if err != nil {
		return Note{}, err
	}
	s.put(note)
	return note, nil
}

// Update applies patch to the note matching id. It returns ErrNotFound when the
// id is unknown and ErrNoChange when the patch has no observable effect; in the
// latter case the stored note, including UpdatedAt, is untouched.
func (s *Store) Update(id string, patch Patch, author string) (Note, ChangeSet, error) {
	note, changes, err := s.draftUpdate(id, patch, author)
	if err != nil {
		return Note{}, ChangeSet{}, err
	}
	s.put(note)
	return note, changes, nil
}

// Delete removes the note matching id. A non-empty author overrides the Author
// of the returned copy to attribute the deletion.
func (s *Store) Delete(id, author string) (Note, error) {
	removed, err := s.draftDelete(id, author)
	if err != nil {
		return Note{}, err
	}
	s.drop(id)
	return removed, nil
}

// Get returns a copy of the note matching id.
func (s *Store) Get(id string) (Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index := s.indexOf(id)
	if index < 0 {
		return Note{}, false
	}
	return s.notes[index].clone(), true
}

// Snapshot returns copies of every live note in insertion order.
func (s *Store) Snapshot() []Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make([]Note, 0, len(s.notes))
	for _, note := range s.notes {
		snapshot = append(snapshot, note.clone())
	}
	return snapshot
}

// Len reports the number of live notes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}

func (s *Store) indexOf(id string) int {
	for index := range s.notes {
		if s.notes[index].ID == id {
			return index
		}
	}
	return -1
}

// draftCreate builds the note Create would add without storing it.
func (s *Store) draftCreate(text, author, creatorID string) (Note, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return Note{}, err
	}
	now := s.clock().UTC().Truncate(time.Millisecond)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return Note{
		ID:          id,
		Text:        text,
		Author:      author,
		Attachments: []Attachment{},
		Order:       len(s.notes),
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatorID:   creatorID,
	}, nil
}

// draftUpdate returns the patched copy of the note matching id; the stored
// note is not modified.
func (s *Store) draftUpdate(id string, patch Patch, author string) (Note, ChangeSet, error) {
	current, ok := s.Get(id)
	if !ok {
		return Note{}, ChangeSet{}, ErrNotFound
	}
	changes := Diff(current, patch)
	if changes.Empty() {
		return Note{}, ChangeSet{}, ErrNoChange
	}
	changes.apply(&current, patch)
	current.Author = author
	current.UpdatedAt = s.clock().UTC().Truncate(time.Millisecond)
	return current, changes, nil
}

// draftDelete returns the attributed copy of the note matching id without
// removing it.
func (s *Store) draftDelete(id, author string) (Note, error) {
	removed, ok := s.Get(id)
	if !ok {
		return Note{}, ErrNotFound
	}
	if author != "" {
		removed.Author = author
	}
	return removed, nil
}

// put stores note, replacing the note with the same id in place or appending it.
func (s *Store) put(note Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index := s.indexOf(note.ID); index >= 0 {
		s.notes[index] = note.clone()
		return
	}
	s.notes = append(s.notes, note.clone())
}

// drop removes the note with id.
func (s *Store) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index := s.indexOf(id); index >= 0 {
		s.notes = append(s.notes[:index], s.notes[index+1:]...)
	}
}
