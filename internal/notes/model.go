package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Action enumerates the kinds of audit records the board produces.
type Action string

const (
	// ActionCreated records the birth of a note.
	ActionCreated Action = "created"
	// ActionUpdated records a text change.
	ActionUpdated Action = "updated"
	// ActionResized records a width and/or height change.
	ActionResized Action = "resized"
	// ActionDeleted records the removal of a note.
	ActionDeleted Action = "deleted"
	// ActionFileUploaded records an attachment added to a note.
	ActionFileUploaded Action = "file-uploaded"
	// ActionFileDeleted records an attachment removed from a note.
	ActionFileDeleted Action = "file-deleted"
)

const (
	maxIdentifierLength = 190

	// AnonymousAuthor attributes intents that arrive without a display name.
	AnonymousAuthor = "Anonymous"

	extraDeletedFilePrefix  = "Deleted file: "
	extraUploadedFilePrefix = "Uploaded file: "
)

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrNotFound indicates that an identifier does not resolve to a live note.
	ErrNotFound = errors.New("notes: note not found")
	// ErrNoChange indicates that a patch carries no effective delta.
	ErrNoChange = errors.New("notes: no change")
	// ErrPersistence indicates that the durable write for a mutation failed.
	ErrPersistence = errors.New("notes: persistence failure")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// Attachment references an uploaded file owned by a note.
type Attachment struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	URL          string `json:"url"`
}

// Note is a single editable item on the board.
type Note struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Author      string       `json:"author"`
	Attachments []Attachment `json:"attachments"`
	Width       *float64     `json:"width,omitempty"`
	Height      *float64     `json:"height,omitempty"`
	Order       int          `json:"order"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	CreatorID   string       `json:"creatorId"`
}

// clone returns a copy that shares no mutable state with the receiver.
func (n Note) clone() Note {
	copied := n
	copied.Attachments = cloneAttachments(n.Attachments)
	copied.Width = cloneFloat(n.Width)
	copied.Height = cloneFloat(n.Height)
	return copied
}

// Patch lists the fields a participant wishes to change; nil fields are left untouched.
type Patch struct {
	Text        *string       `json:"text,omitempty"`
	Width       *float64      `json:"width,omitempty"`
	Height      *float64      `json:"height,omitempty"`
	Attachments *[]Attachment `json:"attachments,omitempty"`
}

// HistoryEntry is an immutable audit record describing one change to one note.
type HistoryEntry struct {
	Action      Action       `json:"action"`
	NoteID      string       `json:"noteId"`
	Author      string       `json:"author"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	Extra       string       `json:"extra"`
	Timestamp   time.Time    `json:"timestamp"`
}

func newHistoryEntry(action Action, note Note, author, extra string) HistoryEntry {
	return HistoryEntry{
		Action:      action,
		NoteID:      note.ID,
		Author:      author,
		Text:        note.Text,
		Attachments: cloneAttachments(note.Attachments),
		Extra:       extra,
	}
}

func normalizeAuthor(author string) string {
	trimmed := strings.TrimSpace(author)
	if trimmed == "" {
		return AnonymousAuthor
	}
	return trimmed
}

func cloneAttachments(attachments []Attachment) []Attachment {
	copied := make([]Attachment, len(attachments))
	copy(copied, attachments)
	return copied
}

func cloneFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
