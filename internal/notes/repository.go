package notes

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	fieldNoteID          = "note_id"
	columnPosition       = "position"
	columnEntryID        = "entry_id"
	queryNoteID          = fieldNoteID + " = ?"
	orderPositionAsc     = columnPosition + " ASC"
	orderEntryIDAsc      = columnEntryID + " ASC"
	selectMaxPosition    = "COALESCE(MAX(" + columnPosition + "), 0)"
	emptyAttachmentsJSON = "[]"
)

var errMissingDatabase = errors.New("database handle is required")

// NoteRecord is the persisted form of a live note.
type NoteRecord struct {
	NoteID          string   `gorm:"column:note_id;primaryKey;size:190;not null"`
	Position        int64    `gorm:"column:position;not null;index:idx_board_notes_position"`
	Text            string   `gorm:"column:text;type:text;not null;default:''"`
	Author          string   `gorm:"column:author;size:320;not null;default:''"`
	AttachmentsJSON string   `gorm:"column:attachments_json;type:text;not null"`
	Width           *float64 `gorm:"column:width"`
	Height          *float64 `gorm:"column:height"`
	SortOrder       int      `gorm:"column:sort_order;not null;default:0"`
	CreatorID       string   `gorm:"column:creator_id;size:190;not null;default:''"`
	CreatedAtMillis int64    `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64    `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (NoteRecord) TableName() string {
	return "board_notes"
}

// HistoryRecord is the persisted, append-only form of a history entry.
type HistoryRecord struct {
	EntryID          int64  `gorm:"column:entry_id;primaryKey;autoIncrement"`
	Action           string `gorm:"column:action;size:32;not null"`
	NoteID           string `gorm:"column:note_id;size:190;not null;index:idx_board_history_note"`
	Author           string `gorm:"column:author;size:320;not null;default:''"`
	Text             string `gorm:"column:text;type:text;not null;default:''"`
	AttachmentsJSON  string `gorm:"column:attachments_json;type:text;not null"`
	Extra            string `gorm:"column:extra;type:text;not null;default:''"`
	RecordedAtMillis int64  `gorm:"column:recorded_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (HistoryRecord) TableName() string {
	return "board_history"
}

// RepositoryConfig describes the dependencies of a Repository.
type RepositoryConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Repository persists the board in a relational database.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository constructs a Repository. The schema is expected to exist.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opRepoNew, reasonMissingDatabase, errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Repository{db: cfg.Database, logger: logger}, nil
}

// Load reads every live note in insertion order and the full history.
func (r *Repository) Load(ctx context.Context) (Snapshot, error) {
	if r.db == nil {
		logServiceError(r.logger, opRepoLoad, reasonMissingDatabase, errMissingDatabase)
		return Snapshot{}, newServiceError(opRepoLoad, reasonMissingDatabase, errMissingDatabase)
	}

	var noteRecords []NoteRecord
	if err := r.db.WithContext(ctx).Order(orderPositionAsc).Find(&noteRecords).Error; err != nil {
		logServiceError(r.logger, opRepoLoad, reasonQueryFailed, err)
		return Snapshot{}, newServiceError(opRepoLoad, reasonQueryFailed, err)
	}
	var historyRecords []HistoryRecord
	if err := r.db.WithContext(ctx).Order(orderEntryIDAsc).Find(&historyRecords).Error; err != nil {
		logServiceError(r.logger, opRepoLoad, reasonQueryFailed, err)
		return Snapshot{}, newServiceError(opRepoLoad, reasonQueryFailed, err)
	}

	snapshot := Snapshot{
		Notes:   make([]Note, 0, len(noteRecords)),
		History: make([]HistoryEntry, 0, len(historyRecords)),
	}
	for _, record := range noteRecords {
		note, err := record.toNote()
		if err != nil {
			logServiceError(r.logger, opRepoLoad, reasonDecodeFailed, err, zap.String(fieldNoteID, record.NoteID))
			return Snapshot{}, newServiceError(opRepoLoad, reasonDecodeFailed, err)
		}
		snapshot.Notes = append(snapshot.Notes, note)
	}
	for _, record := range historyRecords {
		entry, err := record.toEntry()
		if err != nil {
			logServiceError(r.logger, opRepoLoad, reasonDecodeFailed, err, zap.Int64(columnEntryID, record.EntryID))
			return Snapshot{}, newServiceError(opRepoLoad, reasonDecodeFailed, err)
		}
		snapshot.History = append(snapshot.History, entry)
	}
	return snapshot, nil
}

// Commit writes the note change and its history entries in one transaction.
func (r *Repository) Commit(ctx context.Context, commit Commit) error {
	if r.db == nil {
		logServiceError(r.logger, opRepoCommit, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(opRepoCommit, reasonMissingDatabase, errMissingDatabase)
	}

	return r.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if commit.Upsert != nil {
			if err := upsertNote(transaction, *commit.Upsert); err != nil {
				logServiceError(r.logger, opRepoCommit, reasonNoteWriteFailed, err, zap.String(fieldNoteID, commit.Upsert.ID))
				return newServiceError(opRepoCommit, reasonNoteWriteFailed, err)
			}
		}
		if commit.DeleteID != "" {
			if err := transaction.Where(queryNoteID, commit.DeleteID).Delete(&NoteRecord{}).Error; err != nil {
				logServiceError(r.logger, opRepoCommit, reasonNoteDeleteFailed, err, zap.String(fieldNoteID, commit.DeleteID))
				return newServiceError(opRepoCommit, reasonNoteDeleteFailed, err)
			}
		}
		if len(commit.Entries) == 0 {
			return nil
		}
		records := make([]HistoryRecord, 0, len(commit.Entries))
		for _, entry := range commit.Entries {
			record, err := newHistoryRecord(entry)
			if err != nil {
				logServiceError(r.logger, opRepoCommit, reasonEncodeFailed, err, zap.String(fieldNoteID, entry.NoteID))
				return newServiceError(opRepoCommit, reasonEncodeFailed, err)
			}
			records = append(records, record)
		}
		if err := transaction.Create(&records).Error; err != nil {
			logServiceError(r.logger, opRepoCommit, reasonHistoryWriteFailed, err)
			return newServiceError(opRepoCommit, reasonHistoryWriteFailed, err)
		}
		return nil
	})
}

func upsertNote(transaction *gorm.DB, note Note) error {
	record, err := newNoteRecord(note)
	if err != nil {
		return err
	}

	var existing NoteRecord
	err = transaction.Select(fieldNoteID, columnPosition).Where(queryNoteID, note.ID).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var maxPosition int64
		if err := transaction.Model(&NoteRecord{}).Select(selectMaxPosition).Scan(&maxPosition).Error; err != nil {
			return err
		}
		record.Position = maxPosition + 1
		return transaction.Create(&record).Error
	}
	if err != nil {
		return err
	}
	record.Position = existing.Position
	return transaction.Save(&record).Error
}

func newNoteRecord(note Note) (NoteRecord, error) {
	attachmentsJSON, err := encodeAttachments(note.Attachments)
	if err != nil {
		return NoteRecord{}, err
	}
	return NoteRecord{
		NoteID:          note.ID,
		Text:            note.Text,
		Author:          note.Author,
		AttachmentsJSON: attachmentsJSON,
		Width:           cloneFloat(note.Width),
		Height:          cloneFloat(note.Height),
		SortOrder:       note.Order,
		CreatorID:       note.CreatorID,
		CreatedAtMillis: note.CreatedAt.UnixMilli(),
		UpdatedAtMillis: note.UpdatedAt.UnixMilli(),
	}, nil
}

func (record NoteRecord) toNote() (Note, error) {
	attachments, err := decodeAttachments(record.AttachmentsJSON)
	if err != nil {
		return Note{}, err
	}
	return Note{
		ID:          record.NoteID,
		Text:        record.Text,
		Author:      record.Author,
		Attachments: attachments,
		Width:       cloneFloat(record.Width),
		Height:      cloneFloat(record.Height),
		Order:       record.SortOrder,
		CreatedAt:   time.UnixMilli(record.CreatedAtMillis).UTC(),
		UpdatedAt:   time.UnixMilli(record.UpdatedAtMillis).UTC(),
		CreatorID:   record.CreatorID,
	}, nil
}

func newHistoryRecord(entry HistoryEntry) (HistoryRecord, error) {
	attachmentsJSON, err := encodeAttachments(entry.Attachments)
	if err != nil {
		return HistoryRecord{}, err
	}
	return HistoryRecord{
		Action:           string(entry.Action),
		NoteID:           entry.NoteID,
		Author:           entry.Author,
		Text:             entry.Text,
		AttachmentsJSON:  attachmentsJSON,
		Extra:            entry.Extra,
		RecordedAtMillis: entry.Timestamp.UnixMilli(),
	}, nil
}

func (record HistoryRecord) toEntry() (HistoryEntry, error) {
	attachments, err := decodeAttachments(record.AttachmentsJSON)
	if err != nil {
		return HistoryEntry{}, err
	}
	return HistoryEntry{
		Action:      Action(record.Action),
		NoteID:      record.NoteID,
		Author:      record.Author,
		Text:        record.Text,
		Attachments: attachments,
		Extra:       record.Extra,
		Timestamp:   time.UnixMilli(record.RecordedAtMillis).UTC(),
	}, nil
}

func encodeAttachments(attachments []Attachment) (string, error) {
	if len(attachments) == 0 {
		return emptyAttachmentsJSON, nil
	}
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeAttachments(raw string) ([]Attachment, error) {
	attachments := []Attachment{}
	if raw == "" {
		return attachments, nil
	}
	if err := json.Unmarshal([]byte(raw), &attachments); err != nil {
		return nil, err
	}
	if attachments == nil {
		attachments = []Attachment{}
	}
	return attachments, nil
}
