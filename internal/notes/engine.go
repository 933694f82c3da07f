package notes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultBroadcastWindow is the number of recent entries carried by historyUpdated.
const DefaultBroadcastWindow = 100

var (
	errMissingStore     = errors.New("note store is required")
	errMissingAuditLog  = errors.New("audit log is required")
	errMissingPersister = errors.New("persister is required")
)

// Outcome classifies how an intent was handled.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNotFound Outcome = "not_found"
	OutcomeNoChange Outcome = "no_change"
)

// CreateIntent asks for a new note.
type CreateIntent struct {
	Text      string
	Author    string
	CreatorID string
}

// UpdateIntent asks for a partial change to an existing note.
type UpdateIntent struct {
	ID     string
	Patch  Patch
	Author string
}

// DeleteIntent asks for a note to be removed.
type DeleteIntent struct {
	ID     string
	Author string
}

// Result reports the effect of an intent. Notifications is empty unless Outcome
// is OutcomeApplied.
type Result struct {
	Outcome       Outcome
	Note          *Note
	Entries       []HistoryEntry
	Notifications []Notification
}

// EngineConfig describes the collaborators of an Engine.
type EngineConfig struct {
	Store           *Store
	AuditLog        *AuditLog
	Persister       Persister
	Publisher       Publisher
	Cleanup         CleanupScheduler
	BroadcastWindow int
	Logger          *zap.Logger
}

// Engine serializes every mutation of the board, records its audit trail and
// derives the notifications observers need.
//
// mu is held for a whole intent, persistence included. view guards the moment
// a committed mutation becomes visible so Notes and History never observe a
// note without its entries or a change that is still being persisted.
type Engine struct {
	mu              sync.Mutex
	view            sync.RWMutex
	store           *Store
	audit           *AuditLog
	persister       Persister
	publisher       Publisher
	cleanup         CleanupScheduler
	broadcastWindow int
	logger          *zap.Logger
}

// NewEngine validates dependencies and constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opEngineNew, reasonMissingStore, errMissingStore)
	}
	if cfg.AuditLog == nil {
		return nil, newServiceError(opEngineNew, reasonMissingAuditLog, errMissingAuditLog)
	}
	if cfg.Persister == nil {
		return nil, newServiceError(opEngineNew, reasonMissingPersister, errMissingPersister)
	}
	window := cfg.BroadcastWindow
	if window <= 0 {
		window = DefaultBroadcastWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		store:           cfg.Store,
		audit:           cfg.AuditLog,
		persister:       cfg.Persister,
		publisher:       cfg.Publisher,
		cleanup:         cfg.Cleanup,
		broadcastWindow: window,
		logger:          logger,
	}, nil
}

// Load replaces in-memory state with what the persister holds.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot, err := e.persister.Load(ctx)
	if err != nil {
		logServiceError(e.logger, opEngineLoad, reasonLoadFailed, err)
		return newServiceError(opEngineLoad, reasonLoadFailed, err)
	}
	e.view.Lock()
	defer e.view.Unlock()
	if err := e.store.Restore(snapshot.Notes); err != nil {
		logServiceError(e.logger, opEngineLoad, reasonRestoreFailed, err)
		return newServiceError(opEngineLoad, reasonRestoreFailed, err)
	}
	e.audit.Restore(snapshot.History)
	e.logger.Info("board state loaded",
		zap.Int("notes", len(snapshot.Notes)),
		zap.Int("history_entries", len(snapshot.History)))
	return nil
}

// Notes returns the live notes in insertion order.
func (e *Engine) Notes() []Note {
	e.view.RLock()
	defer e.view.RUnlock()
	return e.store.Snapshot()
}

// History returns the last limit audit entries, oldest first.
func (e *Engine) History(limit int) []HistoryEntry {
	e.view.RLock()
	defer e.view.RUnlock()
	return e.audit.Recent(limit)
}

// HandleCreate creates a note and records a created entry.
func (e *Engine) HandleCreate(ctx context.Context, intent CreateIntent) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	author := normalizeAuthor(intent.Author)
	note, err := e.store.draftCreate(intent.Text, author, intent.CreatorID)
	if err != nil {
		logServiceError(e.logger, opHandleCreate, reasonIDGenerationFailed, err)
		return Result{}, newServiceError(opHandleCreate, reasonIDGenerationFailed, err)
	}

	entries := e.audit.stamp([]HistoryEntry{newHistoryEntry(ActionCreated, note, author, "")})
	if err := e.persist(ctx, Commit{Upsert: &note, Entries: entries}); err != nil {
		logServiceError(e.logger, opHandleCreate, reasonPersistFailed, err, zap.String("note_id", note.ID))
		return Result{}, newServiceError(opHandleCreate, reasonPersistFailed, err)
	}

	return e.finish(func() { e.store.put(note) }, note, entries, noteCreated(note)), nil
}

// HandleUpdate applies a patch and records one entry per detected change.
func (e *Engine) HandleUpdate(ctx context.Context, intent UpdateIntent) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	author := normalizeAuthor(intent.Author)
	note, changes, err := e.store.draftUpdate(intent.ID, intent.Patch, author)
	switch {
	case errors.Is(err, ErrNotFound):
		return Result{Outcome: OutcomeNotFound}, nil
	case errors.Is(err, ErrNoChange):
		return Result{Outcome: OutcomeNoChange}, nil
	case err != nil:
		return Result{}, err
	}

	pending := make([]HistoryEntry, 0, len(changes.Changes))
	for _, change := range changes.Changes {
		pending = append(pending, newHistoryEntry(change.Action, note, author, change.Extra))
	}
	entries := e.audit.stamp(pending)
	if err := e.persist(ctx, Commit{Upsert: &note, Entries: entries}); err != nil {
		logServiceError(e.logger, opHandleUpdate, reasonPersistFailed, err, zap.String("note_id", note.ID))
		return Result{}, newServiceError(opHandleUpdate, reasonPersistFailed, err)
	}

	result := e.finish(func() { e.store.put(note) }, note, entries, noteUpdated(note))
	e.scheduleCleanup(changes.Removed)
	return result, nil
}

// HandleDelete removes a note, recording a file-deleted entry per attachment
// followed by a deleted entry.
func (e *Engine) HandleDelete(ctx context.Context, intent DeleteIntent) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	author := normalizeAuthor(intent.Author)
	removed, err := e.store.draftDelete(intent.ID, author)
	if errors.Is(err, ErrNotFound) {
		return Result{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return Result{}, err
	}

	pending := make([]HistoryEntry, 0, len(removed.Attachments)+1)
	for _, attachment := range removed.Attachments {
		pending = append(pending, newHistoryEntry(ActionFileDeleted, removed, author, extraDeletedFilePrefix+attachment.OriginalName))
	}
	pending = append(pending, newHistoryEntry(ActionDeleted, removed, author, ""))
	entries := e.audit.stamp(pending)
	if err := e.persist(ctx, Commit{DeleteID: removed.ID, Entries: entries}); err != nil {
		logServiceError(e.logger, opHandleDelete, reasonPersistFailed, err, zap.String("note_id", removed.ID))
		return Result{}, newServiceError(opHandleDelete, reasonPersistFailed, err)
	}

	result := e.finish(func() { e.store.drop(removed.ID) }, removed, entries, noteDeleted(removed.ID))
	e.scheduleCleanup(removed.Attachments)
	return result, nil
}

// persist writes the commit durably. Cancellation of the caller's context is
// ignored so that an intent either completes or fails on its own terms.
func (e *Engine) persist(ctx context.Context, commit Commit) error {
	if err := e.persister.Commit(context.WithoutCancel(ctx), commit); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// finish makes a committed mutation visible, appends its entries to the log
// and publishes notifications in commit order. It must be called with e.mu held.
func (e *Engine) finish(apply func(), note Note, entries []HistoryEntry, noteNotification Notification) Result {
	e.view.Lock()
	apply()
	e.audit.commit(entries)
	window := e.audit.Recent(e.broadcastWindow)
	e.view.Unlock()

	notifications := []Notification{
		historyUpdated(window),
		noteNotification,
	}
	if e.publisher != nil {
		for _, notification := range notifications {
			e.publisher.Publish(notification)
		}
	}
	e.logger.Debug("board mutation committed",
		zap.String("note_id", note.ID),
		zap.String("notification", string(noteNotification.Type)),
		zap.Int("history_entries", len(entries)))
	return Result{
		Outcome:       OutcomeApplied,
		Note:          &note,
		Entries:       entries,
		Notifications: notifications,
	}
}

func (e *Engine) scheduleCleanup(attachments []Attachment) {
	if e.cleanup == nil || len(attachments) == 0 {
		return
	}
	e.cleanup.Schedule(cloneAttachments(attachments)...)
}
