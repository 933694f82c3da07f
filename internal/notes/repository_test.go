package notes

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func openTestDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "board.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&NoteRecord{}, &HistoryRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func newTestRepository(testContext *testing.T) *Repository {
	testContext.Helper()
	repository, err := NewRepository(RepositoryConfig{Database: openTestDatabase(testContext), Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build repository: %v", err)
	}
	return repository
}

func TestNewRepositoryRequiresDatabase(testContext *testing.T) {
	_, err := NewRepository(RepositoryConfig{})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != opRepoNew+"."+reasonMissingDatabase {
		testContext.Fatalf("expected missing database error, got %v", err)
	}
}

func TestRepositoryRoundTripPreservesOrderAndFields(testContext *testing.T) {
	repository := newTestRepository(testContext)
	ctx := context.Background()
	createdAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	notes := []Note{
		{ID: "z-note", Text: "first", Author: "Alice", Attachments: []Attachment{}, Order: 0, CreatedAt: createdAt, UpdatedAt: createdAt, CreatorID: "socket-1"},
		{ID: "a-note", Text: "second", Author: "Bob", Attachments: []Attachment{attachment("a.pdf", "report.pdf")}, Width: floatPointer(240.5), Height: floatPointer(120), Order: 1, CreatedAt: createdAt.Add(time.Second), UpdatedAt: createdAt.Add(2 * time.Second), CreatorID: "socket-2"},
	}
	for index := range notes {
		note := notes[index]
		entry := newHistoryEntry(ActionCreated, note, note.Author, "")
		entry.Timestamp = note.CreatedAt
		if err := repository.Commit(ctx, Commit{Upsert: &note, Entries: []HistoryEntry{entry}}); err != nil {
			testContext.Fatalf("commit failed: %v", err)
		}
	}

	updated := notes[0]
	updated.Text = "first, edited"
	updated.UpdatedAt = createdAt.Add(3 * time.Second)
	updateEntry := newHistoryEntry(ActionUpdated, updated, "Carol", "")
	updateEntry.Timestamp = updated.UpdatedAt
	if err := repository.Commit(ctx, Commit{Upsert: &updated, Entries: []HistoryEntry{updateEntry}}); err != nil {
		testContext.Fatalf("update commit failed: %v", err)
	}

	snapshot, err := repository.Load(ctx)
	if err != nil {
		testContext.Fatalf("load failed: %v", err)
	}
	if len(snapshot.Notes) != 2 {
		testContext.Fatalf("expected two notes, got %d", len(snapshot.Notes))
	}
	if snapshot.Notes[0].ID != "z-note" || snapshot.Notes[1].ID != "a-note" {
		testContext.Fatalf("expected insertion order to survive updates, got %s, %s", snapshot.Notes[0].ID, snapshot.Notes[1].ID)
	}
	if snapshot.Notes[0].Text != "first, edited" || !snapshot.Notes[0].UpdatedAt.Equal(updated.UpdatedAt) {
		testContext.Fatalf("unexpected updated note %#v", snapshot.Notes[0])
	}
	if snapshot.Notes[0].Width != nil || snapshot.Notes[0].Attachments == nil {
		testContext.Fatalf("expected nil width and empty attachments, got %#v", snapshot.Notes[0])
	}
	second := snapshot.Notes[1]
	if second.Width == nil || *second.Width != 240.5 || second.Attachments[0].OriginalName != "report.pdf" || second.CreatorID != "socket-2" {
		testContext.Fatalf("unexpected second note %#v", second)
	}

	wantActions := []Action{ActionCreated, ActionCreated, ActionUpdated}
	if !equalActions(actionsOf(snapshot.History), wantActions) {
		testContext.Fatalf("unexpected history %v", actionsOf(snapshot.History))
	}
	if snapshot.History[2].Author != "Carol" || !snapshot.History[2].Timestamp.Equal(updateEntry.Timestamp) {
		testContext.Fatalf("unexpected history entry %#v", snapshot.History[2])
	}
}

func TestRepositoryDeleteKeepsHistory(testContext *testing.T) {
	repository := newTestRepository(testContext)
	ctx := context.Background()
	note := Note{ID: "note-1", Text: "bye", Author: "Alice", Attachments: []Attachment{}}
	if err := repository.Commit(ctx, Commit{Upsert: &note, Entries: []HistoryEntry{newHistoryEntry(ActionCreated, note, "Alice", "")}}); err != nil {
		testContext.Fatalf("create commit failed: %v", err)
	}

	if err := repository.Commit(ctx, Commit{DeleteID: note.ID, Entries: []HistoryEntry{newHistoryEntry(ActionDeleted, note, "Bob", "")}}); err != nil {
		testContext.Fatalf("delete commit failed: %v", err)
	}

	snapshot, err := repository.Load(ctx)
	if err != nil {
		testContext.Fatalf("load failed: %v", err)
	}
	if len(snapshot.Notes) != 0 {
		testContext.Fatalf("expected note removed, got %d", len(snapshot.Notes))
	}
	if !equalActions(actionsOf(snapshot.History), []Action{ActionCreated, ActionDeleted}) {
		testContext.Fatalf("unexpected history %v", actionsOf(snapshot.History))
	}
}

func TestRepositoryCommitRollsBackOnHistoryFailure(testContext *testing.T) {
	database := openTestDatabase(testContext)
	core, logs := observer.New(zap.ErrorLevel)
	repository, err := NewRepository(RepositoryConfig{Database: database, Logger: zap.New(core)})
	if err != nil {
		testContext.Fatalf("failed to build repository: %v", err)
	}
	if err := database.Migrator().DropTable(&HistoryRecord{}); err != nil {
		testContext.Fatalf("failed to drop history table: %v", err)
	}

	note := Note{ID: "note-1", Text: "orphan", Attachments: []Attachment{}}
	err = repository.Commit(context.Background(), Commit{Upsert: &note, Entries: []HistoryEntry{newHistoryEntry(ActionCreated, note, "Alice", "")}})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != opRepoCommit+"."+reasonHistoryWriteFailed {
		testContext.Fatalf("expected history write failure, got %v", err)
	}

	var count int64
	if err := database.Model(&NoteRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		testContext.Fatalf("expected note write rolled back, found %d rows", count)
	}
	if logs.FilterMessage("notes service error").Len() != 1 {
		testContext.Fatalf("expected one logged service error, got %d", logs.Len())
	}
}

func TestEngineWithRepositorySurvivesRestart(testContext *testing.T) {
	database := openTestDatabase(testContext)
	newEngine := func() *Engine {
		repository, err := NewRepository(RepositoryConfig{Database: database})
		if err != nil {
			testContext.Fatalf("failed to build repository: %v", err)
		}
		store, err := NewStore(StoreConfig{IDProvider: NewUUIDProvider()})
		if err != nil {
			testContext.Fatalf("failed to build store: %v", err)
		}
		engine, err := NewEngine(EngineConfig{Store: store, AuditLog: NewAuditLog(AuditLogConfig{}), Persister: repository})
		if err != nil {
			testContext.Fatalf("failed to build engine: %v", err)
		}
		if err := engine.Load(context.Background()); err != nil {
			testContext.Fatalf("load failed: %v", err)
		}
		return engine
	}

	first := newEngine()
	created := mustCreate(testContext, first, "persist me", "Alice")
	mustUpdate(testContext, first, UpdateIntent{ID: created.ID, Patch: Patch{Height: floatPointer(90)}, Author: "Bob"})

	restarted := newEngine()
	notes := restarted.Notes()
	if len(notes) != 1 || notes[0].ID != created.ID || notes[0].Author != "Bob" || notes[0].Height == nil {
		testContext.Fatalf("unexpected restored notes %#v", notes)
	}
	if !notes[0].CreatedAt.Equal(created.CreatedAt) {
		testContext.Fatalf("expected createdAt to round-trip, got %s want %s", notes[0].CreatedAt, created.CreatedAt)
	}
	if !equalActions(actionsOf(restarted.History(0)), []Action{ActionCreated, ActionResized}) {
		testContext.Fatalf("unexpected restored history %v", actionsOf(restarted.History(0)))
	}
}
