package notes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func newSteppingClock(start time.Time, step time.Duration) *steppingClock {
	return &steppingClock{current: start, step: step}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

func sequentialIDs(prefix string) IDProvider {
	var mu sync.Mutex
	next := 0
	return IDProviderFunc(func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("%s-%d", prefix, next), nil
	})
}

type recordingPersister struct {
	mu        sync.Mutex
	snapshot  Snapshot
	commits   []Commit
	failNext  error
	loadError error
}

func (p *recordingPersister) Load(context.Context) (Snapshot, error) {
	if p.loadError != nil {
		return Snapshot{}, p.loadError
	}
	return p.snapshot, nil
}

func (p *recordingPersister) Commit(_ context.Context, commit Commit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return err
	}
	p.commits = append(p.commits, commit)
	return nil
}

func (p *recordingPersister) commitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.commits)
}

type recordingCleanup struct {
	mu        sync.Mutex
	scheduled []Attachment
}

func (c *recordingCleanup) Schedule(attachments ...Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduled = append(c.scheduled, attachments...)
}

type engineFixture struct {
	engine    *Engine
	store     *Store
	audit     *AuditLog
	persister *recordingPersister
	cleanup   *recordingCleanup
	published *[]Notification
}

func newEngineFixture(t *testing.T) engineFixture {
	t.Helper()
	clock := newSteppingClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), time.Second)
	store, err := NewStore(StoreConfig{Clock: clock.Now, IDProvider: sequentialIDs("note")})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	audit := NewAuditLog(AuditLogConfig{Clock: clock.Now})
	persister := &recordingPersister{}
	cleanup := &recordingCleanup{}
	published := []Notification{}
	engine, err := NewEngine(EngineConfig{
		Store:     store,
		AuditLog:  audit,
		Persister: persister,
		Cleanup:   cleanup,
		Publisher: PublisherFunc(func(notification Notification) {
			published = append(published, notification)
		}),
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return engineFixture{
		engine:    engine,
		store:     store,
		audit:     audit,
		persister: persister,
		cleanup:   cleanup,
		published: &published,
	}
}

func mustCreate(t *testing.T, engine *Engine, text, author string) Note {
	t.Helper()
	result, err := engine.HandleCreate(context.Background(), CreateIntent{Text: text, Author: author, CreatorID: "socket-1"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if result.Note == nil {
		t.Fatalf("expected created note")
	}
	return *result.Note
}

func mustUpdate(t *testing.T, engine *Engine, intent UpdateIntent) Result {
	t.Helper()
	result, err := engine.HandleUpdate(context.Background(), intent)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	return result
}

func stringPointer(value string) *string {
	return &value
}

func floatPointer(value float64) *float64 {
	return &value
}

func attachmentsPointer(attachments ...Attachment) *[]Attachment {
	if attachments == nil {
		attachments = []Attachment{}
	}
	return &attachments
}

func attachment(filename, originalName string) Attachment {
	return Attachment{Filename: filename, OriginalName: originalName, URL: "/uploads/" + filename}
}

func actionsOf(entries []HistoryEntry) []Action {
	actions := make([]Action, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

func equalActions(left, right []Action) bool {
	if len(left) != len(right) {
		return false
	}
	for index := range left {
		if left[index] != right[index] {
			return false
		}
	}
	return true
}

var errDiskFull = errors.New("disk full")
