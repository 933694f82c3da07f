package notes

import "context"

// Snapshot is the durable state read at startup.
type Snapshot struct {
	Notes   []Note
	History []HistoryEntry
}

// Commit describes the durable effect of one mutation. It is written atomically.
type Commit struct {
	Upsert   *Note
	DeleteID string
	Entries  []HistoryEntry
}

// Persister is the durable storage collaborator of the Engine.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Commit(ctx context.Context, commit Commit) error
}
