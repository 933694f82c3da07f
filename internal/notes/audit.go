package notes

import (
	"sync"
	"time"
)

// DefaultHistoryLimit is the window returned by Recent for non-positive limits.
const DefaultHistoryLimit = 50

// AuditLogConfig describes the dependencies of an AuditLog.
type AuditLogConfig struct {
	Clock        func() time.Time
	DefaultLimit int
}

// AuditLog owns the append-only sequence of history entries.
type AuditLog struct {
	mu           sync.RWMutex
	entries      []HistoryEntry
	clock        func() time.Time
	defaultLimit int
}

// NewAuditLog constructs an empty AuditLog.
func NewAuditLog(cfg AuditLogConfig) *AuditLog {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultHistoryLimit
	}
	return &AuditLog{
		clock:        clock,
		defaultLimit: defaultLimit,
	}
}

// Restore replaces the stored entries, typically with history loaded at startup.
func (l *AuditLog) Restore(entries []HistoryEntry) {
	restored := make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		restored = append(restored, cloneEntry(entry))
	}
	l.mu.Lock()
	l.entries = restored
	l.mu.Unlock()
}

// Append stamps and stores entries at the end of the log, returning what was stored.
func (l *AuditLog) Append(entries ...HistoryEntry) []HistoryEntry {
	stamped := l.stamp(entries)
	l.commit(stamped)
	return stamped
}

// Recent returns the last limit entries, oldest first.
func (l *AuditLog) Recent(limit int) []HistoryEntry {
	if limit <= 0 {
		limit = l.defaultLimit
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := len(l.entries) - limit
	if start < 0 {
		start = 0
	}
	window := make([]HistoryEntry, 0, len(l.entries)-start)
	for _, entry := range l.entries[start:] {
		window = append(window, cloneEntry(entry))
	}
	return window
}

// Len reports the number of stored entries.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// stamp assigns the current time to entries that carry none.
func (l *AuditLog) stamp(entries []HistoryEntry) []HistoryEntry {
	now := l.clock().UTC().Truncate(time.Millisecond)
	stamped := make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		copied := cloneEntry(entry)
		if copied.Timestamp.IsZero() {
			copied.Timestamp = now
		}
		stamped = append(stamped, copied)
	}
	return stamped
}

func (l *AuditLog) commit(entries []HistoryEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entries...)
	l.mu.Unlock()
}

func cloneEntry(entry HistoryEntry) HistoryEntry {
	copied := entry
	copied.Attachments = cloneAttachments(entry.Attachments)
	return copied
}
