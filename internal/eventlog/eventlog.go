// Package eventlog keeps the persisted diagnostic log shown in the
// options UI. It records what the console logger says, but survives
// restarts and is capped.
package eventlog

import (
	"context"
	"time"

	"github.com/johnrirwin/feedwatch/internal/storage"
)

const (
	// maxEntries caps the stored log.
	maxEntries = 5000
	// truncateBy is how many of the oldest entries are dropped when the
	// cap is exceeded. Dropping a block instead of one entry avoids
	// rewriting the log on every append near the cap.
	truncateBy = 100
)

// Severity of a log entry.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Entry is one diagnostic log line. Timestamp is milliseconds.
type Entry struct {
	Timestamp int64    `json:"timestamp"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
}

// Log appends entries to the persisted diagnostic log.
type Log struct {
	store storage.Store
	now   func() time.Time
}

// New creates an event log over the given store.
func New(store storage.Store) *Log {
	return &Log{store: store, now: time.Now}
}

// Append adds one entry, truncating the oldest block when the cap is
// exceeded.
func (l *Log) Append(ctx context.Context, severity Severity, message string) error {
	entries, err := l.Entries(ctx)
	if err != nil {
		return err
	}

	entries = appendEntry(entries, Entry{
		Timestamp: l.now().UnixMilli(),
		Severity:  severity,
		Message:   message,
	})
	return l.store.Set(ctx, storage.KeyEventLog, entries)
}

// Entries returns the stored log, oldest first.
func (l *Log) Entries(ctx context.Context) ([]Entry, error) {
	entries := []Entry{}
	if _, err := l.store.Get(ctx, storage.KeyEventLog, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// appendEntry applies the cap-and-truncate policy.
func appendEntry(entries []Entry, entry Entry) []Entry {
	entries = append(entries, entry)
	if len(entries) > maxEntries {
		entries = entries[truncateBy:]
	}
	return entries
}
