package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrInvalidCounter is returned when a stored counter value is not a decimal integer.
	ErrInvalidCounter = errors.New("counter value is not an integer")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite":  SQLite via modernc.org/sqlite (pure Go, default)
//   - "sqlite3": SQLite via mattn/go-sqlite3 (requires cgo)
//   - "file":    dependency-free JSON Lines log + JSON stats snapshot
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusStartup Status = "startup"
)

// LogEntry is one row of the append-only delivery log.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
}

// Stat is a named counter. Value is a string-encoded integer.
type Stat struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Store is the persistence API used by the delivery unit and the CLI.
type Store interface {
	// AppendLog inserts e and returns its auto-assigned, strictly increasing id.
	AppendLog(ctx context.Context, e LogEntry) (int64, error)
	// RecentLogs returns up to limit entries, newest first.
	RecentLogs(ctx context.Context, limit int) ([]LogEntry, error)

	// Increment adds one to the counter at key (absent counts as 0) and
	// returns the new value. It is atomic with respect to other callers.
	Increment(ctx context.Context, key string) (int64, error)
	GetStat(ctx context.Context, key string) (Stat, bool, error)
	SetStat(ctx context.Context, key, value string) error

	Close() error
}
