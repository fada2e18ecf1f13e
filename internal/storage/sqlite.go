package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	logx "tickbot/pkg/logx"
)

const timeLayout = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// openSQLite opens path with the given database/sql driver name
// ("sqlite" for modernc, "sqlite3" for mattn).
func openSQLite(driver string, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	// SQLite prefers a single writer; one connection also serializes our transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	applyPragmas(db, cfg.BusyTimeout, log)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Debug("sqlite opened", logx.String("driver", driver), logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

// applyPragmas tunes the connection. A failed pragma leaves the default in
// place and is logged; the store still works without it.
func applyPragmas(db *sql.DB, busy time.Duration, log logx.Logger) int {
	if busy <= 0 {
		busy = time.Second
	}
	failed := 0
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			failed++
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}
	return failed
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendLog(ctx context.Context, e LogEntry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_logs(timestamp, status, message) VALUES(?,?,?)`,
		e.Timestamp.Format(timeLayout), string(e.Status), e.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("append log: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, status, message FROM scheduled_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e  LogEntry
			ts string
			st string
		)
		if err := rows.Scan(&e.ID, &ts, &st, &e.Message); err != nil {
			return nil, err
		}
		e.Status = Status(st)
		// Rows written by other tools may use a different layout; keep them readable.
		if t, err := time.Parse(timeLayout, ts); err == nil {
			e.Timestamp = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Increment(ctx context.Context, key string) (int64, error) {
	if strings.TrimSpace(key) == "" {
		return 0, errors.New("counter key is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Writing first takes the write lock up front, so a concurrent writer
	// waits instead of failing the read-to-write upgrade.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stats(key, value) VALUES(?, '0') ON CONFLICT(key) DO NOTHING`, key); err != nil {
		return 0, fmt.Errorf("seed counter: %w", err)
	}
	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM stats WHERE key = ?`, key).Scan(&raw); err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	n, err := parseCounter(raw)
	if err != nil {
		return 0, fmt.Errorf("counter %q: %w", key, err)
	}
	n++
	if _, err := tx.ExecContext(ctx, `UPDATE stats SET value = ? WHERE key = ?`, strconv.FormatInt(n, 10), key); err != nil {
		return 0, fmt.Errorf("write counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) GetStat(ctx context.Context, key string) (Stat, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM stats WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return Stat{}, false, nil
	}
	if err != nil {
		return Stat{}, false, err
	}
	return Stat{Key: key, Value: v}, true, nil
}

func (s *sqliteStore) SetStat(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stats(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func parseCounter(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCounter, raw)
	}
	return n, nil
}
