package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "tickbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.logs.jsonl  (append-only JSON Lines, one LogEntry per line)
//   - <prefix>.stats.json  (snapshot of all counters, replaced atomically)
//
// A single process is assumed to own the files; mu serializes callers.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	logFile   *os.File
	logPath   string
	lastID    int64
	statsPath string
	stats     map[string]string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	logPath := prefix + ".logs.jsonl"
	statsPath := prefix + ".stats.json"

	lastID, err := scanLastID(logPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("scan %s: %w", logPath, err)
	}
	stats := map[string]string{}
	if err := loadStats(statsPath, stats); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", statsPath, err)
	}

	lf, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	log.Debug("file store opened", logx.String("logs", logPath), logx.Int64("last_id", lastID))
	return &fileStore{
		log:       log,
		logFile:   lf,
		logPath:   logPath,
		lastID:    lastID,
		statsPath: statsPath,
		stats:     stats,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile == nil {
		return nil
	}
	err := s.logFile.Close()
	s.logFile = nil
	return err
}

func (s *fileStore) AppendLog(ctx context.Context, e LogEntry) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile == nil {
		return 0, errors.New("log file closed")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.ID = s.lastID + 1
	if err := json.NewEncoder(s.logFile).Encode(e); err != nil {
		return 0, fmt.Errorf("append log: %w", err)
	}
	s.lastID = e.ID
	return e.ID, nil
}

func (s *fileStore) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.logPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Ring of the last `limit` entries.
	ring := make([]LogEntry, 0, limit)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e LogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if len(ring) == limit {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]LogEntry, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[i])
	}
	return out, nil
}

func (s *fileStore) Increment(ctx context.Context, key string) (int64, error) {
	_ = ctx
	if strings.TrimSpace(key) == "" {
		return 0, errors.New("counter key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if raw, ok := s.stats[key]; ok {
		v, err := parseCounter(raw)
		if err != nil {
			return 0, fmt.Errorf("counter %q: %w", key, err)
		}
		n = v
	}
	n++

	prev, had := s.stats[key]
	s.stats[key] = strconv.FormatInt(n, 10)
	if err := s.writeStatsLocked(); err != nil {
		if had {
			s.stats[key] = prev
		} else {
			delete(s.stats, key)
		}
		return 0, fmt.Errorf("write counter: %w", err)
	}
	return n, nil
}

func (s *fileStore) GetStat(ctx context.Context, key string) (Stat, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.stats[key]
	if !ok {
		return Stat{}, false, nil
	}
	return Stat{Key: key, Value: v}, true, nil
}

func (s *fileStore) SetStat(ctx context.Context, key, value string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[key] = value
	return s.writeStatsLocked()
}

func (s *fileStore) writeStatsLocked() error {
	tmp := s.statsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.stats); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.statsPath)
}

func loadStats(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func scanLastID(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var last int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if e.ID > last {
			last = e.ID
		}
	}
	return last, sc.Err()
}
