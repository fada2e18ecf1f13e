package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tickbot/pkg/logx"
)

var drivers = []string{"sqlite", "sqlite3", "file"}

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheduler.db")
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil && driver == "sqlite3" && strings.Contains(err.Error(), "cgo") {
		t.Skip("mattn/go-sqlite3 needs cgo")
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func forEachDriver(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()
	for _, d := range drivers {
		d := d
		t.Run(d, func(t *testing.T) {
			t.Parallel()
			fn(t, openTestStore(t, d))
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "none"}, logx.Nop())
	require.ErrorIs(t, err, ErrDisabled)
}

func TestIncrementCreatesThenCounts(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		_, ok, err := st.GetStat(ctx, "scheduled_messages")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := st.Increment(ctx, "scheduled_messages")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		n, err = st.Increment(ctx, "scheduled_messages")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		got, ok, err := st.GetStat(ctx, "scheduled_messages")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, Stat{Key: "scheduled_messages", Value: "2"}, got)
	})
}

func TestIncrementKeepsPreseededValue(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.SetStat(ctx, "scheduled_messages", "9"))

		n, err := st.Increment(ctx, "scheduled_messages")
		require.NoError(t, err)
		assert.EqualValues(t, 10, n)

		got, _, err := st.GetStat(ctx, "scheduled_messages")
		require.NoError(t, err)
		assert.Equal(t, "10", got.Value)
	})
}

func TestIncrementRejectsNonInteger(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.SetStat(ctx, "scheduled_messages", "lots"))

		_, err := st.Increment(ctx, "scheduled_messages")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidCounter))

		got, _, err := st.GetStat(ctx, "scheduled_messages")
		require.NoError(t, err)
		assert.Equal(t, "lots", got.Value, "a failed increment must not rewrite the value")
	})
}

func TestIncrementConcurrentCallers(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		const workers, per = 4, 10

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < per; j++ {
					_, err := st.Increment(ctx, "hits")
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		got, _, err := st.GetStat(ctx, "hits")
		require.NoError(t, err)
		assert.Equal(t, "40", got.Value)
	})
}

func TestAppendLogIDsAreMonotonic(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		statuses := []Status{StatusStartup, StatusSuccess, StatusError, StatusSuccess}
		var last int64
		for i, s := range statuses {
			id, err := st.AppendLog(ctx, LogEntry{Timestamp: base.Add(time.Duration(i) * time.Minute), Status: s, Message: string(s)})
			require.NoError(t, err)
			assert.Greater(t, id, last)
			last = id
		}

		logs, err := st.RecentLogs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, logs, len(statuses))
		for i, e := range logs {
			want := statuses[len(statuses)-1-i]
			assert.Equal(t, want, e.Status)
			assert.Equal(t, string(want), e.Message)
		}
		assert.True(t, logs[0].Timestamp.Equal(base.Add(3*time.Minute)))

		newest, err := st.RecentLogs(ctx, 2)
		require.NoError(t, err)
		require.Len(t, newest, 2)
		assert.Equal(t, last, newest[0].ID)
	})
}

func TestFileStoreResumesIDsAfterReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = st.AppendLog(ctx, LogEntry{Status: StatusSuccess, Message: "a"})
	require.NoError(t, err)
	_, err = st.Increment(ctx, "scheduled_messages")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	id, err := st.AppendLog(ctx, LogEntry{Status: StatusSuccess, Message: "b"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, id)

	n, err := st.Increment(ctx, "scheduled_messages")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestApplyPragmasLogsFailures(t *testing.T) {
	t.Parallel()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pragma.db"))
	require.NoError(t, err)

	var buf bytes.Buffer
	log := logx.NewWriter(&buf, "warn")
	assert.Zero(t, applyPragmas(db, 0, log))
	assert.Empty(t, buf.String())

	require.NoError(t, db.Close())
	assert.Equal(t, 3, applyPragmas(db, 2*time.Second, log))
	assert.Contains(t, buf.String(), "sqlite pragma failed")
	assert.Contains(t, buf.String(), "PRAGMA busy_timeout = 2000")
	assert.Contains(t, buf.String(), "PRAGMA journal_mode = WAL")
}
