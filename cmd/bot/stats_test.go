package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickbot/internal/storage"
	logx "tickbot/pkg/logx"
)

func TestPrintStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "scheduler.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	_, err = st.AppendLog(ctx, storage.LogEntry{Timestamp: at, Status: storage.StatusStartup, Message: "Scheduler started at 2026-01-02 03:04:05 UTC"})
	require.NoError(t, err)
	_, err = st.AppendLog(ctx, storage.LogEntry{Timestamp: at, Status: storage.StatusSuccess, Message: "Message sent at 2026-01-02 03:04:05 UTC"})
	require.NoError(t, err)
	_, err = st.Increment(ctx, "scheduled_messages")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printStats(ctx, &out, st, "scheduled_messages", 10))
	s := out.String()
	assert.Contains(t, s, "scheduled_messages: 1")
	assert.Contains(t, s, "STATUS")
	assert.Contains(t, s, "success")
	assert.Contains(t, s, "Scheduler started at 2026-01-02 03:04:05 UTC")
}

func TestPrintStatsEmpty(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "scheduler")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	var out bytes.Buffer
	require.NoError(t, printStats(context.Background(), &out, st, "scheduled_messages", 5))
	assert.Contains(t, out.String(), "scheduled_messages: 0")
	assert.Contains(t, out.String(), "no deliveries logged yet")
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, loadEnvFile(""))

	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte("TICKBOT_TEST_SCHEDULE=5m\n"), 0o600))
	t.Setenv("TICKBOT_TEST_SCHEDULE", "")
	require.NoError(t, os.Unsetenv("TICKBOT_TEST_SCHEDULE"))
	require.NoError(t, loadEnvFile(p))
	assert.Equal(t, "5m", os.Getenv("TICKBOT_TEST_SCHEDULE"))
}
