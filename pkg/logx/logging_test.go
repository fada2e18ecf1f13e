package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "tickbot/internal/transport"
)

type recordingMessenger struct {
	mu   sync.Mutex
	sent []string
	to   []string
}

func (m *recordingMessenger) Platform() string { return "test" }

func (m *recordingMessenger) SendText(_ context.Context, to kit.Target, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	m.to = append(m.to, to.RecipientID)
	return kit.MessageRef{RecipientID: to.RecipientID}, nil
}

func (m *recordingMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestZeroLoggerIsNop(t *testing.T) {
	t.Parallel()
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	assert.False(t, Nop().IsZero())
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "test"))
	l.Info("hello", Int("n", 3), Err(nil))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "test", m["comp"])
	assert.EqualValues(t, 3, m["n"])
	assert.NotContains(t, m, "err")
	assert.Contains(t, m["caller"], "logging_test.go")
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("skip")
	assert.Zero(t, buf.Len())
	assert.True(t, l.Enabled(LevelError))
	assert.False(t, l.Enabled(LevelDebug))
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "debug", "INFO", "warning", "error"} {
		assert.True(t, ValidLevel(s), s)
	}
	assert.False(t, ValidLevel("loud"))
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"send failed","err":"boom","comp":"delivery"}`)
	assert.Equal(t, "[WARN] send failed\n- comp=delivery\n- err=boom", formatChatLine(line))
	assert.Equal(t, "not json", formatChatLine([]byte("  not json \n")))
}

func TestChatSinkForwardsWarnings(t *testing.T) {
	m := &recordingMessenger{}
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, RecipientID: "ops", MinLevel: "warn", RatePerSec: 5},
		File:  FileConfig{},
	}, nil)
	svc.SetSender(m)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("quiet")
	log.Warn("loud", String("k", "v"))

	require.Eventually(t, func() bool { return m.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, "ops", m.to[0])
	assert.True(t, strings.HasPrefix(m.sent[0], "[WARN] loud"))
}
