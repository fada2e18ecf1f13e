package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "tickbot/internal/transport"
	logx "tickbot/pkg/logx"
)

type fakeBotAPI struct {
	mu    sync.Mutex
	calls []map[string]any
	fail  bool
}

func (f *fakeBotAPI) handler(t *testing.T, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot"+token+"/sendMessage" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		f.mu.Lock()
		f.calls = append(f.calls, body)
		n := len(f.calls)
		fail := f.fail
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":1700000000,"chat":{"id":123,"type":"private"},"text":"ok"}}`, 100+n)
	})
}

func (f *fakeBotAPI) snapshot() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.calls...)
}

func newTestAdapter(t *testing.T, api *fakeBotAPI) *Adapter {
	t.Helper()
	const token = "42:test-token"
	srv := httptest.NewServer(api.handler(t, token))
	t.Cleanup(srv.Close)

	a, err := New(Config{Token: token, APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	return a
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Token: "  "}, logx.Nop())
	require.Error(t, err)
}

func TestSendTextMarkdown(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)

	ref, err := a.SendText(context.Background(), kit.Target{RecipientID: "123"}, "*hello*", &kit.SendOptions{ParseMode: kit.ParseMarkdown})
	require.NoError(t, err)
	assert.Equal(t, "123", ref.RecipientID)
	assert.Equal(t, "101", ref.MessageID)

	calls := api.snapshot()
	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, "123", fmt.Sprint(call["chat_id"]))
	assert.Equal(t, "*hello*", call["text"])
	assert.Equal(t, "Markdown", call["parse_mode"])
}

func TestSendTextFailureIsDeliveryError(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{fail: true}
	a := newTestAdapter(t, api)

	_, err := a.SendText(context.Background(), kit.Target{RecipientID: "123"}, "hi", nil)
	require.Error(t, err)

	var de *kit.DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, Platform, de.Platform)
	assert.Contains(t, strings.ToLower(err.Error()), "unauthorized")
}

func TestSendTextEmptyRecipient(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)

	_, err := a.SendText(context.Background(), kit.Target{}, "hi", nil)
	require.Error(t, err)
	assert.Empty(t, api.snapshot())
}

func TestSendTextHonorsContextWhileInFlight(t *testing.T) {
	t.Parallel()
	const token = "42:test-token"
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	a, err := New(Config{Token: token, APIURL: srv.URL, Timeout: 30 * time.Second}, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = a.SendText(ctx, kit.Target{RecipientID: "123"}, "hi", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var de *kit.DeliveryError
	require.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)

	text := strings.Repeat("a", textLimit) + "\n" + strings.Repeat("b", 10)
	ref, err := a.SendText(context.Background(), kit.Target{RecipientID: "@channel"}, text, nil)
	require.NoError(t, err)
	assert.Equal(t, "101", ref.MessageID, "ref points at the first chunk")
	assert.Len(t, api.snapshot(), 2)
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		limit int
		mode  kit.ParseMode
		want  []string
	}{
		{name: "short", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "newline boundary", in: "aaaa\nbbbbbb", limit: 8, want: []string{"aaaa", "bbbbbb"}},
		{name: "hard cut", in: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "html tag kept whole", in: "abcdef<b>x</b>", limit: 8, mode: kit.ParseHTML, want: []string{"abcdef", "<b>x</b>"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitText(tt.in, tt.limit, tt.mode))
		})
	}
}
