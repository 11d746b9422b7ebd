package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FiltersAndDelivers(t *testing.T) {
	ok := &recordingSender{name: "ok"}
	broken := &recordingSender{name: "broken", err: errors.New("boom")}
	n := NewNotifier([]Sender{broken, ok}, []string{EventSwapFailed, EventRiskRejected}, 0, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	require.NoError(t, n.Notify(ctx, EventSwapCompleted, "Swap completed", "filtered"))
	require.NoError(t, n.Notify(ctx, EventSwapFailed, "Swap failed", "x"))
	require.NoError(t, n.Notify(ctx, EventRiskRejected, "Swap blocked", "y"))

	assert.Eventually(t, func() bool { return ok.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, broken.count(), "a failing sender does not stop delivery")
	assert.Equal(t, []string{"Swap failed", "Swap blocked"}, ok.titles)
}

func TestNotifier_QueueFullDoesNotBlock(t *testing.T) {
	n := NewNotifier([]Sender{&recordingSender{name: "s"}}, nil, 0, discard())
	for i := 0; i < defaultQueueSize; i++ {
		require.NoError(t, n.Notify(context.Background(), EventSwapFailed, "t", "m"))
	}
	assert.ErrorIs(t, n.Notify(context.Background(), EventSwapFailed, "t", "m"), ErrQueueFull)
}

func TestNotifier_NoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, 0, discard())
	for i := 0; i < defaultQueueSize+1; i++ {
		require.NoError(t, n.Notify(context.Background(), EventSwapFailed, "t", "m"))
	}
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Swap failed", "BTC -> ETH"))
	assert.Equal(t, "**Swap failed**\nBTC -> ETH", got["content"])
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got["chat_id"] == "bad" {
			http.Error(w, `{"ok":false}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	require.NoError(t, NewTelegramSender(srv.URL+"/", "tok", "42").Send(context.Background(), "Swap blocked", "score 95"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Markdown", got["parse_mode"])

	err := NewTelegramSender(srv.URL, "tok", "bad").Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
