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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	t.Parallel()
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventSetupClosed, " "}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventDecisionHalt, "halt", "x"))
	require.NoError(t, n.Notify(context.Background(), EventSetupClosed, "closed", "x"))
	require.NoError(t, n.NotifyAll(context.Background(), "all", "x"))

	assert.Equal(t, []string{"closed", "all"}, s.titles)
	assert.True(t, n.Enabled(EventSetupClosed))
	assert.False(t, n.Enabled(EventLessonCreated))
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	t.Parallel()
	n := NewNotifier([]Sender{&recordingSender{name: "rec"}}, nil, discardLogger())
	assert.True(t, n.Enabled(EventLessonCreated))

	none := NewNotifier(nil, nil, discardLogger())
	assert.False(t, none.Enabled(EventLessonCreated))
}

func TestNotifierJoinsFailures(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventLessonCreated, "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"t"}, good.titles)
}

func TestTelegramSender(t *testing.T) {
	t.Parallel()
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42", WithBaseURL(srv.URL))
	require.NoError(t, s.Send(context.Background(), "Setup closed", "BTCUSDT tp_hit"))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Setup closed*\nBTCUSDT tp_hit", got["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL + "/hook").Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 400")
}
