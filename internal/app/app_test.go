package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setupwatch/internal/config"
	"github.com/alanyoungcy/setupwatch/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.Driver = "memory"
	cfg.Journal.SQLitePath = filepath.Join(t.TempDir(), "journal.db")
	cfg.Calendar.Events = []config.CalendarEventConfig{{
		Name:        "FOMC",
		Impact:      "HIGH",
		ScheduledAt: time.Now().UTC().Add(time.Hour),
	}}
	return &cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestWireMemoryDefaults(t *testing.T) {
	t.Parallel()
	cfg := memoryConfig(t)

	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	assert.NotNil(t, deps.Setups)
	assert.NotNil(t, deps.SignalBus)
	assert.NotNil(t, deps.Journal)
	assert.Nil(t, deps.Charts)
	assert.Nil(t, deps.Summarizer)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Checks)
}

func TestSeedCalendarFromConfig(t *testing.T) {
	t.Parallel()
	cfg := memoryConfig(t)
	a := New(cfg, discardLogger())

	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	svc := a.buildServices(deps)
	require.NoError(t, a.seedCalendar(context.Background(), svc))
	// Seeding twice keeps one event.
	require.NoError(t, a.seedCalendar(context.Background(), svc))

	evs, err := deps.Calendar.Between(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.ImpactHigh, evs[0].Impact)
}

func TestSeedCalendarRejectsBadImpact(t *testing.T) {
	t.Parallel()
	cfg := memoryConfig(t)
	cfg.Calendar.Events[0].Impact = "extreme"
	a := New(cfg, discardLogger())

	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	err = a.seedCalendar(context.Background(), a.buildServices(deps))
	assert.ErrorIs(t, err, domain.ErrInvalidProposal)
}

func TestRunAPIModeServesHealth(t *testing.T) {
	t.Parallel()
	cfg := memoryConfig(t)
	cfg.Mode = "api"
	cfg.Server.Port = freePort(t)

	a := New(cfg, discardLogger())
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := "http://127.0.0.1:" + strconv.Itoa(cfg.Server.Port) + "/api/health"
	var body map[string]any
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(resp.Body).Decode(&body) == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "api", body["mode"])

	cancel()
	select {
	case err := <-done:
		if err != nil {
			assert.True(t, errors.Is(err, context.Canceled), err.Error())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	t.Parallel()
	cfg := memoryConfig(t)
	cfg.Mode = "trade"
	a := New(cfg, discardLogger())
	t.Cleanup(a.Close)

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}
