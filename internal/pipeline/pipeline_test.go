package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setupwatch/internal/domain"
	storemem "github.com/alanyoungcy/setupwatch/internal/store/memory"
)

var now = time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeArchiver struct {
	cutoffs []time.Time
	err     error
}

func (f *fakeArchiver) ArchiveSetups(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 3, f.err
}

func (f *fakeArchiver) ArchiveDecisions(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 5, nil
}

func (f *fakeArchiver) ArchiveLessons(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 2, nil
}

func TestArchiverRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storemem.New()
	require.NoError(t, store.Prices.Append(ctx, domain.PriceObservation{Symbol: "ES", Price: 5000, ObservedAt: now.Add(-40 * 24 * time.Hour)}))
	require.NoError(t, store.Prices.Append(ctx, domain.PriceObservation{Symbol: "ES", Price: 5010, ObservedAt: now.Add(-time.Hour)}))

	fa := &fakeArchiver{}
	a := NewArchiver(fa, store.Prices, ArchiverConfig{RetentionDays: 10}, discardLogger())
	a.now = func() time.Time { return now }

	res, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Setups: 3, Decisions: 5, Lessons: 2, Prices: 1}, res)
	require.Len(t, fa.cutoffs, 3)
	assert.Equal(t, now.Add(-10*24*time.Hour), fa.cutoffs[0])

	path, err := store.Prices.Path(ctx, "ES", now.Add(-100*24*time.Hour), now)
	require.NoError(t, err)
	assert.Len(t, path, 1)
}

func TestArchiverContinuesPastFailure(t *testing.T) {
	t.Parallel()
	fa := &fakeArchiver{err: errors.New("bucket gone")}
	a := NewArchiver(fa, storemem.New().Prices, ArchiverConfig{}, discardLogger())
	a.now = func() time.Time { return now }

	res, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archiving setups")
	assert.Equal(t, int64(5), res.Decisions)
	assert.Len(t, fa.cutoffs, 3)
}

func TestArchiverWithoutBlobOnlyPrunes(t *testing.T) {
	t.Parallel()
	a := NewArchiver(nil, storemem.New().Prices, ArchiverConfig{}, discardLogger())
	res, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestOrchestratorRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	a := NewArchiver(nil, nil, ArchiverConfig{}, discardLogger())
	err := NewOrchestrator(a, "every tuesday", discardLogger()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse schedule")
}

func TestOrchestratorStopsOnCancel(t *testing.T) {
	t.Parallel()
	a := NewArchiver(nil, nil, ArchiverConfig{}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewOrchestrator(a, "@hourly", discardLogger()).Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
