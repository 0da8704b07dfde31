package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setupwatch/internal/analyzer"
	cachemem "github.com/alanyoungcy/setupwatch/internal/cache/memory"
	"github.com/alanyoungcy/setupwatch/internal/decision"
	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/lifecycle"
	"github.com/alanyoungcy/setupwatch/internal/market"
	"github.com/alanyoungcy/setupwatch/internal/risk"
	storemem "github.com/alanyoungcy/setupwatch/internal/store/memory"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	store     *storemem.Store
	bus       *cachemem.SignalBus
	locks     *cachemem.LockManager
	market    *market.PriceTracker
	proposals *ProposalService
	tracker   *Tracker
	outcomes  *OutcomeService
	sweeper   *Sweeper
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  storemem.New(),
		bus:    cachemem.NewSignalBus(0),
		locks:  cachemem.NewLockManager(),
		market: market.NewPriceTracker(market.Config{}),
	}
	logger := discardLogger()

	h.proposals = NewProposalService(ProposalDeps{
		Evaluator:   risk.NewEvaluator(risk.DefaultConfig()),
		Engine:      decision.NewEngine(decision.DefaultConfig(), decision.WithClock(func() time.Time { return t0 })),
		Windows:     lifecycle.DefaultWindows(),
		Decisions:   h.store.Decisions,
		Attachments: h.store.Attachments,
		Audit:       h.store.Audit,
		Calendar:    h.store.Calendar,
		Exposure:    NewExposureProvider(h.store.Setups, 0.01),
		Signals:     NewMarketSignalProvider(h.market),
		Bus:         h.bus,
		Logger:      logger,
	})
	h.proposals.now = func() time.Time { return t0 }

	h.outcomes = NewOutcomeService(OutcomeConfig{}, OutcomeDeps{
		Analyzer: analyzer.New(nil),
		Setups:   h.store.Setups,
		Lessons:  h.store.Lessons,
		Prices:   h.store.Prices,
		Bus:      h.bus,
		Logger:   logger,
	})
	h.tracker = NewTracker(TrackerConfig{}, TrackerDeps{
		Setups:      h.store.Setups,
		Prices:      h.store.Prices,
		PriceCache:  cachemem.NewPriceCache(),
		Market:      h.market,
		Attachments: h.store.Attachments,
		Outcomes:    h.outcomes,
		Bus:         h.bus,
		Logger:      logger,
	})
	h.sweeper = NewSweeper(SweeperConfig{}, h.store.Setups, h.tracker, h.locks, logger)
	return h
}

func daxProposal() domain.TradeProposal {
	return domain.TradeProposal{
		Symbol:     "DAX",
		Side:       domain.SideLong,
		Entry:      19500,
		Stop:       19450,
		Target:     19600,
		Confidence: 0.7,
		Timeframe:  "1h",
	}
}

func tick(symbol string, price float64, at time.Time) domain.PriceObservation {
	return domain.PriceObservation{Symbol: symbol, Price: price, ObservedAt: at}
}

// openDAX submits the DAX proposal and returns its setup ID.
func (h *harness) openDAX(t *testing.T) string {
	t.Helper()
	d, err := h.proposals.Submit(context.Background(), daxProposal())
	require.NoError(t, err)
	require.Equal(t, domain.ActionExecute, d.Action)
	require.NotEmpty(t, d.SetupID)
	return d.SetupID
}

func (h *harness) setup(t *testing.T, id string) domain.Setup {
	t.Helper()
	s, err := h.store.Setups.GetByID(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestSubmitExecuteCreatesSetup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.bus.Subscribe(ctx, domain.ChannelDecisions)
	require.NoError(t, err)

	d, err := h.proposals.Submit(ctx, daxProposal())
	require.NoError(t, err)

	assert.Equal(t, domain.ActionExecute, d.Action)
	assert.InDelta(t, 2.0, d.RiskReward, 1e-9)
	assert.InDelta(t, 0.5, d.BiasScore, 1e-9)
	assert.NotEmpty(t, d.ID)
	assert.NotEmpty(t, d.Proposal.ID)

	s := h.setup(t, d.SetupID)
	assert.Equal(t, domain.SetupPending, s.Status)
	assert.Equal(t, t0.Add(48*time.Hour), s.ValidUntil)
	assert.Equal(t, d.ID, s.DecisionID)

	view, err := h.proposals.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.SetupID, view.SetupID)
	assert.NotNil(t, view.Attachments)

	select {
	case raw := <-sub:
		var env struct {
			Type string          `json:"type"`
			Data domain.Decision `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, MsgDecision, env.Type)
		assert.Equal(t, d.ID, env.Data.ID)
	case <-time.After(time.Second):
		t.Fatal("no decision published")
	}

	audit, err := h.store.Audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "decision", audit[0].Event)
}

func TestSubmitAgainstTrendWaits(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	// A long quiet history, then a choppy sell-off.
	start := t0.Add(-230 * time.Minute)
	for i := 0; i < 200; i++ {
		p := 20000.0
		if i%2 == 1 {
			p = 20002
		}
		h.market.Track(tick("DAX", p, start.Add(time.Duration(i)*time.Minute)))
	}
	for i := 0; i < 30; i++ {
		p := 20000 - float64(i)*100
		if i%2 == 1 {
			p += 200
		}
		h.market.Track(tick("DAX", p, start.Add(time.Duration(200+i)*time.Minute)))
	}

	d, err := h.proposals.Submit(ctx, daxProposal())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionWait, d.Action)
	assert.Less(t, d.BiasScore, 0.4)
	assert.Empty(t, d.SetupID)

	open, err := h.store.Setups.CountOpen(ctx)
	require.NoError(t, err)
	assert.Zero(t, open)

	stored, err := h.store.Decisions.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionWait, stored.Action)
}

func TestSubmitHaltsBeforeHighImpactEvent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.Calendar.Upsert(ctx, domain.CalendarEvent{
		ID: "ev-1", Name: "ECB rate decision", Symbols: []string{"DAX"},
		Impact: domain.ImpactHigh, ScheduledAt: t0.Add(10 * time.Minute),
	}))

	d, err := h.proposals.Submit(ctx, daxProposal())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHalt, d.Action)
	assert.True(t, d.Risk.HighRiskEvent)
	assert.Equal(t, "ECB rate decision", d.Risk.EventName)
	assert.Empty(t, d.SetupID)
}

func TestSubmitReducesOverExposureCap(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, h.store.Setups.Create(ctx, domain.Setup{
			ID: fmt.Sprintf("open-%d", i), Symbol: "ES", Side: domain.SideLong,
			Entry: 100, Stop: 95, Target: 110, Status: domain.SetupPending,
			ValidUntil: t0.Add(time.Hour), CreatedAt: t0,
		}))
	}

	d, err := h.proposals.Submit(ctx, daxProposal())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionReduce, d.Action)
	assert.InDelta(t, 0.06, d.Risk.Exposure, 1e-9)
	assert.InDelta(t, 1.0/6, d.SizeReduction, 1e-3)
	assert.Empty(t, d.SetupID)
}

func TestSubmitRejectsMalformedProposal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	p := daxProposal()
	p.Stop = -1
	_, err := h.proposals.Submit(ctx, p)
	require.ErrorIs(t, err, domain.ErrInvalidProposal)

	ds, err := h.proposals.ListRecent(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, ds)
}

type failingCalendar struct{}

func (failingCalendar) Upsert(context.Context, domain.CalendarEvent) error { return errors.New("down") }

func (failingCalendar) Between(context.Context, time.Time, time.Time) ([]domain.CalendarEvent, error) {
	return nil, errors.New("down")
}

// failingExecute refuses to store EXECUTE decisions.
type failingExecute struct {
	domain.DecisionStore
}

func (failingExecute) CreateWithSetup(context.Context, domain.Decision, domain.Setup) error {
	return errors.New("disk full")
}

func TestSubmitLeavesNothingWhenSetupWriteFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.proposals.d.Decisions = failingExecute{DecisionStore: h.store.Decisions}

	_, err := h.proposals.Submit(ctx, daxProposal())
	require.Error(t, err)

	ds, err := h.store.Decisions.ListRecent(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, ds)
	setups, err := h.store.Setups.List(ctx, domain.SetupFilter{})
	require.NoError(t, err)
	assert.Empty(t, setups)
}

func TestSubmitDegradesWhenProvidersFail(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.proposals.d.Calendar = failingCalendar{}

	d, err := h.proposals.Submit(context.Background(), daxProposal())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionExecute, d.Action)
	assert.False(t, d.Risk.HighRiskEvent)
}

func TestTrackerTargetHit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.openDAX(t)

	var all []Transition
	for i, p := range []float64{19520, 19490, 19550, 19610} {
		trs, err := h.tracker.Apply(ctx, tick("DAX", p, t0.Add(time.Duration(i+1)*time.Minute)))
		require.NoError(t, err)
		all = append(all, trs...)
	}

	require.Len(t, all, 2)
	assert.Equal(t, domain.SetupEntryHit, all[0].To)
	assert.Equal(t, domain.SetupTPHit, all[1].To)

	s := h.setup(t, id)
	assert.Equal(t, domain.SetupTPHit, s.Status)
	require.NotNil(t, s.Outcome)
	assert.Equal(t, domain.OutcomeWin, *s.Outcome)
	require.NotNil(t, s.ExitPrice)
	assert.InDelta(t, 19610, *s.ExitPrice, 0)
	require.NotNil(t, s.PnLPercent)
	assert.InDelta(t, 0.5641, *s.PnLPercent, 1e-4)
	assert.Equal(t, t0.Add(4*time.Minute), *s.ClosedAt)

	path, err := h.store.Prices.Path(ctx, "DAX", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, path, 4)
}

func TestTrackerStopHit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.openDAX(t)

	_, err := h.tracker.Apply(ctx, tick("DAX", 19500, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, domain.SetupEntryHit, h.setup(t, id).Status)

	trs, err := h.tracker.Apply(ctx, domain.PriceObservation{
		Symbol: "DAX", Price: 19470, High: 19520, Low: 19440, ObservedAt: t0.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, trs, 1)

	s := h.setup(t, id)
	assert.Equal(t, domain.SetupStopHit, s.Status)
	assert.Equal(t, domain.OutcomeLoss, *s.Outcome)
	assert.InDelta(t, 19450, *s.ExitPrice, 0)
}

func TestTrackerClosedSetupStaysClosed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.openDAX(t)

	_, err := h.tracker.Apply(ctx, tick("DAX", 19500, t0.Add(time.Minute)))
	require.NoError(t, err)
	_, err = h.tracker.Apply(ctx, tick("DAX", 19600, t0.Add(2*time.Minute)))
	require.NoError(t, err)
	closed := h.setup(t, id)

	trs, err := h.tracker.Apply(ctx, tick("DAX", 19400, t0.Add(3*time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, trs)
	assert.Equal(t, closed, h.setup(t, id))

	_, err = h.tracker.Invalidate(ctx, id, "manual")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTrackerSkipsStaleObservation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.openDAX(t)

	_, err := h.tracker.Apply(ctx, tick("DAX", 19520, t0.Add(5*time.Minute)))
	require.NoError(t, err)
	before := h.setup(t, id)

	trs, err := h.tracker.Apply(ctx, tick("DAX", 19500, t0.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, trs)
	assert.Equal(t, before, h.setup(t, id))
}

func TestTrackerRejectsBadObservation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.tracker.Apply(context.Background(), tick("DAX", 0, t0))
	assert.ErrorIs(t, err, domain.ErrInvalidProposal)
}

func TestTrackerInvalidate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.openDAX(t)

	tr, err := h.tracker.Invalidate(ctx, id, "news")
	require.NoError(t, err)
	assert.Equal(t, domain.SetupExpired, tr.To)
	require.NotNil(t, tr.Outcome)
	assert.Equal(t, domain.OutcomeInvalidated, *tr.Outcome)
}

// conflictingSetups fails the first n updates with a version conflict.
type conflictingSetups struct {
	domain.SetupStore
	n int
}

func (c *conflictingSetups) Update(ctx context.Context, s domain.Setup) (domain.Setup, error) {
	if c.n > 0 {
		c.n--
		return domain.Setup{}, fmt.Errorf("update: %w", domain.ErrVersionConflict)
	}
	return c.SetupStore.Update(ctx, s)
}

func TestTrackerRetriesVersionConflictOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.openDAX(t)

	h.tracker.d.Setups = &conflictingSetups{SetupStore: h.store.Setups, n: 1}
	trs, err := h.tracker.Apply(ctx, tick("DAX", 19500, t0.Add(time.Minute)))
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, domain.SetupEntryHit, h.setup(t, id).Status)

	h.tracker.d.Setups = &conflictingSetups{SetupStore: h.store.Setups, n: 2}
	trs, err = h.tracker.Apply(ctx, tick("DAX", 19600, t0.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, trs)
	assert.Equal(t, domain.SetupEntryHit, h.setup(t, id).Status)
}

// corrupt stores an outcome on the pending setup id without closing it.
func (h *harness) corrupt(t *testing.T, id string) {
	t.Helper()
	missed := domain.OutcomeMissed
	s := h.setup(t, id)
	s.Outcome = &missed
	_, err := h.store.Setups.Update(context.Background(), s)
	require.NoError(t, err)
}

func TestTrackerRepairsInconsistentSetup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.openDAX(t)
	h.corrupt(t, id)

	trs, err := h.tracker.Apply(ctx, tick("DAX", 19500, t0.Add(time.Minute)))
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, domain.SetupEntryHit, trs[0].To)

	s := h.setup(t, id)
	assert.Equal(t, domain.SetupEntryHit, s.Status)
	assert.Nil(t, s.Outcome)
	assert.Nil(t, s.ClosedAt)
	assert.NoError(t, lifecycle.CheckConsistency(s))
}

func TestTrackerPersistsRepairWithoutTransition(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.openDAX(t)

	_, err := h.tracker.Apply(ctx, tick("DAX", 19520, t0.Add(5*time.Minute)))
	require.NoError(t, err)
	h.corrupt(t, id)

	// Stale for the automaton, but the repair still lands.
	trs, err := h.tracker.Apply(ctx, tick("DAX", 19510, t0.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Empty(t, trs)
	assert.Nil(t, h.setup(t, id).Outcome)
}

func TestTrackerStrictRejectsInconsistentSetup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.tracker.cfg.Strict = true
	ctx := context.Background()
	id := h.openDAX(t)
	h.corrupt(t, id)

	_, err := h.tracker.Apply(ctx, tick("DAX", 19500, t0.Add(time.Minute)))
	assert.ErrorIs(t, err, domain.ErrInconsistentSetup)

	s := h.setup(t, id)
	assert.Equal(t, domain.SetupPending, s.Status)
	assert.NotNil(t, s.Outcome)
}

func TestTrackerRunProcessesSubmissions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.openDAX(t)

	assert.False(t, h.tracker.Submit(tick("DAX", 19500, t0.Add(time.Minute))))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.tracker.Run(ctx) }()

	obs := tick("DAX", 19500, t0.Add(time.Minute))
	assert.Eventually(t, func() bool { return h.tracker.Submit(obs) }, time.Second, 5*time.Millisecond)
	assert.False(t, h.tracker.Submit(obs), "duplicate must be dropped")
	assert.Eventually(t, func() bool {
		return h.setup(t, id).Status == domain.SetupEntryHit
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSweepExpiresDueSetups(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.openDAX(t)
	validUntil := h.setup(t, id).ValidUntil

	sub, err := h.bus.Subscribe(ctx, domain.ChannelSetups)
	require.NoError(t, err)

	h.sweeper.now = func() time.Time { return validUntil.Add(-time.Minute) }
	n, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.sweeper.now = func() time.Time { return validUntil.Add(time.Minute) }
	n, err = h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s := h.setup(t, id)
	assert.Equal(t, domain.SetupExpired, s.Status)
	assert.Equal(t, domain.OutcomeMissed, *s.Outcome)
	assert.Equal(t, validUntil, *s.ClosedAt)

	select {
	case raw := <-sub:
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, MsgSetupClose, env.Type)
	case <-time.After(time.Second):
		t.Fatal("no setup_closed published")
	}
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.openDAX(t)

	unlock, err := h.locks.Acquire(ctx, sweepLock, time.Minute)
	require.NoError(t, err)
	defer unlock()

	h.sweeper.now = func() time.Time { return t0.Add(100 * time.Hour) }
	n, err := h.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.SetupPending, h.setup(t, id).Status)
}

func TestOutcomeProcessIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.openDAX(t)

	for i, p := range []float64{19500, 19490, 19480, 19470, 19460, 19450} {
		_, err := h.tracker.Apply(ctx, tick("DAX", p, t0.Add(time.Duration(i+1)*time.Minute)))
		require.NoError(t, err)
	}
	require.Equal(t, domain.SetupStopHit, h.setup(t, id).Status)

	first, err := h.outcomes.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, first.SetupID)
	assert.Equal(t, analyzer.CauseWrongDirection, first.RootCause)

	second, err := h.outcomes.Process(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := h.outcomes.Lesson(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	// The tracker queued the setup when it closed.
	select {
	case queued := <-h.outcomes.queue:
		assert.Equal(t, id, queued)
	default:
		t.Fatal("closed setup was not queued")
	}
}

func TestOutcomeWatchesPricesAfterStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.openDAX(t)

	// Stopped out on a slow decline, then the target trades.
	for i, p := range []float64{19500, 19490, 19480, 19470, 19460, 19450, 19500, 19550, 19610} {
		_, err := h.tracker.Apply(ctx, tick("DAX", p, t0.Add(time.Duration(i+1)*time.Minute)))
		require.NoError(t, err)
	}
	s := h.setup(t, id)
	require.Equal(t, domain.SetupStopHit, s.Status)
	closed := *s.ClosedAt

	h.outcomes.now = func() time.Time { return closed.Add(10 * time.Minute) }
	n, err := h.outcomes.Backfill(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = h.outcomes.Lesson(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	h.outcomes.now = func() time.Time { return closed.Add(2 * time.Hour) }
	n, err = h.outcomes.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	l, err := h.outcomes.Lesson(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, analyzer.CauseStopTooTight, l.RootCause)
}

func TestOutcomeRejectsOpenSetup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.openDAX(t)

	_, err := h.outcomes.Process(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestOutcomeBackfill(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	missed := domain.OutcomeMissed
	closed := t0.Add(48 * time.Hour)
	for _, id := range []string{"old-1", "old-2"} {
		require.NoError(t, h.store.Setups.Create(ctx, domain.Setup{
			ID: id, Symbol: "ES", Side: domain.SideShort, Entry: 100, Stop: 105, Target: 90,
			Status: domain.SetupExpired, Outcome: &missed, ValidUntil: closed, ClosedAt: &closed, CreatedAt: t0,
		}))
	}

	n, err := h.outcomes.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.outcomes.Backfill(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	lessons, err := h.outcomes.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	assert.Equal(t, analyzer.CauseNeverTriggered, lessons[0].RootCause)
}

func TestCalendarServiceSeedIsStable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	cal := NewCalendarService(h.store.Calendar, discardLogger())

	events := []domain.CalendarEvent{
		{Name: "US CPI", ScheduledAt: t0.Add(time.Hour)},
		{Name: "FOMC", Impact: domain.ImpactMedium, ScheduledAt: t0.Add(2 * time.Hour), Symbols: []string{"ES"}},
	}
	require.NoError(t, cal.Seed(ctx, events))
	require.NoError(t, cal.Seed(ctx, events))

	got, err := cal.List(ctx, t0, t0.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "US CPI", got[0].Name)
	assert.Equal(t, domain.ImpactHigh, got[0].Impact)
	assert.NotEmpty(t, got[0].ID)

	_, err = cal.Upsert(ctx, domain.CalendarEvent{Name: ""})
	assert.ErrorIs(t, err, domain.ErrInvalidProposal)
}

func TestDedup(t *testing.T) {
	t.Parallel()
	now := t0
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))

	now = now.Add(time.Minute)
	assert.False(t, d.IsDuplicate("a"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Empty(t, d.seen)
}
