package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/journal"
	"github.com/alanyoungcy/setupwatch/internal/lifecycle"
	"github.com/alanyoungcy/setupwatch/internal/market"
)

// TrackerConfig tunes the per-symbol workers.
type TrackerConfig struct {
	QueueSize int
	// Strict fails on inconsistent setups instead of repairing them.
	Strict   bool
	DedupTTL time.Duration
}

// Enqueuer accepts setup IDs for analysis.
type Enqueuer interface {
	Enqueue(setupID string) bool
}

// TrackerDeps groups the collaborators of a Tracker. Everything except
// Setups and Logger is optional.
type TrackerDeps struct {
	Setups      domain.SetupStore
	Prices      domain.PriceStore
	PriceCache  domain.PriceCache
	Market      *market.PriceTracker
	Attachments domain.AttachmentStore
	Outcomes    Enqueuer
	Bus         domain.SignalBus
	Journal     Journal
	Charts      ChartRequester
	Logger      *slog.Logger
}

// Transition is one applied status change.
type Transition struct {
	SetupID string             `json:"setup_id"`
	Symbol  string             `json:"symbol"`
	From    domain.SetupStatus `json:"from"`
	To      domain.SetupStatus `json:"to"`
	Outcome *domain.Outcome    `json:"outcome,omitempty"`
	At      time.Time          `json:"at"`
}

// SetupView is a setup with its chart attachments.
type SetupView struct {
	domain.Setup
	Attachments []domain.ChartAttachment `json:"attachments"`
}

// Tracker feeds price observations and time into the lifecycle automaton.
// Each symbol has one worker goroutine, so setups of a symbol see their
// observations in arrival order. Writes use the setup version, and a
// conflicting write is retried once against fresh state.
type Tracker struct {
	cfg    TrackerConfig
	d      TrackerDeps
	out    fanout
	dedup  *Dedup
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	runCtx  context.Context
	queues  map[string]chan domain.PriceObservation
	workers sync.WaitGroup
}

// NewTracker creates a Tracker. Submit only accepts work while Run is active.
func NewTracker(cfg TrackerConfig, d TrackerDeps) *Tracker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Minute
	}
	logger := d.Logger.With(slog.String("component", "tracker"))
	return &Tracker{
		cfg:    cfg,
		d:      d,
		out:    fanout{bus: d.Bus, journal: d.Journal, charts: d.Charts, logger: logger},
		dedup:  NewDedup(cfg.DedupTTL),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		queues: make(map[string]chan domain.PriceObservation),
	}
}

// Run enables Submit and blocks until ctx ends, then waits for the workers
// to finish what they hold.
func (t *Tracker) Run(ctx context.Context) error {
	t.mu.Lock()
	t.runCtx = ctx
	t.mu.Unlock()

	cleanup := time.NewTicker(t.cfg.DedupTTL)
	defer cleanup.Stop()
	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			t.runCtx = nil
			for sym, q := range t.queues {
				close(q)
				delete(t.queues, sym)
			}
			t.mu.Unlock()
			t.workers.Wait()
			return nil
		case <-cleanup.C:
			t.dedup.Cleanup()
		}
	}
}

// ValidateObservation rejects observations that cannot be applied.
func ValidateObservation(obs domain.PriceObservation) error {
	switch {
	case obs.Symbol == "":
		return fmt.Errorf("observation: symbol is required: %w", domain.ErrInvalidProposal)
	case obs.Price <= 0 || math.IsNaN(obs.Price) || math.IsInf(obs.Price, 0):
		return fmt.Errorf("observation: price must be positive: %w", domain.ErrInvalidProposal)
	case obs.High < 0 || obs.Low < 0:
		return fmt.Errorf("observation: high/low must not be negative: %w", domain.ErrInvalidProposal)
	case obs.ObservedAt.IsZero():
		return fmt.Errorf("observation: observed_at is required: %w", domain.ErrInvalidProposal)
	}
	return nil
}

// Submit queues obs for its symbol's worker without blocking. It reports
// false when the observation was invalid, a duplicate, or dropped.
func (t *Tracker) Submit(obs domain.PriceObservation) bool {
	if err := ValidateObservation(obs); err != nil {
		t.logger.Warn("observation rejected", slog.String("error", err.Error()))
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.runCtx == nil {
		t.logger.Warn("tracker not running, observation dropped", slog.String("symbol", obs.Symbol))
		return false
	}
	if t.dedup.IsDuplicate(obsKey(obs)) {
		return false
	}
	q, ok := t.queues[obs.Symbol]
	if !ok {
		q = make(chan domain.PriceObservation, t.cfg.QueueSize)
		t.queues[obs.Symbol] = q
		t.workers.Add(1)
		go t.worker(t.runCtx, obs.Symbol, q)
	}
	select {
	case q <- obs:
		return true
	default:
		t.logger.Warn("symbol queue full, observation dropped",
			slog.String("symbol", obs.Symbol),
			slog.Time("observed_at", obs.ObservedAt),
		)
		return false
	}
}

func obsKey(o domain.PriceObservation) string {
	return o.Symbol + "|" + strconv.FormatInt(o.ObservedAt.UnixNano(), 10) + "|" +
		strconv.FormatFloat(o.Price, 'f', -1, 64)
}

// worker drains q. After ctx ends the queue is closed and the remaining
// observations are applied with a detached context.
func (t *Tracker) worker(ctx context.Context, symbol string, q <-chan domain.PriceObservation) {
	defer t.workers.Done()
	for obs := range q {
		applyCtx := ctx
		if ctx.Err() != nil {
			applyCtx = context.WithoutCancel(ctx)
		}
		if _, err := t.Apply(applyCtx, obs); err != nil {
			t.logger.Error("apply observation failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Apply records obs and steps every open setup of its symbol. Stale
// observations and setups that closed concurrently are skipped.
func (t *Tracker) Apply(ctx context.Context, obs domain.PriceObservation) ([]Transition, error) {
	if err := ValidateObservation(obs); err != nil {
		return nil, err
	}
	obs.ObservedAt = obs.ObservedAt.UTC()
	t.record(ctx, obs)

	open, err := t.d.Setups.ListOpen(ctx, obs.Symbol)
	if err != nil {
		return nil, fmt.Errorf("tracker: list open %s: %w", obs.Symbol, err)
	}

	ev := lifecycle.ObservationFrom(obs)
	var (
		out  []Transition
		errs []error
	)
	for _, s := range open {
		tr, ok, err := t.apply(ctx, s, ev)
		switch {
		case errors.Is(err, domain.ErrStaleObservation), errors.Is(err, domain.ErrInvalidTransition):
			t.logger.DebugContext(ctx, "observation skipped",
				slog.String("setup_id", s.ID),
				slog.String("reason", err.Error()),
			)
		case err != nil:
			errs = append(errs, err)
		case ok:
			out = append(out, tr)
		}
	}
	return out, errors.Join(errs...)
}

// record stores obs in the path store, the price cache and the market
// tracker. Failures here never block the lifecycle.
func (t *Tracker) record(ctx context.Context, obs domain.PriceObservation) {
	if t.d.Prices != nil {
		if err := t.d.Prices.Append(ctx, obs); err != nil {
			t.logger.WarnContext(ctx, "append price failed",
				slog.String("symbol", obs.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if t.d.PriceCache != nil {
		if err := t.d.PriceCache.SetPrice(ctx, obs.Symbol, obs.Price, obs.ObservedAt); err != nil {
			t.logger.WarnContext(ctx, "cache price failed",
				slog.String("symbol", obs.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if t.d.Market != nil {
		t.d.Market.Track(obs)
	}
}

// Expire applies a deadline to a pending setup.
func (t *Tracker) Expire(ctx context.Context, setupID string, now time.Time) (Transition, error) {
	return t.applyByID(ctx, setupID, lifecycle.Deadline{Now: now})
}

// Invalidate cancels a pending setup.
func (t *Tracker) Invalidate(ctx context.Context, setupID, reason string) (Transition, error) {
	return t.applyByID(ctx, setupID, lifecycle.Invalidate{At: t.now(), Reason: reason})
}

func (t *Tracker) applyByID(ctx context.Context, setupID string, ev lifecycle.Event) (Transition, error) {
	s, err := t.d.Setups.GetByID(ctx, setupID)
	if err != nil {
		return Transition{}, fmt.Errorf("tracker: get %s: %w", setupID, err)
	}
	tr, ok, err := t.apply(ctx, s, ev)
	if err != nil {
		return Transition{}, err
	}
	if !ok {
		return Transition{}, fmt.Errorf("tracker: setup %s unchanged: %w", setupID, domain.ErrInvalidTransition)
	}
	return tr, nil
}

// apply verifies s, steps it with ev and persists the result. ok is true
// when the status changed. A repaired row is written even when ev itself
// leaves it untouched.
func (t *Tracker) apply(ctx context.Context, s domain.Setup, ev lifecycle.Event) (Transition, bool, error) {
	for attempt := 0; ; attempt++ {
		loaded, fixes, err := lifecycle.Verify(s, t.cfg.Strict)
		if err != nil {
			return Transition{}, false, fmt.Errorf("tracker: setup %s: %w", s.ID, err)
		}
		if len(fixes) > 0 {
			t.logger.WarnContext(ctx, "setup repaired",
				slog.String("setup_id", s.ID),
				slog.Any("fixes", fixes),
			)
		}

		res, stepErr := lifecycle.Step(loaded, ev)
		next := loaded
		switch {
		case stepErr == nil && res.Changed():
			next = res.Setup
		case len(fixes) == 0:
			return Transition{}, false, stepErr
		}

		stored, err := t.d.Setups.Update(ctx, next)
		if errors.Is(err, domain.ErrVersionConflict) {
			if attempt == 0 {
				fresh, getErr := t.d.Setups.GetByID(ctx, s.ID)
				if getErr != nil {
					return Transition{}, false, fmt.Errorf("tracker: reload %s: %w", s.ID, getErr)
				}
				s = fresh
				continue
			}
			t.logger.WarnContext(ctx, "event dropped after repeated version conflict",
				slog.String("setup_id", s.ID),
			)
			return Transition{}, false, nil
		}
		if err != nil {
			return Transition{}, false, fmt.Errorf("tracker: update %s: %w", s.ID, err)
		}
		if stepErr != nil {
			return Transition{}, false, stepErr
		}

		if !res.Transitioned() {
			return Transition{}, false, nil
		}
		at := t.now()
		for _, e := range res.Effects {
			if e.Kind != lifecycle.EffectPriceRecorded {
				at = e.At
			}
		}
		tr := Transition{SetupID: stored.ID, Symbol: stored.Symbol, From: res.From, To: res.To, Outcome: stored.Outcome, At: at}
		t.afterTransition(ctx, stored, tr)
		return tr, true, nil
	}
}

func (t *Tracker) afterTransition(ctx context.Context, s domain.Setup, tr Transition) {
	attrs := []any{
		slog.String("setup_id", s.ID),
		slog.String("symbol", s.Symbol),
		slog.String("from", string(tr.From)),
		slog.String("to", string(tr.To)),
	}
	if s.Outcome != nil {
		attrs = append(attrs, slog.String("outcome", string(*s.Outcome)))
	}
	t.logger.InfoContext(ctx, "setup transition", attrs...)

	if !tr.To.Terminal() {
		t.out.publish(ctx, domain.ChannelSetups, MsgSetup, s)
		return
	}
	t.out.publish(ctx, domain.ChannelSetups, MsgSetupClose, s)
	rec, err := journal.SetupClosedRecord(s)
	t.out.emit(ctx, rec, err)
	if t.d.Outcomes != nil && !t.d.Outcomes.Enqueue(s.ID) {
		t.logger.WarnContext(ctx, "analysis queue full, left for backfill", slog.String("setup_id", s.ID))
	}
	t.out.chart(setupChart(s))
}

// Get returns a setup with its attachments.
func (t *Tracker) Get(ctx context.Context, id string) (SetupView, error) {
	s, err := t.d.Setups.GetByID(ctx, id)
	if err != nil {
		return SetupView{}, fmt.Errorf("tracker: get %s: %w", id, err)
	}
	view := SetupView{Setup: s, Attachments: []domain.ChartAttachment{}}
	if t.d.Attachments != nil {
		atts, err := t.d.Attachments.ListByRef(ctx, "setup", id)
		if err != nil {
			return SetupView{}, fmt.Errorf("tracker: attachments %s: %w", id, err)
		}
		if atts != nil {
			view.Attachments = atts
		}
	}
	return view, nil
}

// List returns setups matching f.
func (t *Tracker) List(ctx context.Context, f domain.SetupFilter) ([]domain.Setup, error) {
	ss, err := t.d.Setups.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("tracker: list: %w", err)
	}
	return ss, nil
}
