package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// sweepLock is held while a sweep runs so that only one process expires
// setups at a time.
const sweepLock = "sweep"

// SweeperConfig tunes the deadline sweep.
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	LockTTL   time.Duration
}

// Sweeper expires pending setups whose validity window has elapsed.
type Sweeper struct {
	cfg     SweeperConfig
	setups  domain.SetupStore
	tracker *Tracker
	locks   domain.LockManager
	logger  *slog.Logger
	now     func() time.Time
}

// NewSweeper creates a Sweeper. locks may be nil for a single process.
func NewSweeper(cfg SweeperConfig, setups domain.SetupStore, tracker *Tracker, locks domain.LockManager, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	return &Sweeper{
		cfg:     cfg,
		setups:  setups,
		tracker: tracker,
		locks:   locks,
		logger:  logger.With(slog.String("component", "sweeper")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep expires every due setup and returns how many it closed. A sweep
// already running elsewhere makes this one a no-op.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, sweepLock, s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "sweep skipped, lock held")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("sweeper: acquire lock: %w", err)
		}
		defer unlock()
	}

	now := s.now()
	due, err := s.setups.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("sweeper: list due: %w", err)
	}

	var (
		expired int
		errs    []error
	)
	for _, st := range due {
		_, err := s.tracker.Expire(ctx, st.ID, now)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, domain.ErrInvalidTransition):
			// Closed by an observation since ListDue.
		default:
			errs = append(errs, err)
		}
	}
	if expired > 0 {
		s.logger.InfoContext(ctx, "setups expired", slog.Int("count", expired))
	}
	return expired, errors.Join(errs...)
}
