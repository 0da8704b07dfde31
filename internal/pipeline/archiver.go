// Package pipeline runs the scheduled maintenance jobs: cold-storage archival
// of closed records and pruning of old price observations.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// ArchiverConfig holds the retention windows, in days.
type ArchiverConfig struct {
	RetentionDays      int
	PriceRetentionDays int
}

// Archiver moves old records to object storage and prunes the price path.
type Archiver struct {
	blob   domain.Archiver
	prices domain.PriceStore
	cfg    ArchiverConfig
	now    func() time.Time
	logger *slog.Logger
}

// Result counts what one run touched.
type Result struct {
	Setups    int64 `json:"setups"`
	Decisions int64 `json:"decisions"`
	Lessons   int64 `json:"lessons"`
	Prices    int64 `json:"prices"`
}

// NewArchiver creates an Archiver. blob may be nil when object storage is not
// configured, in which case only pruning runs. prices may be nil to disable
// pruning.
func NewArchiver(blob domain.Archiver, prices domain.PriceStore, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if cfg.PriceRetentionDays <= 0 {
		cfg.PriceRetentionDays = 30
	}
	return &Archiver{
		blob:   blob,
		prices: prices,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass. Each step runs even when an earlier one
// fails; the failures are joined.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	now := a.now().UTC()
	cutoff := now.Add(-time.Duration(a.cfg.RetentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.RetentionDays),
	)

	var (
		res  Result
		errs []error
	)
	if a.blob != nil {
		steps := []struct {
			name string
			fn   func(context.Context, time.Time) (int64, error)
			dst  *int64
		}{
			{"setups", a.blob.ArchiveSetups, &res.Setups},
			{"decisions", a.blob.ArchiveDecisions, &res.Decisions},
			{"lessons", a.blob.ArchiveLessons, &res.Lessons},
		}
		for _, st := range steps {
			n, err := st.fn(ctx, cutoff)
			if err != nil {
				errs = append(errs, fmt.Errorf("archiving %s before %v: %w", st.name, cutoff, err))
				continue
			}
			*st.dst = n
		}
	}

	if a.prices != nil {
		priceCutoff := now.Add(-time.Duration(a.cfg.PriceRetentionDays) * 24 * time.Hour)
		n, err := a.prices.Prune(ctx, priceCutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning prices before %v: %w", priceCutoff, err))
		}
		res.Prices = n
	}

	if err := errors.Join(errs...); err != nil {
		return res, err
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("setups_archived", res.Setups),
		slog.Int64("decisions_archived", res.Decisions),
		slog.Int64("lessons_archived", res.Lessons),
		slog.Int64("prices_pruned", res.Prices),
	)
	return res, nil
}
