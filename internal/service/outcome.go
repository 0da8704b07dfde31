package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/setupwatch/internal/analyzer"
	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/journal"
)

// OutcomeConfig tunes the analysis workers.
type OutcomeConfig struct {
	Workers         int
	QueueSize       int
	BackfillOnStart bool
	BackfillLimit   int
	// BackfillInterval is how often Run retries setups without a lesson.
	BackfillInterval time.Duration
	// PostStopWindow is how long prices are watched after a stop before the
	// setup is analysed.
	PostStopWindow time.Duration
}

// OutcomeDeps groups the collaborators of an OutcomeService.
type OutcomeDeps struct {
	Analyzer *analyzer.Analyzer
	Setups   domain.SetupStore
	Lessons  domain.LessonStore
	Prices   domain.PriceStore
	Bus      domain.SignalBus
	Journal  Journal
	Logger   *slog.Logger
}

// OutcomeService turns closed setups into lessons. Each setup gets at most one
// lesson; analysing it again returns the stored one.
type OutcomeService struct {
	cfg    OutcomeConfig
	d      OutcomeDeps
	out    fanout
	queue  chan string
	logger *slog.Logger
	now    func() time.Time
}

// NewOutcomeService creates an OutcomeService.
func NewOutcomeService(cfg OutcomeConfig, d OutcomeDeps) *OutcomeService {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.BackfillLimit <= 0 {
		cfg.BackfillLimit = 500
	}
	if cfg.BackfillInterval <= 0 {
		cfg.BackfillInterval = 5 * time.Minute
	}
	if cfg.PostStopWindow <= 0 {
		cfg.PostStopWindow = time.Hour
	}
	logger := d.Logger.With(slog.String("component", "outcomes"))
	return &OutcomeService{
		cfg:    cfg,
		d:      d,
		out:    fanout{bus: d.Bus, journal: d.Journal, logger: logger},
		queue:  make(chan string, cfg.QueueSize),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue schedules a setup for analysis without blocking. False means the
// queue is full; the next backfill picks the setup up.
func (o *OutcomeService) Enqueue(setupID string) bool {
	select {
	case o.queue <- setupID:
		return true
	default:
		return false
	}
}

// Run processes the queue with the configured number of workers until ctx
// is cancelled. Setups held back by the post-stop window are picked up by a
// periodic backfill.
func (o *OutcomeService) Run(ctx context.Context) error {
	if o.cfg.BackfillOnStart {
		o.backfill(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(o.cfg.BackfillInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				o.backfill(gctx)
			}
		}
	})
	for i := 0; i < o.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case id := <-o.queue:
					if _, _, err := o.settle(gctx, id); err != nil {
						o.logger.ErrorContext(gctx, "analysis failed",
							slog.String("setup_id", id),
							slog.String("error", err.Error()),
						)
					}
				}
			}
		})
	}
	return g.Wait()
}

func (o *OutcomeService) backfill(ctx context.Context) {
	if n, err := o.Backfill(ctx); err != nil {
		o.logger.WarnContext(ctx, "backfill failed", slog.String("error", err.Error()))
	} else if n > 0 {
		o.logger.InfoContext(ctx, "backfill complete", slog.Int("lessons", n))
	}
}

// Process analyses one closed setup and stores its lesson. It does not wait
// for the post-stop window; prices seen so far are used.
func (o *OutcomeService) Process(ctx context.Context, setupID string) (domain.Lesson, error) {
	l, _, err := o.analyse(ctx, setupID, true)
	return l, err
}

// settle is Process for queued work. A stopped setup still inside its
// post-stop window is left for a later backfill, which the bool reports.
func (o *OutcomeService) settle(ctx context.Context, setupID string) (domain.Lesson, bool, error) {
	return o.analyse(ctx, setupID, false)
}

func (o *OutcomeService) analyse(ctx context.Context, setupID string, force bool) (domain.Lesson, bool, error) {
	if existing, err := o.d.Lessons.GetBySetup(ctx, setupID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Lesson{}, false, fmt.Errorf("outcomes: lookup lesson %s: %w", setupID, err)
	}

	s, err := o.d.Setups.GetByID(ctx, setupID)
	if err != nil {
		return domain.Lesson{}, false, fmt.Errorf("outcomes: get setup %s: %w", setupID, err)
	}
	if !force && o.watching(s) {
		o.logger.DebugContext(ctx, "analysis deferred until post-stop window ends",
			slog.String("setup_id", setupID),
		)
		return domain.Lesson{}, true, nil
	}

	path, err := o.path(ctx, s)
	if err != nil {
		o.logger.WarnContext(ctx, "price path unavailable, analysing without it",
			slog.String("setup_id", setupID),
			slog.String("error", err.Error()),
		)
	}

	lesson, err := o.d.Analyzer.Analyze(ctx, s, path)
	if err != nil {
		return domain.Lesson{}, false, err
	}

	if err := o.d.Lessons.Create(ctx, lesson); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			l, err := o.d.Lessons.GetBySetup(ctx, setupID)
			return l, false, err
		}
		return domain.Lesson{}, false, fmt.Errorf("outcomes: store lesson %s: %w", setupID, err)
	}

	o.logger.InfoContext(ctx, "lesson created",
		slog.String("setup_id", setupID),
		slog.String("root_cause", lesson.RootCause),
		slog.String("analyzer", lesson.Analyzer),
	)
	rec, recErr := journal.LessonRecord(lesson, s.Symbol)
	o.out.emit(ctx, rec, recErr)
	o.out.publish(ctx, domain.ChannelLessons, MsgLesson, lesson)
	return lesson, false, nil
}

// watching reports whether s was stopped out less than PostStopWindow ago.
func (o *OutcomeService) watching(s domain.Setup) bool {
	return s.Status == domain.SetupStopHit && s.ClosedAt != nil &&
		o.now().Before(s.ClosedAt.Add(o.cfg.PostStopWindow))
}

// path loads the observations from creation to close. A stopped setup also
// gets the prices of its post-stop window, up to now.
func (o *OutcomeService) path(ctx context.Context, s domain.Setup) ([]domain.PricePoint, error) {
	if o.d.Prices == nil {
		return nil, nil
	}
	now := o.now()
	to := now
	if s.ClosedAt != nil {
		to = *s.ClosedAt
		if s.Status == domain.SetupStopHit {
			to = s.ClosedAt.Add(o.cfg.PostStopWindow)
			if now.Before(to) {
				to = now
			}
			if to.Before(*s.ClosedAt) {
				to = *s.ClosedAt
			}
		}
	}
	return o.d.Prices.Path(ctx, s.Symbol, s.CreatedAt, to)
}

// Backfill analyses closed setups that have no lesson yet and returns how
// many lessons it wrote. Setups inside their post-stop window are skipped.
func (o *OutcomeService) Backfill(ctx context.Context) (int, error) {
	pending, err := o.d.Setups.ListUnanalyzed(ctx, o.cfg.BackfillLimit)
	if err != nil {
		return 0, fmt.Errorf("outcomes: list unanalyzed: %w", err)
	}
	var (
		n    int
		errs []error
	)
	for _, s := range pending {
		if ctx.Err() != nil {
			break
		}
		_, deferred, err := o.settle(ctx, s.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !deferred {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// Lesson returns the lesson for a setup.
func (o *OutcomeService) Lesson(ctx context.Context, setupID string) (domain.Lesson, error) {
	l, err := o.d.Lessons.GetBySetup(ctx, setupID)
	if err != nil {
		return domain.Lesson{}, fmt.Errorf("outcomes: lesson %s: %w", setupID, err)
	}
	return l, nil
}

// List returns lessons newest first.
func (o *OutcomeService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Lesson, error) {
	ls, err := o.d.Lessons.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("outcomes: list: %w", err)
	}
	return ls, nil
}
