package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/setupwatch/internal/analyzer"
	"github.com/alanyoungcy/setupwatch/internal/decision"
	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/feed"
	"github.com/alanyoungcy/setupwatch/internal/lifecycle"
	"github.com/alanyoungcy/setupwatch/internal/market"
	"github.com/alanyoungcy/setupwatch/internal/pipeline"
	"github.com/alanyoungcy/setupwatch/internal/risk"
	"github.com/alanyoungcy/setupwatch/internal/server"
	"github.com/alanyoungcy/setupwatch/internal/server/handler"
	"github.com/alanyoungcy/setupwatch/internal/server/ws"
	"github.com/alanyoungcy/setupwatch/internal/service"
)

// sweepLockTTL bounds how long one replica holds the sweep lock.
const sweepLockTTL = time.Minute

// services holds the domain services shared by every run mode.
type services struct {
	market    *market.PriceTracker
	proposals *service.ProposalService
	tracker   *service.Tracker
	sweeper   *service.Sweeper
	outcomes  *service.OutcomeService
	calendar  *service.CalendarService
}

// buildServices constructs the domain services on top of deps.
func (a *App) buildServices(deps *Dependencies) *services {
	cfg := a.cfg

	mt := market.NewPriceTracker(market.Config{
		Window:       cfg.Risk.HistoryWindow.Duration,
		FastPeriod:   cfg.Risk.FastPeriod,
		SlowPeriod:   cfg.Risk.SlowPeriod,
		RecentPoints: cfg.Risk.RecentWindow,
	})
	evaluator := risk.NewEvaluator(risk.Config{
		TrendWeight:      cfg.Risk.TrendWeight,
		VolatilityWeight: cfg.Risk.VolatilityWeight,
		EventLookahead:   cfg.Risk.EventLookahead.Duration,
		EventGrace:       cfg.Risk.EventGrace.Duration,
	})
	engine := decision.NewEngine(decision.Config{
		MinRiskReward: cfg.Decision.MinRiskReward,
		MinBiasScore:  cfg.Decision.MinBiasScore,
		ExposureCap:   cfg.Decision.ExposureCap,
	})
	windows := lifecycle.Windows{
		Intraday: cfg.Lifecycle.IntradayWindow.Duration,
		Swing:    cfg.Lifecycle.SwingWindow.Duration,
		MultiDay: cfg.Lifecycle.MultiDayWindow.Duration,
		Default:  cfg.Lifecycle.DefaultWindow.Duration,
	}

	// A nil *chart.Attacher must not reach the services as a non-nil
	// interface.
	var charts service.ChartRequester
	if deps.Charts != nil {
		charts = deps.Charts
	}

	outcomes := service.NewOutcomeService(service.OutcomeConfig{
		Workers:          cfg.Analyzer.Workers,
		QueueSize:        cfg.Lifecycle.QueueSize,
		BackfillOnStart:  cfg.Analyzer.BackfillOnStart,
		BackfillInterval: cfg.Analyzer.BackfillInterval.Duration,
		PostStopWindow:   cfg.Analyzer.PostStopWindow.Duration,
	}, service.OutcomeDeps{
		Analyzer: analyzer.New(deps.Summarizer),
		Setups:   deps.Setups,
		Lessons:  deps.Lessons,
		Prices:   deps.Prices,
		Bus:      deps.SignalBus,
		Journal:  deps.Journal,
		Logger:   a.logger,
	})
	tracker := service.NewTracker(service.TrackerConfig{
		QueueSize: cfg.Lifecycle.QueueSize,
		Strict:    cfg.Lifecycle.Strict,
	}, service.TrackerDeps{
		Setups:      deps.Setups,
		Prices:      deps.Prices,
		PriceCache:  deps.PriceCache,
		Market:      mt,
		Attachments: deps.Attachments,
		Outcomes:    outcomes,
		Bus:         deps.SignalBus,
		Journal:     deps.Journal,
		Charts:      charts,
		Logger:      a.logger,
	})
	proposals := service.NewProposalService(service.ProposalDeps{
		Evaluator:   evaluator,
		Engine:      engine,
		Windows:     windows,
		Decisions:   deps.Decisions,
		Attachments: deps.Attachments,
		Audit:       deps.Audit,
		Calendar:    deps.Calendar,
		Exposure:    service.NewExposureProvider(deps.Setups, cfg.Decision.RiskPerSetup),
		Signals:     service.NewMarketSignalProvider(mt),
		Bus:         deps.SignalBus,
		Journal:     deps.Journal,
		Charts:      charts,
		Logger:      a.logger,
	})

	return &services{
		market:    mt,
		proposals: proposals,
		tracker:   tracker,
		sweeper: service.NewSweeper(service.SweeperConfig{
			Interval:  cfg.Lifecycle.SweepInterval.Duration,
			BatchSize: cfg.Lifecycle.SweepBatch,
			LockTTL:   sweepLockTTL,
		}, deps.Setups, tracker, deps.LockManager, a.logger),
		outcomes: outcomes,
		calendar: service.NewCalendarService(deps.Calendar, a.logger),
	}
}

// FullMode runs the API and every background worker in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	svc := a.buildServices(deps)
	if err := a.seedCalendar(ctx, svc); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startJournal(ctx, g, deps)
	a.startWorkers(ctx, g, deps, svc)
	a.startHTTPServer(ctx, g, deps, svc)

	return g.Wait()
}

// APIMode serves HTTP and WebSocket only. Submitted prices are applied
// synchronously; closed setups are analysed by a worker process.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")
	svc := a.buildServices(deps)
	if err := a.seedCalendar(ctx, svc); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startJournal(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, svc)

	return g.Wait()
}

// WorkerMode runs the feeds, sweeper, analyzer and archive schedule without
// an HTTP listener.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	svc := a.buildServices(deps)
	if err := a.seedCalendar(ctx, svc); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startJournal(ctx, g, deps)
	a.startWorkers(ctx, g, deps, svc)

	return g.Wait()
}

func (a *App) seedCalendar(ctx context.Context, svc *services) error {
	events := make([]domain.CalendarEvent, 0, len(a.cfg.Calendar.Events))
	for _, ev := range a.cfg.Calendar.Events {
		events = append(events, domain.CalendarEvent{
			Name:        ev.Name,
			Symbols:     ev.Symbols,
			Impact:      domain.EventImpact(strings.ToLower(ev.Impact)),
			ScheduledAt: ev.ScheduledAt,
		})
	}
	if err := svc.calendar.Seed(ctx, events); err != nil {
		return fmt.Errorf("app: seed calendar: %w", err)
	}
	return nil
}

func (a *App) startJournal(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Journal.Run(ctx)
	})
}

// startWorkers launches the tracker, sweeper, analyzer, price feeds and the
// archive schedule.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	g.Go(func() error {
		return svc.tracker.Run(ctx)
	})
	g.Go(func() error {
		return svc.sweeper.Run(ctx)
	})
	g.Go(func() error {
		return svc.outcomes.Run(ctx)
	})

	if a.cfg.Feed.Bus {
		busFeeder := feed.NewBusFeeder(deps.SignalBus, svc.tracker, a.logger)
		g.Go(func() error {
			return busFeeder.Run(ctx)
		})
	}
	if a.cfg.Feed.WSURL != "" {
		wsFeed := feed.NewWSFeed(a.cfg.Feed.WSURL, a.cfg.Feed.Symbols, svc.tracker, a.logger)
		g.Go(func() error {
			return wsFeed.Run(ctx)
		})
	}

	if a.cfg.Archive.Enabled {
		archiver := pipeline.NewArchiver(deps.Archiver, deps.Prices, pipeline.ArchiverConfig{
			RetentionDays:      a.cfg.Archive.RetentionDays,
			PriceRetentionDays: a.cfg.Archive.PriceRetentionDays,
		}, a.logger)
		orch := pipeline.NewOrchestrator(archiver, a.cfg.Archive.Cron, a.logger)
		g.Go(func() error {
			return orch.Run(ctx)
		})
	}
}

// startHTTPServer builds the handlers, the WebSocket hub and the server.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	hub := ws.NewHub(deps.SignalBus, nil, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateWindow:      a.cfg.Server.RateWindow.Duration,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout.Duration,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Proposals: handler.NewProposalHandler(svc.proposals, a.logger),
		Setups:    handler.NewSetupHandler(svc.tracker, svc.outcomes, a.logger),
		Calendar:  handler.NewCalendarHandler(svc.calendar, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	a.logger.InfoContext(ctx, "http server configured",
		slog.Int("port", a.cfg.Server.Port),
		slog.Bool("auth", a.cfg.Server.APIKey != ""),
	)
	g.Go(func() error {
		return srv.Run(ctx)
	})
}
