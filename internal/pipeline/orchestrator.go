package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs archival at 03:00 UTC on the first of every month.
const DefaultSchedule = "0 3 1 * *"

// Orchestrator runs the archiver on a cron schedule.
type Orchestrator struct {
	archiver *Archiver
	schedule string
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. schedule is a standard 5-field
// cron expression or a descriptor such as "@daily".
func NewOrchestrator(archiver *Archiver, schedule string, logger *slog.Logger) *Orchestrator {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Orchestrator{
		archiver: archiver,
		schedule: schedule,
		logger:   logger.With(slog.String("component", "pipeline")),
	}
}

// Run blocks until ctx is cancelled. An invalid schedule fails immediately.
// A run still in progress at shutdown is waited for.
func (o *Orchestrator) Run(ctx context.Context) error {
	sched, err := cron.ParseStandard(o.schedule)
	if err != nil {
		return fmt.Errorf("pipeline: parse schedule %q: %w", o.schedule, err)
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{o.logger}),
		cron.WithChain(cron.Recover(cronLogger{o.logger}), cron.SkipIfStillRunning(cronLogger{o.logger})),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := o.archiver.Run(ctx); err != nil {
			o.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	}))

	c.Start()
	o.logger.Info("archive schedule started",
		slog.String("schedule", o.schedule),
		slog.Time("next_run", sched.Next(time.Now().UTC())),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	o.logger.Info("archive schedule stopped")
	return nil
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
