package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/setupwatch/internal/analyzer"
	s3blob "github.com/alanyoungcy/setupwatch/internal/blob/s3"
	cachemem "github.com/alanyoungcy/setupwatch/internal/cache/memory"
	"github.com/alanyoungcy/setupwatch/internal/cache/redis"
	"github.com/alanyoungcy/setupwatch/internal/chart"
	"github.com/alanyoungcy/setupwatch/internal/config"
	"github.com/alanyoungcy/setupwatch/internal/domain"
	"github.com/alanyoungcy/setupwatch/internal/journal"
	"github.com/alanyoungcy/setupwatch/internal/notify"
	"github.com/alanyoungcy/setupwatch/internal/server/handler"
	storemem "github.com/alanyoungcy/setupwatch/internal/store/memory"
	"github.com/alanyoungcy/setupwatch/internal/store/postgres"
)

// streamMaxLen caps the Redis journal stream.
const streamMaxLen = 10000

// Dependencies bundles every infrastructure dependency the run modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Decisions   domain.DecisionStore
	Setups      domain.SetupStore
	Lessons     domain.LessonStore
	Prices      domain.PriceStore
	Calendar    domain.CalendarStore
	Attachments domain.AttachmentStore
	Audit       domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage; nil without a bucket.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier
	Journal  *journal.Bridge

	// Charts is nil when no chart service is configured.
	Charts *chart.Attacher
	// Summarizer is nil for the rule-based analyzer.
	Summarizer analyzer.Summarizer

	// Checks feed the health endpoint.
	Checks map[string]handler.Checker
}

// bucket joins the S3 writer and reader for the chart cache.
type bucket struct {
	*s3blob.Writer
	*s3blob.Reader
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: map[string]handler.Checker{}}

	// --- Stores ---
	if cfg.Storage.Driver == "memory" {
		logger.WarnContext(ctx, "using in-memory storage; state is lost on restart")
		mem := storemem.New()
		deps.Decisions = mem.Decisions
		deps.Setups = mem.Setups
		deps.Lessons = mem.Lessons
		deps.Prices = mem.Prices
		deps.Calendar = mem.Calendar
		deps.Attachments = mem.Attachments
		deps.Audit = mem.Audit
	} else {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Decisions = postgres.NewDecisionStore(pool)
		deps.Setups = postgres.NewSetupStore(pool)
		deps.Lessons = postgres.NewLessonStore(pool)
		deps.Prices = postgres.NewPriceStore(pool)
		deps.Calendar = postgres.NewCalendarStore(pool)
		deps.Attachments = postgres.NewAttachmentStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Caches ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, streamMaxLen)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.PriceCache = cachemem.NewPriceCache()
		deps.RateLimiter = cachemem.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		deps.LockManager = cachemem.NewLockManager()
		deps.SignalBus = cachemem.NewSignalBus(streamMaxLen)
	}

	// --- S3 blob storage ---
	var blob chart.Blob
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			PublicBaseURL:  cfg.S3.PublicBaseURL,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(writer, deps.Decisions, deps.Setups, deps.Lessons, deps.Audit)
		deps.Checks["s3"] = s3Client.Health
		blob = bucket{Writer: writer, Reader: reader}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Journal ---
	var sinks []journal.Sink
	if cfg.Journal.Stream {
		sinks = append(sinks, journal.NewStreamSink(deps.SignalBus, ""))
	}
	if cfg.Journal.Audit {
		sinks = append(sinks, journal.NewAuditSink(deps.Audit))
	}
	if cfg.Journal.SQLitePath != "" {
		j, err := journal.OpenSQLite(cfg.Journal.SQLitePath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: journal: %w", err)
		}
		closers = append(closers, func() { _ = j.Close() })
		sinks = append(sinks, j)
	}
	if len(senders) > 0 {
		sinks = append(sinks, journal.NewNotifySink(deps.Notifier))
	}
	deps.Journal = journal.NewBridge(sinks, cfg.Journal.BufferSize, logger)

	// --- Chart snapshots ---
	if cfg.Chart.BaseURL != "" {
		chartCfg := chart.DefaultConfig()
		if cfg.Chart.DailyQuota > 0 {
			chartCfg.DailyQuota = cfg.Chart.DailyQuota
		}
		if cfg.Chart.BurstPerSecond > 0 {
			chartCfg.BurstPerSecond = cfg.Chart.BurstPerSecond
		}
		if cfg.Chart.MaxInFlight > 0 {
			chartCfg.MaxInFlight = cfg.Chart.MaxInFlight
		}
		if cfg.Chart.Timeout.Duration > 0 {
			chartCfg.RequestTimeout = cfg.Chart.Timeout.Duration
		}
		deps.Charts = chart.NewAttacher(
			chartCfg,
			chart.NewClient(cfg.Chart.BaseURL, cfg.Chart.APIKey, chartCfg.RequestTimeout),
			deps.RateLimiter,
			blob,
			deps.Attachments,
			logger,
		)
		closers = append(closers, deps.Charts.Wait)
	}

	// --- Lesson summarizer ---
	if cfg.Analyzer.LLMAPIKey != "" {
		s, err := analyzer.NewOpenAISummarizer(ctx, analyzer.LLMConfig{
			BaseURL:   cfg.Analyzer.LLMBaseURL,
			APIKey:    cfg.Analyzer.LLMAPIKey,
			Model:     cfg.Analyzer.LLMModel,
			MaxTokens: cfg.Analyzer.LLMMaxTokens,
			Timeout:   cfg.Analyzer.LLMTimeout.Duration,
		}, logger)
		if err != nil {
			logger.WarnContext(ctx, "llm summarizer unavailable, using rules",
				slog.String("error", err.Error()),
			)
		} else {
			deps.Summarizer = s
		}
	}

	return deps, cleanup, nil
}
