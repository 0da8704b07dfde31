package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SETUPWATCH_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SETUPWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Driver, "SETUPWATCH_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention; the prefixed key wins
	setStr(&cfg.Postgres.DSN, "SETUPWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SETUPWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SETUPWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SETUPWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SETUPWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SETUPWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SETUPWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SETUPWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SETUPWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SETUPWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SETUPWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SETUPWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SETUPWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SETUPWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SETUPWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SETUPWATCH_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SETUPWATCH_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SETUPWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SETUPWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "SETUPWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SETUPWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SETUPWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SETUPWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SETUPWATCH_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.PublicBaseURL, "SETUPWATCH_S3_PUBLIC_BASE_URL")

	// ── Decision ──
	setFloat64(&cfg.Decision.MinRiskReward, "SETUPWATCH_DECISION_MIN_RISK_REWARD")
	setFloat64(&cfg.Decision.MinBiasScore, "SETUPWATCH_DECISION_MIN_BIAS_SCORE")
	setFloat64(&cfg.Decision.ExposureCap, "SETUPWATCH_DECISION_EXPOSURE_CAP")
	setFloat64(&cfg.Decision.RiskPerSetup, "SETUPWATCH_DECISION_RISK_PER_SETUP")

	// ── Risk ──
	setFloat64(&cfg.Risk.TrendWeight, "SETUPWATCH_RISK_TREND_WEIGHT")
	setFloat64(&cfg.Risk.VolatilityWeight, "SETUPWATCH_RISK_VOLATILITY_WEIGHT")
	setDuration(&cfg.Risk.EventLookahead, "SETUPWATCH_RISK_EVENT_LOOKAHEAD")
	setDuration(&cfg.Risk.EventGrace, "SETUPWATCH_RISK_EVENT_GRACE")
	setDuration(&cfg.Risk.HistoryWindow, "SETUPWATCH_RISK_HISTORY_WINDOW")
	setInt(&cfg.Risk.RecentWindow, "SETUPWATCH_RISK_RECENT_WINDOW")

	// ── Lifecycle ──
	setDuration(&cfg.Lifecycle.SweepInterval, "SETUPWATCH_LIFECYCLE_SWEEP_INTERVAL")
	setInt(&cfg.Lifecycle.SweepBatch, "SETUPWATCH_LIFECYCLE_SWEEP_BATCH")
	setInt(&cfg.Lifecycle.QueueSize, "SETUPWATCH_LIFECYCLE_QUEUE_SIZE")
	setBool(&cfg.Lifecycle.Strict, "SETUPWATCH_LIFECYCLE_STRICT")

	// ── Analyzer ──
	setInt(&cfg.Analyzer.Workers, "SETUPWATCH_ANALYZER_WORKERS")
	setBool(&cfg.Analyzer.BackfillOnStart, "SETUPWATCH_ANALYZER_BACKFILL_ON_START")
	setDuration(&cfg.Analyzer.BackfillInterval, "SETUPWATCH_ANALYZER_BACKFILL_INTERVAL")
	setDuration(&cfg.Analyzer.PostStopWindow, "SETUPWATCH_ANALYZER_POST_STOP_WINDOW")
	setStr(&cfg.Analyzer.LLMBaseURL, "SETUPWATCH_ANALYZER_LLM_BASE_URL")
	setStr(&cfg.Analyzer.LLMAPIKey, "SETUPWATCH_ANALYZER_LLM_API_KEY")
	setStr(&cfg.Analyzer.LLMModel, "SETUPWATCH_ANALYZER_LLM_MODEL")
	setDuration(&cfg.Analyzer.LLMTimeout, "SETUPWATCH_ANALYZER_LLM_TIMEOUT")

	// ── Chart ──
	setStr(&cfg.Chart.BaseURL, "SETUPWATCH_CHART_BASE_URL")
	setStr(&cfg.Chart.APIKey, "SETUPWATCH_CHART_API_KEY")
	setInt(&cfg.Chart.DailyQuota, "SETUPWATCH_CHART_DAILY_QUOTA")

	// ── Journal ──
	setStr(&cfg.Journal.SQLitePath, "SETUPWATCH_JOURNAL_SQLITE_PATH")
	setBool(&cfg.Journal.Stream, "SETUPWATCH_JOURNAL_STREAM")
	setBool(&cfg.Journal.Audit, "SETUPWATCH_JOURNAL_AUDIT")

	// ── Feed ──
	setStr(&cfg.Feed.WSURL, "SETUPWATCH_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "SETUPWATCH_FEED_SYMBOLS")
	setBool(&cfg.Feed.Bus, "SETUPWATCH_FEED_BUS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SETUPWATCH_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "SETUPWATCH_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "SETUPWATCH_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.PriceRetentionDays, "SETUPWATCH_ARCHIVE_PRICE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "SETUPWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SETUPWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SETUPWATCH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SETUPWATCH_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SETUPWATCH_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SETUPWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SETUPWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SETUPWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SETUPWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SETUPWATCH_MODE")
	setStr(&cfg.LogLevel, "SETUPWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
