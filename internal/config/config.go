// Package config defines the top-level configuration for setupwatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SETUPWATCH_* environment variables.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Decision  DecisionConfig  `toml:"decision"`
	Risk      RiskConfig      `toml:"risk"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Analyzer  AnalyzerConfig  `toml:"analyzer"`
	Chart     ChartConfig     `toml:"chart"`
	Journal   JournalConfig   `toml:"journal"`
	Feed      FeedConfig      `toml:"feed"`
	Archive   ArchiveConfig   `toml:"archive"`
	Calendar  CalendarConfig  `toml:"calendar"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// StorageConfig selects the persistence driver.
type StorageConfig struct {
	// Driver is "postgres" or "memory". Memory is single-process only.
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. An empty Addr selects the
// in-process cache primitives.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables the chart cache and archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PublicBaseURL  string `toml:"public_base_url"`
}

// DecisionConfig holds the decision thresholds.
type DecisionConfig struct {
	MinRiskReward float64 `toml:"min_risk_reward"`
	MinBiasScore  float64 `toml:"min_bias_score"`
	ExposureCap   float64 `toml:"exposure_cap"`
	RiskPerSetup  float64 `toml:"risk_per_setup"`
}

// RiskConfig holds the risk evaluator weights and the market tracker window.
type RiskConfig struct {
	TrendWeight      float64  `toml:"trend_weight"`
	VolatilityWeight float64  `toml:"volatility_weight"`
	EventLookahead   duration `toml:"event_lookahead"`
	EventGrace       duration `toml:"event_grace"`
	HistoryWindow    duration `toml:"history_window"`
	FastPeriod       int      `toml:"fast_period"`
	SlowPeriod       int      `toml:"slow_period"`
	RecentWindow     int      `toml:"recent_window"`
}

// LifecycleConfig holds validity windows and the tracker/sweeper knobs.
type LifecycleConfig struct {
	IntradayWindow duration `toml:"intraday_window"`
	SwingWindow    duration `toml:"swing_window"`
	MultiDayWindow duration `toml:"multi_day_window"`
	DefaultWindow  duration `toml:"default_window"`
	SweepInterval  duration `toml:"sweep_interval"`
	SweepBatch     int      `toml:"sweep_batch"`
	QueueSize      int      `toml:"queue_size"`
	// Strict turns a consistency violation after a transition into an error
	// instead of a warning.
	Strict bool `toml:"strict"`
}

// AnalyzerConfig holds the outcome analyzer and optional LLM settings. An
// empty LLMAPIKey keeps the analyzer rule-based.
type AnalyzerConfig struct {
	Workers          int      `toml:"workers"`
	BackfillOnStart  bool     `toml:"backfill_on_start"`
	BackfillInterval duration `toml:"backfill_interval"`
	// PostStopWindow delays analysis of stopped setups so a target reached
	// after the stop is seen.
	PostStopWindow duration `toml:"post_stop_window"`
	LLMBaseURL     string   `toml:"llm_base_url"`
	LLMAPIKey      string   `toml:"llm_api_key"`
	LLMModel       string   `toml:"llm_model"`
	LLMMaxTokens   int      `toml:"llm_max_tokens"`
	LLMTimeout     duration `toml:"llm_timeout"`
}

// ChartConfig holds the chart-snapshot collaborator settings. An empty BaseURL
// disables chart attachments.
type ChartConfig struct {
	BaseURL        string   `toml:"base_url"`
	APIKey         string   `toml:"api_key"`
	DailyQuota     int      `toml:"daily_quota"`
	BurstPerSecond int      `toml:"burst_per_second"`
	MaxInFlight    int      `toml:"max_in_flight"`
	Timeout        duration `toml:"timeout"`
}

// JournalConfig holds the decision journal sinks.
type JournalConfig struct {
	// SQLitePath enables the local SQLite journal when set.
	SQLitePath string `toml:"sqlite_path"`
	Stream     bool   `toml:"stream"`
	Audit      bool   `toml:"audit"`
	BufferSize int    `toml:"buffer_size"`
}

// FeedConfig holds the upstream price feeds.
type FeedConfig struct {
	// WSURL enables the WebSocket price client when set.
	WSURL   string   `toml:"ws_url"`
	Symbols []string `toml:"symbols"`
	// Bus enables consuming observations published on the prices channel.
	Bus bool `toml:"bus"`
}

// ArchiveConfig holds the cold-storage schedule.
type ArchiveConfig struct {
	Enabled            bool   `toml:"enabled"`
	Cron               string `toml:"cron"`
	RetentionDays      int    `toml:"retention_days"`
	PriceRetentionDays int    `toml:"price_retention_days"`
}

// CalendarConfig holds events seeded at start-up.
type CalendarConfig struct {
	Events []CalendarEventConfig `toml:"events"`
}

// CalendarEventConfig is one seeded calendar event.
type CalendarEventConfig struct {
	Name        string    `toml:"name"`
	Symbols     []string  `toml:"symbols"`
	Impact      string    `toml:"impact"`
	ScheduledAt time.Time `toml:"scheduled_at"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey enables static key authentication when set.
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "setupwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "setupwatch",
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Decision: DecisionConfig{
			MinRiskReward: 1.5,
			MinBiasScore:  0.4,
			ExposureCap:   0.05,
			RiskPerSetup:  0.01,
		},
		Risk: RiskConfig{
			TrendWeight:      0.6,
			VolatilityWeight: 0.4,
			EventLookahead:   duration{30 * time.Minute},
			HistoryWindow:    duration{72 * time.Hour},
			FastPeriod:       12,
			SlowPeriod:       48,
			RecentWindow:     20,
		},
		Lifecycle: LifecycleConfig{
			IntradayWindow: duration{6 * time.Hour},
			SwingWindow:    duration{48 * time.Hour},
			MultiDayWindow: duration{120 * time.Hour},
			DefaultWindow:  duration{24 * time.Hour},
			SweepInterval:  duration{30 * time.Second},
			SweepBatch:     200,
			QueueSize:      256,
		},
		Analyzer: AnalyzerConfig{
			Workers:          2,
			BackfillOnStart:  true,
			BackfillInterval: duration{5 * time.Minute},
			PostStopWindow:   duration{time.Hour},
			LLMModel:         "gpt-4o-mini",
			LLMMaxTokens:     400,
			LLMTimeout:       duration{20 * time.Second},
		},
		Chart: ChartConfig{
			DailyQuota:     500,
			BurstPerSecond: 2,
			MaxInFlight:    4,
			Timeout:        duration{15 * time.Second},
		},
		Journal: JournalConfig{
			Stream:     true,
			Audit:      true,
			BufferSize: 512,
		},
		Feed: FeedConfig{Bus: true},
		Archive: ArchiveConfig{
			Enabled:            true,
			Cron:               "0 3 1 * *",
			RetentionDays:      90,
			PriceRetentionDays: 30,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"decision_halt", "setup_closed", "lesson_created"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":   true,
	"api":    true,
	"worker": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validImpacts = map[string]bool{
	"":       true,
	"high":   true,
	"medium": true,
	"low":    true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, api, worker)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be within [0, pool_max_conns]")
		}
	case "memory":
		if strings.ToLower(c.Mode) != "full" {
			errs = append(errs, "storage: the memory driver only supports mode full")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when bucket is set")
	}

	// Decision
	if c.Decision.MinRiskReward <= 0 {
		errs = append(errs, "decision: min_risk_reward must be > 0")
	}
	if c.Decision.MinBiasScore < 0 || c.Decision.MinBiasScore > 1 {
		errs = append(errs, "decision: min_bias_score must be within [0, 1]")
	}
	if c.Decision.ExposureCap <= 0 || c.Decision.ExposureCap > 1 {
		errs = append(errs, "decision: exposure_cap must be within (0, 1]")
	}
	if c.Decision.RiskPerSetup <= 0 {
		errs = append(errs, "decision: risk_per_setup must be > 0")
	}

	// Risk
	if c.Risk.TrendWeight < 0 || c.Risk.VolatilityWeight < 0 || c.Risk.TrendWeight+c.Risk.VolatilityWeight == 0 {
		errs = append(errs, "risk: trend_weight and volatility_weight must be >= 0 and not both zero")
	}
	if c.Risk.FastPeriod >= c.Risk.SlowPeriod {
		errs = append(errs, "risk: fast_period must be below slow_period")
	}
	if c.Risk.RecentWindow < 2 {
		errs = append(errs, "risk: recent_window must be >= 2")
	}

	// Lifecycle
	if c.Lifecycle.SweepInterval.Duration <= 0 {
		errs = append(errs, "lifecycle: sweep_interval must be > 0")
	}
	if c.Lifecycle.QueueSize < 1 {
		errs = append(errs, "lifecycle: queue_size must be >= 1")
	}

	// Analyzer
	if c.Analyzer.Workers < 1 {
		errs = append(errs, "analyzer: workers must be >= 1")
	}
	if c.Analyzer.PostStopWindow.Duration < 0 {
		errs = append(errs, "analyzer: post_stop_window must not be negative")
	}

	// Chart
	if c.Chart.BaseURL != "" && c.Chart.DailyQuota < 1 {
		errs = append(errs, "chart: daily_quota must be >= 1 when base_url is set")
	}

	// Archive
	if c.Archive.Enabled {
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Calendar
	for i, ev := range c.Calendar.Events {
		if strings.TrimSpace(ev.Name) == "" || ev.ScheduledAt.IsZero() {
			errs = append(errs, fmt.Sprintf("calendar: events[%d] needs name and scheduled_at", i))
		}
		if !validImpacts[strings.ToLower(ev.Impact)] {
			errs = append(errs, fmt.Sprintf("calendar: events[%d] unknown impact %q", i, ev.Impact))
		}
	}

	// Server
	if strings.ToLower(c.Mode) != "worker" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
