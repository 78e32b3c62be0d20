// Package config defines the top-level configuration for the wagering
// platform and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POOLBET_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Feed     FeedConfig     `toml:"feed"`
	Stakes   StakesConfig   `toml:"stakes"`
	Rounds   RoundsConfig   `toml:"rounds"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters. The API key can be given raw
// (development) or as an encrypted key file plus password.
type ServerConfig struct {
	Port             int      `toml:"port"`
	CORSOrigins      []string `toml:"cors_origins"`
	APIKey           string   `toml:"api_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
}

// FeedConfig holds reference price feed parameters. Source selects the feed
// implementation: "ws" for a live WebSocket feed, "sim" for the bounded
// random walk used in development.
type FeedConfig struct {
	Source     string   `toml:"source"`
	WSURL      string   `toml:"ws_url"`
	Assets     []string `toml:"assets"`
	StaleAfter duration `toml:"stale_after"`
}

// StakesConfig holds market stake parameters.
type StakesConfig struct {
	MinStake      int64 `toml:"min_stake"`
	MaxStake      int64 `toml:"max_stake"`
	PenaltyBps    int   `toml:"penalty_bps"`
	CashoutFeeBps int   `toml:"cashout_fee_bps"`
	RatePerMinute int   `toml:"rate_per_minute"`
}

// RoundsConfig holds fast-round parameters.
type RoundsConfig struct {
	Assets        []string `toml:"assets"`
	Duration      duration `toml:"duration"`
	LockWindow    duration `toml:"lock_window"`
	FeeBps        int      `toml:"fee_bps"`
	EpsilonBps    int64    `toml:"epsilon_bps"`
	RatePerMinute int      `toml:"rate_per_minute"`
	TickInterval  duration `toml:"tick_interval"`
}

// ArchiveConfig holds settlement data archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "poolbet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poolbet-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:       8080,
			RateLimit:  0,
			RateWindow: duration{time.Minute},
		},
		Feed: FeedConfig{
			Source:     "sim",
			Assets:     []string{"BTC-USD"},
			StaleAfter: duration{15 * time.Second},
		},
		Stakes: StakesConfig{
			MinStake:      100,
			MaxStake:      1_000_000_000,
			PenaltyBps:    3000,
			CashoutFeeBps: 300,
			RatePerMinute: 60,
		},
		Rounds: RoundsConfig{
			Assets:        []string{"BTC-USD"},
			Duration:      duration{time.Minute},
			LockWindow:    duration{5 * time.Second},
			FeeBps:        200,
			EpsilonBps:    1,
			RatePerMinute: 120,
			TickInterval:  duration{time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		LogLevel: "info",
	}
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error naming every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Postgres.DSN == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty when dsn is unset")
		}
		if c.Postgres.Port <= 0 {
			errs = append(errs, "postgres: port must be positive")
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < c.Postgres.PoolMinConns {
		errs = append(errs, "postgres: pool_max_conns must be >= pool_min_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be in (0, 65535], got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must not be negative")
	}

	switch c.Feed.Source {
	case "ws":
		if c.Feed.WSURL == "" {
			errs = append(errs, "feed: ws_url must not be empty for the ws source")
		}
	case "sim":
	default:
		errs = append(errs, fmt.Sprintf("feed: source must be ws or sim, got %q", c.Feed.Source))
	}
	if len(c.Feed.Assets) == 0 {
		errs = append(errs, "feed: at least one asset is required")
	}
	if c.Feed.StaleAfter.Duration <= 0 {
		errs = append(errs, "feed: stale_after must be positive")
	}

	if c.Stakes.MinStake <= 0 {
		errs = append(errs, "stakes: min_stake must be positive")
	}
	if c.Stakes.MaxStake < c.Stakes.MinStake {
		errs = append(errs, "stakes: max_stake must be >= min_stake")
	}
	if c.Stakes.PenaltyBps < 0 || c.Stakes.PenaltyBps >= 10_000 {
		errs = append(errs, "stakes: penalty_bps must be in [0, 10000)")
	}
	if c.Stakes.CashoutFeeBps < 0 || c.Stakes.CashoutFeeBps >= 10_000 {
		errs = append(errs, "stakes: cashout_fee_bps must be in [0, 10000)")
	}

	if len(c.Rounds.Assets) == 0 {
		errs = append(errs, "rounds: at least one asset is required")
	}
	if c.Rounds.Duration.Duration <= 0 {
		errs = append(errs, "rounds: duration must be positive")
	}
	if c.Rounds.LockWindow.Duration <= 0 || c.Rounds.LockWindow.Duration >= c.Rounds.Duration.Duration {
		errs = append(errs, "rounds: lock_window must be positive and shorter than duration")
	}
	if c.Rounds.FeeBps < 0 || c.Rounds.FeeBps >= 10_000 {
		errs = append(errs, "rounds: fee_bps must be in [0, 10000)")
	}
	if c.Rounds.EpsilonBps < 0 {
		errs = append(errs, "rounds: epsilon_bps must not be negative")
	}
	if c.Rounds.TickInterval.Duration <= 0 {
		errs = append(errs, "rounds: tick_interval must be positive")
	}

	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: s3 must be enabled when archive is enabled")
		}
		if c.Archive.RetentionDays <= 0 {
			errs = append(errs, "archive: retention_days must be positive")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error", "":
	default:
		errs = append(errs, fmt.Sprintf("log_level must be debug, info, warn, or error, got %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
