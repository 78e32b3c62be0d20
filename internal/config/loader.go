package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POOLBET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POOLBET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// -- Postgres --
	setStr(&cfg.Postgres.DSN, "POOLBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POOLBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POOLBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POOLBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POOLBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POOLBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POOLBET_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POOLBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POOLBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POOLBET_POSTGRES_RUN_MIGRATIONS")

	// -- Redis --
	setStr(&cfg.Redis.Addr, "POOLBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOLBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOLBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POOLBET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POOLBET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POOLBET_REDIS_TLS_ENABLED")

	// -- S3 --
	setBool(&cfg.S3.Enabled, "POOLBET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POOLBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POOLBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "POOLBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POOLBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POOLBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POOLBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POOLBET_S3_FORCE_PATH_STYLE")

	// -- Server --
	setInt(&cfg.Server.Port, "POOLBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POOLBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POOLBET_SERVER_API_KEY")
	setStr(&cfg.Server.EncryptedKeyPath, "POOLBET_SERVER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Server.KeyPassword, "POOLBET_SERVER_KEY_PASSWORD")
	setInt(&cfg.Server.RateLimit, "POOLBET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POOLBET_SERVER_RATE_WINDOW")

	// -- Feed --
	setStr(&cfg.Feed.Source, "POOLBET_FEED_SOURCE")
	setStr(&cfg.Feed.WSURL, "POOLBET_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Assets, "POOLBET_FEED_ASSETS")
	setDuration(&cfg.Feed.StaleAfter, "POOLBET_FEED_STALE_AFTER")

	// -- Stakes --
	setInt64(&cfg.Stakes.MinStake, "POOLBET_STAKES_MIN_STAKE")
	setInt64(&cfg.Stakes.MaxStake, "POOLBET_STAKES_MAX_STAKE")
	setInt(&cfg.Stakes.PenaltyBps, "POOLBET_STAKES_PENALTY_BPS")
	setInt(&cfg.Stakes.CashoutFeeBps, "POOLBET_STAKES_CASHOUT_FEE_BPS")
	setInt(&cfg.Stakes.RatePerMinute, "POOLBET_STAKES_RATE_PER_MINUTE")

	// -- Rounds --
	setStringSlice(&cfg.Rounds.Assets, "POOLBET_ROUNDS_ASSETS")
	setDuration(&cfg.Rounds.Duration, "POOLBET_ROUNDS_DURATION")
	setDuration(&cfg.Rounds.LockWindow, "POOLBET_ROUNDS_LOCK_WINDOW")
	setInt(&cfg.Rounds.FeeBps, "POOLBET_ROUNDS_FEE_BPS")
	setInt64(&cfg.Rounds.EpsilonBps, "POOLBET_ROUNDS_EPSILON_BPS")
	setInt(&cfg.Rounds.RatePerMinute, "POOLBET_ROUNDS_RATE_PER_MINUTE")
	setDuration(&cfg.Rounds.TickInterval, "POOLBET_ROUNDS_TICK_INTERVAL")

	// -- Archive --
	setBool(&cfg.Archive.Enabled, "POOLBET_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POOLBET_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "POOLBET_ARCHIVE_INTERVAL")

	// -- Notify --
	setStr(&cfg.Notify.TelegramToken, "POOLBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POOLBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POOLBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POOLBET_NOTIFY_EVENTS")

	// -- Top-level --
	setStr(&cfg.LogLevel, "POOLBET_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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
