package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCatchesBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Rounds.LockWindow = duration{2 * time.Minute} // longer than the round
	cfg.Stakes.PenaltyBps = 10_000
	cfg.Feed.Source = "carrier-pigeon"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock_window")
	assert.Contains(t, err.Error(), "penalty_bps")
	assert.Contains(t, err.Error(), "feed: source")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
log_level = "debug"

[server]
port = 9090

[rounds]
duration = "2m"
lock_window = "10s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("POOLBET_SERVER_PORT", "7070")
	t.Setenv("POOLBET_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env beats file beats defaults.
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Minute, cfg.Rounds.Duration.Duration)
	assert.Equal(t, 10*time.Second, cfg.Rounds.LockWindow.Duration)
	// Untouched values keep their defaults.
	assert.Equal(t, int64(100), cfg.Stakes.MinStake)

	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Server.APIKey = "api-secret"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// The original is untouched.
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)

	// Mutating a redacted slice must not leak back.
	red.Feed.Assets[0] = "mutated"
	assert.Equal(t, "BTC-USD", cfg.Feed.Assets[0])
}
