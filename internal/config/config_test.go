package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
log_level = "debug"

[venue]
address       = "0x0000000000000000000000000000000000000001"
operator      = "0x00000000000000000000000000000000000000aa"
fee_collector = "0x00000000000000000000000000000000000000cc"
payment_token = "0x0000000000000000000000000000000000000dd1"
lock_wait     = "2s"

[fees.exchange]
base = 40

[exchange]
token_a = "0x000000000000000000000000000000000000a000"
token_b = "0x000000000000000000000000000000000000b000"

[ledger]
retention = "48h"

[server]
api_key = "test-key"

[[sandbox.balances]]
account = "0x00000000000000000000000000000000000000b1"
token   = "0x0000000000000000000000000000000000000dd1"
amount  = "1000000000000000000000"
approve = true

[[sandbox.assets]]
asset   = "0x00000000000000000000000000000000000000c0/1"
owner   = "0x00000000000000000000000000000000000000a1"
approve = true

[sandbox.tiers]
"0x00000000000000000000000000000000000000b1" = "top"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "venue.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Venue.LockWait.Duration)
	assert.Equal(t, 30*time.Second, cfg.Venue.LockTTL.Duration, "default kept")
	assert.Equal(t, 40, cfg.Fees.Exchange.Base)
	assert.Equal(t, 25, cfg.Fees.Exchange.MidLow, "default kept")
	assert.Equal(t, [4]uint16{250, 200, 150, 100}, cfg.Fees.Marketplace.Rates())
	assert.Equal(t, 48*time.Hour, cfg.Ledger.Retention.Duration)
	assert.Len(t, cfg.Sandbox.Balances, 1)
	assert.Equal(t, "top", cfg.Sandbox.Tiers["0x00000000000000000000000000000000000000b1"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VENUE_LOG_LEVEL", "warn")
	t.Setenv("VENUE_FEES_MARKETPLACE_TOP", "50")
	t.Setenv("VENUE_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("VENUE_LEDGER_RETENTION", "1h")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 50, cfg.Fees.Marketplace.Top)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Hour, cfg.Ledger.Retention.Duration)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Fees.Exchange.Top = 501
	cfg.Venue.DistributedLocks = true
	cfg.Archive.Enabled = true
	cfg.Server.RateLimit = 10
	cfg.Server.RequireSignatures = true
	cfg.Server.ChainID = 0
	cfg.Archive.After.Duration = 72*time.Hour + 7*24*time.Hour - time.Second

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "venue.address")
	assert.Contains(t, msg, "fees.exchange: top rate must be 0-500 bps, got 501")
	assert.Contains(t, msg, "distributed_locks requires redis.enabled")
	assert.Contains(t, msg, "archive: requires s3.enabled and postgres.enabled")
	assert.Contains(t, msg, "exchange.token_a")
	assert.Contains(t, msg, "rate_limit requires redis.enabled")
	assert.Contains(t, msg, "chain_id must be > 0")
	assert.Contains(t, msg, "archive: after must be >= 240h0m0s")
}

func TestValidate_ArchiveKeepsRestoreHorizon(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	cfg.S3.Enabled = true
	cfg.Postgres.Enabled = true
	cfg.Archive.Enabled = true

	cfg.Archive.After.Duration = 72*time.Hour + 48*time.Hour
	require.NoError(t, cfg.Validate())

	cfg.Archive.After.Duration = time.Hour
	require.ErrorContains(t, cfg.Validate(), "archive: after must be >= 120h0m0s")
}

func TestValidate_ServerNeedsCallerAuth(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	cfg.Server.APIKey = ""
	require.ErrorContains(t, cfg.Validate(), "server: set api_key or require_signatures")

	cfg.Server.RequireSignatures = true
	require.NoError(t, cfg.Validate())

	cfg.Server.RequireSignatures = false
	cfg.Server.AllowUnauthenticated = true
	require.NoError(t, cfg.Validate())

	cfg.Server.AllowUnauthenticated = false
	cfg.Server.Enabled = false
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "k"
	cfg.Notify.Events = []string{"a"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password)

	out.Notify.Events[0] = "b"
	assert.Equal(t, "a", cfg.Notify.Events[0])
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
