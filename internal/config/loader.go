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
// built-in defaults, applies VENUE_* environment variable overrides, and
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

// applyEnvOverrides reads well-known VENUE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.Address, "VENUE_ADDRESS")
	setStr(&cfg.Venue.Operator, "VENUE_OPERATOR")
	setStr(&cfg.Venue.FeeCollector, "VENUE_FEE_COLLECTOR")
	setStr(&cfg.Venue.PaymentToken, "VENUE_PAYMENT_TOKEN")
	setDuration(&cfg.Venue.LockTTL, "VENUE_LOCK_TTL")
	setDuration(&cfg.Venue.LockWait, "VENUE_LOCK_WAIT")
	setBool(&cfg.Venue.DistributedLocks, "VENUE_DISTRIBUTED_LOCKS")
	setDuration(&cfg.Venue.AutoEndInterval, "VENUE_AUTO_END_INTERVAL")

	// ── Fees ──
	setInt(&cfg.Fees.Marketplace.Base, "VENUE_FEES_MARKETPLACE_BASE")
	setInt(&cfg.Fees.Marketplace.MidLow, "VENUE_FEES_MARKETPLACE_MID_LOW")
	setInt(&cfg.Fees.Marketplace.MidHigh, "VENUE_FEES_MARKETPLACE_MID_HIGH")
	setInt(&cfg.Fees.Marketplace.Top, "VENUE_FEES_MARKETPLACE_TOP")
	setInt(&cfg.Fees.Exchange.Base, "VENUE_FEES_EXCHANGE_BASE")
	setInt(&cfg.Fees.Exchange.MidLow, "VENUE_FEES_EXCHANGE_MID_LOW")
	setInt(&cfg.Fees.Exchange.MidHigh, "VENUE_FEES_EXCHANGE_MID_HIGH")
	setInt(&cfg.Fees.Exchange.Top, "VENUE_FEES_EXCHANGE_TOP")

	// ── Exchange ──
	setBool(&cfg.Exchange.Enabled, "VENUE_EXCHANGE_ENABLED")
	setStr(&cfg.Exchange.TokenA, "VENUE_EXCHANGE_TOKEN_A")
	setStr(&cfg.Exchange.TokenB, "VENUE_EXCHANGE_TOKEN_B")

	// ── Ledger ──
	setDuration(&cfg.Ledger.Retention, "VENUE_LEDGER_RETENTION")
	setBool(&cfg.Ledger.RestoreOnStart, "VENUE_LEDGER_RESTORE_ON_START")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "VENUE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "VENUE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "VENUE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VENUE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VENUE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VENUE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VENUE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VENUE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VENUE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VENUE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VENUE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "VENUE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "VENUE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VENUE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VENUE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VENUE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VENUE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VENUE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.ChannelPrefix, "VENUE_REDIS_CHANNEL_PREFIX")
	setStr(&cfg.Redis.Stream, "VENUE_REDIS_STREAM")
	setInt64(&cfg.Redis.StreamMaxLen, "VENUE_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VENUE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VENUE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VENUE_S3_REGION")
	setStr(&cfg.S3.Bucket, "VENUE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VENUE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VENUE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VENUE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VENUE_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.CreateBucket, "VENUE_S3_CREATE_BUCKET")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "VENUE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.After, "VENUE_ARCHIVE_AFTER")
	setDuration(&cfg.Archive.Interval, "VENUE_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Prefix, "VENUE_ARCHIVE_PREFIX")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "VENUE_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "VENUE_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "VENUE_KAFKA_TOPIC")
	setInt(&cfg.Kafka.BatchSize, "VENUE_KAFKA_BATCH_SIZE")
	setDuration(&cfg.Kafka.BatchTimeout, "VENUE_KAFKA_BATCH_TIMEOUT")
	setInt(&cfg.Kafka.RequiredAcks, "VENUE_KAFKA_REQUIRED_ACKS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VENUE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VENUE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VENUE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VENUE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "VENUE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "VENUE_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.RequireSignatures, "VENUE_SERVER_REQUIRE_SIGNATURES")
	setInt64(&cfg.Server.ChainID, "VENUE_SERVER_CHAIN_ID")
	setDuration(&cfg.Server.SignatureMaxSkew, "VENUE_SERVER_SIGNATURE_MAX_SKEW")
	setBool(&cfg.Server.AllowUnauthenticated, "VENUE_SERVER_ALLOW_UNAUTHENTICATED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VENUE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VENUE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VENUE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VENUE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "VENUE_LOG_LEVEL")
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
