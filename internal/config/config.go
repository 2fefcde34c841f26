// Package config defines the top-level configuration for the venue daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/ledger"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VENUE_* environment variables.
type Config struct {
	Venue    VenueConfig    `toml:"venue"`
	Fees     FeesConfig     `toml:"fees"`
	Exchange ExchangeConfig `toml:"exchange"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig holds the identities the engines act as.
type VenueConfig struct {
	// Address is the escrow identity holding listed assets, bids and pool
	// reserves.
	Address      string   `toml:"address"`
	Operator     string   `toml:"operator"`
	FeeCollector string   `toml:"fee_collector"`
	PaymentToken string   `toml:"payment_token"`
	LockTTL      duration `toml:"lock_ttl"`
	LockWait     duration `toml:"lock_wait"`
	// DistributedLocks adds Redis locks behind the in-process ones so that
	// several daemons can share one venue.
	DistributedLocks bool `toml:"distributed_locks"`
	// AutoEndInterval is how often due auctions are closed automatically.
	// Zero disables the sweeper.
	AutoEndInterval duration `toml:"auto_end_interval"`
}

// FeesConfig holds one tier table per engine.
type FeesConfig struct {
	Marketplace FeeTable `toml:"marketplace"`
	Exchange    FeeTable `toml:"exchange"`
}

// FeeTable is the basis-point rate of each tier.
type FeeTable struct {
	Base    int `toml:"base"`
	MidLow  int `toml:"mid_low"`
	MidHigh int `toml:"mid_high"`
	Top     int `toml:"top"`
}

// Rates returns the table indexed by tier. Call after Validate.
func (t FeeTable) Rates() [domain.NumTiers]uint16 {
	return [domain.NumTiers]uint16{uint16(t.Base), uint16(t.MidLow), uint16(t.MidHigh), uint16(t.Top)}
}

// ExchangeConfig names the pool's token pair.
type ExchangeConfig struct {
	Enabled bool   `toml:"enabled"`
	TokenA  string `toml:"token_a"`
	TokenB  string `toml:"token_b"`
}

// LedgerConfig tunes the trade ledger.
type LedgerConfig struct {
	Retention      duration `toml:"retention"`
	RestoreOnStart bool     `toml:"restore_on_start"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade
// journal and audit log.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// ChannelPrefix prefixes the pub/sub channel of every event kind.
	ChannelPrefix string `toml:"channel_prefix"`
	// Stream is the durable stream every event is appended to.
	Stream       string `toml:"stream"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// CreateBucket creates the bucket at startup when it is missing.
	CreateBucket bool `toml:"create_bucket"`
}

// ArchiveConfig controls moving old journal rows to object storage.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	After    duration `toml:"after"`
	Interval duration `toml:"interval"`
	Prefix   string   `toml:"prefix"`
}

// KafkaConfig holds the event topic parameters.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	BatchSize    int      `toml:"batch_size"`
	BatchTimeout duration `toml:"batch_timeout"`
	RequiredAcks int      `toml:"required_acks"`
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required on every mutating request.
	APIKey string `toml:"api_key"`
	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// limiting; it needs redis.enabled.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// RequireSignatures makes every request that names a caller carry an
	// EIP-712 signature by that caller.
	RequireSignatures bool     `toml:"require_signatures"`
	ChainID           int64    `toml:"chain_id"`
	SignatureMaxSkew  duration `toml:"signature_max_skew"`
	// AllowUnauthenticated serves writes with neither an API key nor
	// signatures, trusting the caller header as sent. Local use only.
	AllowUnauthenticated bool `toml:"allow_unauthenticated"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// SandboxConfig seeds the in-memory custody, payment and tier collaborators.
type SandboxConfig struct {
	Balances []SandboxBalance `toml:"balances"`
	Assets   []SandboxAsset   `toml:"assets"`
	// Tiers maps an account address to a tier name or index.
	Tiers map[string]string `toml:"tiers"`
}

// SandboxBalance credits Amount of Token to Account and, when Approve is
// set, lets the venue spend all of it.
type SandboxBalance struct {
	Account string `toml:"account"`
	Token   string `toml:"token"`
	Amount  string `toml:"amount"`
	Approve bool   `toml:"approve"`
}

// SandboxAsset assigns Asset to Owner.
type SandboxAsset struct {
	Asset   string `toml:"asset"`
	Owner   string `toml:"owner"`
	Approve bool   `toml:"approve"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			LockTTL:         duration{30 * time.Second},
			LockWait:        duration{5 * time.Second},
			AutoEndInterval: duration{30 * time.Second},
		},
		Fees: FeesConfig{
			Marketplace: FeeTable{Base: 250, MidLow: 200, MidHigh: 150, Top: 100},
			Exchange:    FeeTable{Base: 30, MidLow: 25, MidHigh: 20, Top: 10},
		},
		Exchange: ExchangeConfig{Enabled: true},
		Ledger: LedgerConfig{
			Retention:      duration{7 * 24 * time.Hour},
			RestoreOnStart: true,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "venue",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			ChannelPrefix: "venue:",
			Stream:        "venue:events",
			StreamMaxLen:  10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "venue-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			After:    duration{90 * 24 * time.Hour},
			Interval: duration{24 * time.Hour},
			Prefix:   "archive/trades",
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			Topic:        "venue.events",
			BatchSize:    100,
			BatchTimeout: duration{time.Second},
			RequiredAcks: 1,
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:       duration{time.Second},
			ChainID:          1,
			SignatureMaxSkew: duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{
				string(domain.EventPurchaseCompleted),
				string(domain.EventAuctionEnded),
				string(domain.EventFeeRateUpdated),
			},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	addr := func(field, v string, required bool) {
		if v == "" && !required {
			return
		}
		if !common.IsHexAddress(v) || common.HexToAddress(v) == (common.Address{}) {
			errs = append(errs, fmt.Sprintf("%s: %q is not a non-zero hex address", field, v))
		}
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue
	addr("venue.address", c.Venue.Address, true)
	addr("venue.operator", c.Venue.Operator, true)
	addr("venue.fee_collector", c.Venue.FeeCollector, true)
	addr("venue.payment_token", c.Venue.PaymentToken, true)
	if c.Venue.LockWait.Duration <= 0 {
		errs = append(errs, "venue: lock_wait must be > 0")
	}
	if c.Venue.DistributedLocks && !c.Redis.Enabled {
		errs = append(errs, "venue: distributed_locks requires redis.enabled")
	}
	if c.Venue.AutoEndInterval.Duration < 0 {
		errs = append(errs, "venue: auto_end_interval must be >= 0")
	}

	// Fees
	for name, t := range map[string]FeeTable{"marketplace": c.Fees.Marketplace, "exchange": c.Fees.Exchange} {
		for tier, r := range map[string]int{"base": t.Base, "mid_low": t.MidLow, "mid_high": t.MidHigh, "top": t.Top} {
			if r < 0 || r > 500 {
				errs = append(errs, fmt.Sprintf("fees.%s: %s rate must be 0-500 bps, got %d", name, tier, r))
			}
		}
	}

	// Exchange
	if c.Exchange.Enabled {
		addr("exchange.token_a", c.Exchange.TokenA, true)
		addr("exchange.token_b", c.Exchange.TokenB, true)
		if strings.EqualFold(c.Exchange.TokenA, c.Exchange.TokenB) {
			errs = append(errs, "exchange: token_a and token_b must differ")
		}
	}

	// Ledger
	if c.Ledger.Retention.Duration < 0 {
		errs = append(errs, "ledger: retention must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.Stream == "" {
			errs = append(errs, "redis: stream must not be empty")
		}
	}

	// S3 / archive
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled || !c.Postgres.Enabled {
			errs = append(errs, "archive: requires s3.enabled and postgres.enabled")
		}
		if c.Archive.After.Duration <= 0 || c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: after and interval must be > 0")
		}
		if horizon := ledger.Window + c.Ledger.Retention.Duration; c.Archive.After.Duration < horizon {
			errs = append(errs, fmt.Sprintf("archive: after must be >= %s (72h window + ledger.retention), got %s",
				horizon, c.Archive.After.Duration))
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 {
			if !c.Redis.Enabled {
				errs = append(errs, "server: rate_limit requires redis.enabled")
			}
			if c.Server.RateWindow.Duration <= 0 {
				errs = append(errs, "server: rate_window must be > 0")
			}
		}
		if c.Server.APIKey == "" && !c.Server.RequireSignatures && !c.Server.AllowUnauthenticated {
			errs = append(errs, "server: set api_key or require_signatures (allow_unauthenticated permits neither)")
		}
		if c.Server.RequireSignatures {
			if c.Server.ChainID <= 0 {
				errs = append(errs, "server: chain_id must be > 0")
			}
			if c.Server.SignatureMaxSkew.Duration <= 0 {
				errs = append(errs, "server: signature_max_skew must be > 0")
			}
		}
	}

	// Sandbox
	for i, b := range c.Sandbox.Balances {
		addr(fmt.Sprintf("sandbox.balances[%d].account", i), b.Account, true)
		addr(fmt.Sprintf("sandbox.balances[%d].token", i), b.Token, true)
		if _, err := uint256.FromDecimal(b.Amount); err != nil {
			errs = append(errs, fmt.Sprintf("sandbox.balances[%d]: amount %q: %v", i, b.Amount, err))
		}
	}
	for i, a := range c.Sandbox.Assets {
		if _, err := domain.ParseAssetID(a.Asset); err != nil {
			errs = append(errs, fmt.Sprintf("sandbox.assets[%d]: %v", i, err))
		}
		addr(fmt.Sprintf("sandbox.assets[%d].owner", i), a.Owner, true)
	}
	for account, tier := range c.Sandbox.Tiers {
		addr("sandbox.tiers key", account, true)
		if _, err := domain.ParseTier(tier); err != nil {
			errs = append(errs, fmt.Sprintf("sandbox.tiers[%s]: %v", account, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
