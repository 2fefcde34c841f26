package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/tradevenue/internal/blob/s3"
	"github.com/alanyoungcy/tradevenue/internal/cache/redis"
	"github.com/alanyoungcy/tradevenue/internal/config"
	"github.com/alanyoungcy/tradevenue/internal/domain"
	"github.com/alanyoungcy/tradevenue/internal/events"
	"github.com/alanyoungcy/tradevenue/internal/notify"
	"github.com/alanyoungcy/tradevenue/internal/observability"
	"github.com/alanyoungcy/tradevenue/internal/queue"
	"github.com/alanyoungcy/tradevenue/internal/server/handler"
	"github.com/alanyoungcy/tradevenue/internal/store/postgres"
)

// Dependencies bundles the infrastructure the venue runs on. Optional
// backends that are disabled in config stay nil.
type Dependencies struct {
	Metrics *observability.Metrics

	// Postgres
	Journal *postgres.TradeJournal
	Audit   domain.AuditStore

	// Redis
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	Nonces      domain.NonceStore
	SignalBus   domain.SignalBus

	// Object storage
	Archiver *s3blob.ArchiveImpl

	// Publishers receives every committed event.
	Publishers events.Fanout

	// Checks back the readiness endpoint.
	Checks map[string]handler.Check
}

// Wire constructs the enabled backends from cfg and returns them together
// with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Metrics: observability.NewMetrics("venue"),
		Checks:  make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.Journal = postgres.NewTradeJournal(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Publishers = append(deps.Publishers, postgres.NewAuditPublisher(deps.Audit))
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Nonces = redis.NewNonceStore(redisClient)
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, cfg.Redis.StreamMaxLen)
		deps.Publishers = append(deps.Publishers,
			redis.NewEventPublisher(deps.SignalBus, cfg.Redis.ChannelPrefix, cfg.Redis.Stream))
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		bucket, err := s3blob.Open(ctx, s3blob.BucketConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Create:         cfg.S3.CreateBucket,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Checks["s3"] = bucket.Health

		if cfg.Archive.Enabled && deps.Journal != nil {
			deps.Archiver = s3blob.NewArchiver(s3blob.ArchiverConfig{
				Writer:  bucket,
				Reader:  bucket,
				Trades:  deps.Journal,
				Audit:   deps.Audit,
				Metrics: deps.Metrics,
				Logger:  logger,
				Prefix:  cfg.Archive.Prefix,
			})
		}
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled {
		producer := queue.NewKafkaProducer(queue.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout.Duration,
			RequiredAcks: cfg.Kafka.RequiredAcks,
		})
		closers = append(closers, func() { _ = producer.Close() })
		deps.Publishers = append(deps.Publishers, producer)
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
	if len(senders) > 0 {
		deps.Publishers = append(deps.Publishers, notify.NewNotifier(senders, cfg.Notify.Events, logger))
	}

	return deps, cleanup, nil
}
