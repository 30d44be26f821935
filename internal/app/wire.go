package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "tpguard/internal/blob/s3"
	"tpguard/internal/cache/redis"
	"tpguard/internal/config"
	"tpguard/internal/domain"
	"tpguard/internal/notify"
	"tpguard/internal/platform/bybit"
	"tpguard/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the operating modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// One gateway per configured account.
	Gateways map[domain.Account]domain.ExchangeGateway

	// Stores
	MonitorStore domain.MonitorStore
	EventStore   domain.EventStore
	ClosedStore  domain.ClosedPositionStore
	LockManager  domain.LockManager

	// Blob storage, nil unless the archiver is enabled.
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Exchange gateways ---
	opts := bybit.Options{
		BaseURL:    cfg.Exchange.BaseURL,
		RecvWindow: cfg.Exchange.RecvWindow,
		Category:   cfg.Exchange.Category,
		SettleCoin: cfg.Exchange.SettleCoin,
	}
	deps.Gateways = map[domain.Account]domain.ExchangeGateway{
		domain.AccountMain: bybit.NewClient(cfg.Exchange.Main.ApiKey, cfg.Exchange.Main.ApiSecret, opts, logger),
	}
	if cfg.Exchange.MirrorEnabled {
		deps.Gateways[domain.AccountMirror] = bybit.NewClient(
			cfg.Exchange.Mirror.ApiKey, cfg.Exchange.Mirror.ApiSecret, opts, logger,
		)
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
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

	eventStore := postgres.NewEventStore(pgClient.Pool())
	closedStore := postgres.NewClosedPositionStore(pgClient.Pool())
	deps.EventStore = eventStore
	deps.ClosedStore = closedStore

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.MonitorStore = redis.NewSnapshotStore(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- S3 archiver (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), eventStore, closedStore)
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

	return deps, cleanup, nil
}
