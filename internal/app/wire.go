package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/tumodex/perpd/internal/blob/s3"
	"github.com/tumodex/perpd/internal/cache/memory"
	"github.com/tumodex/perpd/internal/cache/redis"
	"github.com/tumodex/perpd/internal/chain"
	"github.com/tumodex/perpd/internal/config"
	"github.com/tumodex/perpd/internal/domain"
	"github.com/tumodex/perpd/internal/notify"
	"github.com/tumodex/perpd/internal/oracle"
	"github.com/tumodex/perpd/internal/store/memstore"
	"github.com/tumodex/perpd/internal/store/postgres"
)

// Dependencies bundles everything the operating modes need. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Stores domain.Stores
	Runner domain.TxRunner

	Source domain.EventSource
	Prices domain.PriceFeed

	PriceCache  domain.PriceCache
	Cooldown    domain.CooldownCache
	Broadcaster domain.Broadcaster

	Notifier *notify.Notifier

	// Archiver is nil unless archiving is enabled in config.
	Archiver *s3blob.Archiver
}

// Wire constructs the concrete dependency implementations for the configured
// mode and returns them with a cleanup function that releases connections in
// reverse order. Mock mode swaps Postgres, Redis, and the chain RPC for
// in-process substitutes so the whole engine runs without infrastructure.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if cfg.Mode == "mock" {
		return wireMock(cfg, logger)
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

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

	deps.Stores = postgres.NewStores(pgClient.Pool())
	deps.Runner = postgres.NewTxRunner(pgClient)

	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Oracle.CacheTTL())
	deps.Cooldown = redis.NewCooldownCache(redisClient, "liq_cooldown")
	deps.Broadcaster = redis.NewBroadcaster(redisClient)

	source, err := buildSource(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Source = source

	deps.Prices = oracle.NewClient(cfg.Oracle.HTTPEndpoint, deps.PriceCache, logger)
	deps.Notifier = buildNotifier(cfg, deps.Broadcaster, logger)

	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         true,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Stores,
			cfg.Archive.BatchSize,
			logger,
		)
	}

	return deps, cleanup, nil
}

// wireMock builds an all-in-memory dependency set: memstore, local caches, a
// log-only broadcaster, and a scripted event source.
func wireMock(cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	store := memstore.New()
	priceCache := memory.NewPriceCache(cfg.Oracle.CacheTTL())
	broadcaster := memory.NewLogBroadcaster(logger)

	deps := &Dependencies{
		Stores:      store.Stores(),
		Runner:      store,
		Source:      chain.NewMockSource(),
		Prices:      oracle.NewClient(cfg.Oracle.HTTPEndpoint, priceCache, logger),
		PriceCache:  priceCache,
		Cooldown:    memory.NewCooldownCache(),
		Broadcaster: broadcaster,
		Notifier:    buildNotifier(cfg, broadcaster, logger),
	}
	return deps, func() {}, nil
}

func buildSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.EventSource, error) {
	switch cfg.Chain.Backend {
	case "onechain":
		return chain.NewOnechainSource(cfg.Chain.RPCURL, cfg.Chain.PackageID, logger), nil
	case "evm":
		src, err := chain.NewEVMSource(ctx, cfg.Chain.RPCURL, cfg.Chain.ContractAddress, logger)
		if err != nil {
			return nil, fmt.Errorf("wire: evm source: %w", err)
		}
		return src, nil
	case "mock":
		return chain.NewMockSource(), nil
	default:
		return nil, fmt.Errorf("wire: unsupported chain backend %q", cfg.Chain.Backend)
	}
}

func buildNotifier(cfg *config.Config, broadcaster domain.Broadcaster, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	return notify.NewNotifier(senders, broadcaster, cfg.Notify.Events, logger)
}
