package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/domalend/liquidator/internal/blob/s3"
	"github.com/domalend/liquidator/internal/cache/redis"
	"github.com/domalend/liquidator/internal/chain"
	"github.com/domalend/liquidator/internal/config"
	"github.com/domalend/liquidator/internal/crypto"
	"github.com/domalend/liquidator/internal/domain"
	"github.com/domalend/liquidator/internal/notify"
	"github.com/domalend/liquidator/internal/platform/ponder"
	"github.com/domalend/liquidator/internal/store/postgres"
	"github.com/ethereum/go-ethereum/common"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	TrackingStore domain.LoanTrackingStore
	AuditStore    domain.AuditStore

	// Redis-backed coordination
	ChainStatusCache domain.ChainStatusCache
	RateLimiter      domain.RateLimiter
	LockManager      domain.LockManager
	SignalBus        domain.SignalBus

	// Ledger access; nil in ingest mode.
	Gateway domain.LedgerGateway

	// Indexer access; nil when no GraphQL endpoint is configured.
	Ponder *ponder.Client

	// Blob storage; nil unless archival is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsChain reports whether the mode talks to the ledger. Pure ingestion
// only reads the indexer and the database.
func needsChain(mode string) bool {
	return mode != "ingest"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// releases resources in reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

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

	pool := pgClient.Pool()
	deps.TrackingStore = postgres.NewLoanTrackingStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
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

	deps.ChainStatusCache = redis.NewChainStatusCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Ledger gateway ---
	if needsChain(mode) {
		privateKey, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}

		chainClient, err := chain.New(ctx, chain.ClientConfig{
			RPCURL:      cfg.Chain.RPCURL,
			ChainID:     cfg.Chain.ChainID,
			CallTimeout: cfg.Chain.CallTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain client: %w", err)
		}
		closers = append(closers, chainClient.Close)

		contract, err := chain.NewLoanManager(
			common.HexToAddress(cfg.Chain.LoanManagerAddress),
			chainClient.Backend(),
		)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: loan manager binding: %w", err)
		}

		gateway, err := chain.NewGateway(chainClient, contract, privateKey, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: ledger gateway: %w", err)
		}
		deps.Gateway = gateway
	}

	// --- Ponder indexer ---
	if cfg.Ponder.GraphQLURL != "" {
		deps.Ponder = ponder.NewClient(cfg.Ponder.GraphQLURL, cfg.Ponder.APIKey)
	}

	// --- S3 blob storage (cold-storage archive) ---
	if cfg.Archive.Enabled {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.BlobReader,
			deps.TrackingStore,
			deps.AuditStore,
			deps.AuditStore,
		)
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
