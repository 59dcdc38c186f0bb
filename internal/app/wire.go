package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	s3blob "github.com/alanyoungcy/auctionhouse/internal/blob/s3"
	"github.com/alanyoungcy/auctionhouse/internal/cache/redis"
	"github.com/alanyoungcy/auctionhouse/internal/clock"
	"github.com/alanyoungcy/auctionhouse/internal/config"
	"github.com/alanyoungcy/auctionhouse/internal/crypto"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/ledger"
	"github.com/alanyoungcy/auctionhouse/internal/notify"
	"github.com/alanyoungcy/auctionhouse/internal/service"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
	"github.com/alanyoungcy/auctionhouse/internal/store/postgres"
)

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	AuctionStore domain.AuctionStore
	EventStore   domain.EventStore
	AccountStore domain.AccountStore

	// Redis-backed when redis.enabled; SignalBus falls back to an
	// in-process bus.
	AuctionCache domain.AuctionCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus
	ReplayGuard  *redis.ReplayGuard

	// Blob storage
	Archiver *s3blob.ArchiveImpl

	// Notifications
	Notifier *notify.Notifier

	// Operator is the account that deployed the factory and signs keeper
	// transactions. Nil when no key is configured.
	Operator       *crypto.Signer
	OperatorAddr   common.Address
	FactoryAddress common.Address

	Clock   domain.Clock
	Service *service.AuctionService

	// HealthChecks are the dependency probes served by /api/health.
	HealthChecks map[string]func(context.Context) error
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Clock:        clock.System{},
		HealthChecks: make(map[string]func(context.Context) error),
	}

	// --- Operator key and factory address ---
	if err := wireOperator(cfg.Chain, deps); err != nil {
		return fail(fmt.Errorf("wire: operator: %w", err))
	}

	// --- Stores ---
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres":
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

			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		deps.HealthChecks["postgres"] = pgClient.Ping

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.AuctionStore = postgres.NewAuctionStore(pool)
		deps.EventStore = postgres.NewEventStore(pool)
		deps.AccountStore = postgres.NewAccountStore(pool)
	default:
		logger.WarnContext(ctx, "using in-memory storage; state is lost on restart")
		deps.AuctionStore = memory.NewAuctionStore()
		deps.EventStore = memory.NewEventStore()
		deps.AccountStore = memory.NewAccountStore()
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
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.HealthChecks["redis"] = redisClient.Ping

		deps.AuctionCache = redis.NewAuctionCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.ReplayGuard = redis.NewReplayGuard(redisClient)
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, cfg.Redis.StreamMaxLen)
	} else {
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- S3 event archive ---
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			// Archives are retried by the keeper; a missing bucket is not fatal.
			logger.WarnContext(ctx, "s3 archive bucket unreachable",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.HealthChecks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.EventStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIBase,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Auction service ---
	svc, err := newAuctionService(ctx, cfg, deps, logger)
	if err != nil {
		return fail(err)
	}
	deps.Service = svc

	return deps, cleanup, nil
}

// wireOperator resolves the operator key. With a key the factory lives at
// the address of the operator's first contract creation; without one the
// configured factory address is used and the keeper acts as the factory.
func wireOperator(chain config.ChainConfig, deps *Dependencies) error {
	if !chain.HasOperatorKey() {
		deps.FactoryAddress = common.HexToAddress(chain.FactoryAddress)
		deps.OperatorAddr = deps.FactoryAddress
		return nil
	}
	signer, err := crypto.LoadSigner(crypto.KeyConfig{
		RawPrivateKey:    chain.PrivateKey,
		EncryptedKeyPath: chain.EncryptedKeyPath,
		KeyPassword:      chain.KeyPassword,
	})
	if err != nil {
		return err
	}
	deps.Operator = signer
	deps.OperatorAddr = signer.Address()
	deps.FactoryAddress = ethcrypto.CreateAddress(signer.Address(), 0)
	return nil
}

func newAuctionService(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*service.AuctionService, error) {
	faucet, _ := new(big.Int).SetString(cfg.Chain.FaucetAmount, 10)
	svc, err := service.NewAuctionService(
		service.AuctionConfig{
			FactoryAddress: deps.FactoryAddress,
			FaucetEnabled:  cfg.Chain.FaucetEnabled,
			FaucetAmount:   faucet,
			LockTTL:        cfg.Redis.LockTTL.Duration,
		},
		deps.Clock,
		ledger.New(),
		deps.AuctionStore,
		deps.EventStore,
		deps.AccountStore,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("wire: auction service: %w", err)
	}

	svc.WithBus(deps.SignalBus).WithNotifier(deps.Notifier)
	if deps.AuctionCache != nil {
		svc.WithCache(deps.AuctionCache)
	}
	if deps.LockManager != nil {
		svc.WithLocks(deps.LockManager)
	}
	if deps.Archiver != nil {
		svc.WithArchive(deps.Archiver)
	}

	genesis, err := parseGenesis(cfg.Chain.Genesis)
	if err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	if err := svc.Restore(ctx, genesis); err != nil {
		return nil, fmt.Errorf("wire: restore state: %w", err)
	}
	return svc, nil
}

// parseGenesis converts the configured allocation into wei balances.
func parseGenesis(raw map[string]string) (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int, len(raw))
	for addr, amount := range raw {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("genesis address %q is not a hex address", addr)
		}
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("genesis amount for %s: invalid value %q", addr, amount)
		}
		out[common.HexToAddress(addr)] = v
	}
	return out, nil
}
