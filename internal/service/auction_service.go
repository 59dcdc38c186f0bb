package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/factory"
	"github.com/alanyoungcy/auctionhouse/internal/ledger"
)

const (
	// txLockKey serializes transactions across replicas.
	txLockKey = "auctionhouse:tx"

	lockRetryInterval = 20 * time.Millisecond
)

// EventNotifier forwards committed events to operators.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// ArchiveReader reads back archived event logs.
type ArchiveReader interface {
	ReadArchive(ctx context.Context, addr common.Address) ([]domain.Event, error)
}

// AuctionConfig holds the service parameters.
type AuctionConfig struct {
	FactoryAddress common.Address
	FaucetEnabled  bool
	FaucetAmount   *big.Int
	LockTTL        time.Duration
}

// AuctionService executes auction transactions. Every mutating call runs
// as one serialized transaction: the contract operation, then persistence
// of the touched auctions, balances and events, then cache refresh and
// event fan-out.
type AuctionService struct {
	mu      sync.Mutex
	factory *factory.Factory
	ledger  *ledger.Ledger
	clock   domain.Clock
	pending []domain.Event

	auctions domain.AuctionStore
	events   domain.EventStore
	accounts domain.AccountStore

	cache    domain.AuctionCache
	bus      domain.SignalBus
	locks    domain.LockManager
	notifier EventNotifier
	archive  ArchiveReader

	cfg    AuctionConfig
	logger *slog.Logger
}

// NewAuctionService creates an AuctionService with an empty factory. Call
// Restore before serving to load persisted state.
func NewAuctionService(
	cfg AuctionConfig,
	clock domain.Clock,
	l *ledger.Ledger,
	auctions domain.AuctionStore,
	events domain.EventStore,
	accounts domain.AccountStore,
	logger *slog.Logger,
) (*AuctionService, error) {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	s := &AuctionService{
		ledger:   l,
		clock:    clock,
		auctions: auctions,
		events:   events,
		accounts: accounts,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "auction_service")),
	}
	f, err := factory.New(factory.Config{
		Address: cfg.FactoryAddress,
		Clock:   clock,
		Vault:   l,
		Emit:    s.collect,
	})
	if err != nil {
		return nil, fmt.Errorf("auction_service: %w", err)
	}
	s.factory = f
	return s, nil
}

// WithCache attaches a snapshot cache refreshed on every commit and used
// by the read path.
func (s *AuctionService) WithCache(c domain.AuctionCache) *AuctionService {
	s.cache = c
	return s
}

// WithBus attaches the signal bus that receives committed events.
func (s *AuctionService) WithBus(b domain.SignalBus) *AuctionService {
	s.bus = b
	return s
}

// WithLocks makes transactions also hold a distributed lock. It switches
// the service into shared mode: other processes commit to the same stores,
// so every transaction and read first reloads balances and auctions from
// them instead of trusting local state.
func (s *AuctionService) WithLocks(l domain.LockManager) *AuctionService {
	s.locks = l
	return s
}

// WithNotifier attaches an operator notifier.
func (s *AuctionService) WithNotifier(n EventNotifier) *AuctionService {
	s.notifier = n
	return s
}

// WithArchive lets Events fall back to archived logs.
func (s *AuctionService) WithArchive(a ArchiveReader) *AuctionService {
	s.archive = a
	return s
}

// FactoryAddress returns the address of the registry contract.
func (s *AuctionService) FactoryAddress() common.Address {
	return s.cfg.FactoryAddress
}

// Now returns the service clock time.
func (s *AuctionService) Now() time.Time {
	return s.clock.Now()
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// CreateAuction deploys a new auction owned by caller.
func (s *AuctionService) CreateAuction(ctx context.Context, caller common.Address, item string, durationSeconds int64) (common.Address, error) {
	var addr common.Address
	err := s.transact(ctx, "create_auction", func() error {
		var err error
		addr, err = s.factory.CreateAuction(caller, item, durationSeconds)
		return err
	})
	if err != nil {
		return common.Address{}, err
	}
	s.logger.InfoContext(ctx, "auction created",
		slog.String("auction", addr.Hex()),
		slog.String("owner", caller.Hex()),
		slog.String("item", item),
		slog.Int64("duration_seconds", durationSeconds),
	)
	return addr, nil
}

// Bid places a bid on an auction.
func (s *AuctionService) Bid(ctx context.Context, auctionAddr, caller common.Address, amount *big.Int) error {
	return s.onHouse(ctx, "bid", auctionAddr, func(h *auction.House) error {
		return h.Bid(caller, amount)
	})
}

// EndAuction closes bidding on an auction. Anyone may call it.
func (s *AuctionService) EndAuction(ctx context.Context, auctionAddr, caller common.Address) error {
	err := s.onHouse(ctx, "end_auction", auctionAddr, func(h *auction.House) error {
		return h.EndAuction()
	})
	if err == nil {
		s.logger.InfoContext(ctx, "auction ended",
			slog.String("auction", auctionAddr.Hex()),
			slog.String("caller", caller.Hex()),
		)
	}
	return err
}

// Withdraw pays caller's pending returns.
func (s *AuctionService) Withdraw(ctx context.Context, auctionAddr, caller common.Address) error {
	return s.onHouse(ctx, "withdraw", auctionAddr, func(h *auction.House) error {
		return h.Withdraw(caller)
	})
}

// OwnerWithdraw pays the winning bid to the auction owner.
func (s *AuctionService) OwnerWithdraw(ctx context.Context, auctionAddr, caller common.Address) error {
	return s.onHouse(ctx, "owner_withdraw", auctionAddr, func(h *auction.House) error {
		return h.OwnerWithdraw(caller)
	})
}

// Faucet mints the configured faucet amount to addr.
func (s *AuctionService) Faucet(ctx context.Context, addr common.Address) (*big.Int, error) {
	if !s.cfg.FaucetEnabled || s.cfg.FaucetAmount == nil {
		return nil, domain.ErrFaucetClosed
	}
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("auction_service: faucet to zero address: %w", domain.ErrUnauthorized)
	}
	err := s.transact(ctx, "faucet", func() error {
		return s.ledger.Mint(addr, s.cfg.FaucetAmount)
	})
	if err != nil {
		return nil, err
	}
	return s.ledger.Balance(addr), nil
}

// EndExpired ends every auction whose deadline has passed and returns
// their addresses. Failures on one auction do not stop the others.
func (s *AuctionService) EndExpired(ctx context.Context, caller common.Address) ([]common.Address, error) {
	s.readLocked(ctx)
	expired := s.factory.Expired(s.clock.Now())
	s.mu.Unlock()

	var (
		ended []common.Address
		errs  []error
	)
	for _, h := range expired {
		err := s.EndAuction(ctx, h.Address(), caller)
		switch {
		case err == nil:
			ended = append(ended, h.Address())
		case errors.Is(err, domain.ErrAuctionAlreadyFinalized):
			// Ended by another caller after the scan.
		default:
			errs = append(errs, fmt.Errorf("%s: %w", h.Address().Hex(), err))
		}
	}
	if len(errs) > 0 {
		return ended, fmt.Errorf("auction_service: end expired: %w", errors.Join(errs...))
	}
	return ended, nil
}

func (s *AuctionService) onHouse(ctx context.Context, op string, addr common.Address, fn func(*auction.House) error) error {
	return s.transact(ctx, op, func() error {
		h, err := s.factory.Lookup(addr)
		if err != nil {
			return err
		}
		return fn(h)
	})
}

// transact runs fn as one serialized transaction and commits whatever it
// emitted. Events emitted by re-entrant calls are committed even when the
// outer call fails, since their state changes stand.
func (s *AuctionService) transact(ctx context.Context, op string, fn func() error) error {
	emitted, err := s.transactLocked(ctx, op, fn)
	// Operator notifications involve network calls and run after the lock
	// is released.
	if s.notifier != nil {
		for _, ev := range emitted {
			if nerr := s.notifier.NotifyEvent(ctx, ev); nerr != nil {
				s.logger.WarnContext(ctx, "auction_service: notify failed",
					slog.String("kind", string(ev.Kind)),
					slog.String("error", nerr.Error()),
				)
			}
		}
	}
	return err
}

func (s *AuctionService) transactLocked(ctx context.Context, op string, fn func() error) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locks != nil {
		unlock, err := s.acquireTxLock(ctx)
		if err != nil {
			return nil, fmt.Errorf("auction_service: %s: %w", op, err)
		}
		defer unlock()
		if err := s.reloadLocked(ctx); err != nil {
			return nil, fmt.Errorf("auction_service: %s: %w", op, err)
		}
	}

	s.pending = s.pending[:0]
	opErr := fn()
	emitted := append([]domain.Event(nil), s.pending...)
	s.pending = s.pending[:0]

	// A rejected call without events changed nothing.
	if opErr == nil || len(emitted) > 0 {
		s.commit(ctx, op, emitted)
	}
	if opErr != nil {
		s.logger.DebugContext(ctx, "auction_service: transaction rejected",
			slog.String("op", op),
			slog.String("error", opErr.Error()),
		)
		return emitted, opErr
	}
	return emitted, nil
}

func (s *AuctionService) acquireTxLock(ctx context.Context) (func(), error) {
	for {
		unlock, err := s.locks.Acquire(ctx, txLockKey, s.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", domain.ErrLockHeld, ctx.Err())
		case <-timer.C:
		}
	}
}

// reloadLocked replaces the ledger and the registry with what the stores
// hold. Callers hold s.mu.
func (s *AuctionService) reloadLocked(ctx context.Context) error {
	balances, err := s.accounts.LoadBalances(ctx)
	if err != nil {
		return fmt.Errorf("reload balances: %w", err)
	}
	snaps, err := s.auctions.ListOrdered(ctx)
	if err != nil {
		return fmt.Errorf("reload auctions: %w", err)
	}
	if err := s.ledger.Restore(balances); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := s.factory.Restore(snaps); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// readLocked takes s.mu for a read. In shared mode local state is
// refreshed first; a failed refresh is logged and the last loaded state
// served. The caller unlocks s.mu.
func (s *AuctionService) readLocked(ctx context.Context) {
	s.mu.Lock()
	if s.locks == nil {
		return
	}
	if err := s.reloadLocked(ctx); err != nil {
		s.logger.WarnContext(ctx, "auction_service: refresh failed",
			slog.String("error", err.Error()),
		)
	}
}

// collect is the event sink handed to the factory and every House.
func (s *AuctionService) collect(ev domain.Event) {
	s.pending = append(s.pending, ev)
}

// commit persists the effects of a transaction. Persistence failures are
// logged rather than returned; the next commit rewrites the touched
// snapshots and the balance table. Without locks in-memory state is
// authoritative. In shared mode the stores are, and a failed write is lost
// at the next reload.
func (s *AuctionService) commit(ctx context.Context, op string, emitted []domain.Event) {
	touched := make([]domain.AuctionSnapshot, 0, 1)
	seen := make(map[common.Address]bool)
	for _, ev := range emitted {
		if ev.Auction == (common.Address{}) || seen[ev.Auction] {
			continue
		}
		seen[ev.Auction] = true
		h, err := s.factory.Lookup(ev.Auction)
		if err != nil {
			continue
		}
		touched = append(touched, h.Snapshot())
	}

	for _, snap := range touched {
		idx, _ := s.factory.IndexOf(snap.Address)
		if err := s.auctions.Save(ctx, idx, snap); err != nil {
			s.logPersistErr(ctx, op, "save auction", err)
		}
	}
	if err := s.accounts.SaveBalances(ctx, s.ledger.Snapshot()); err != nil {
		s.logPersistErr(ctx, op, "save balances", err)
	}
	if len(emitted) > 0 {
		if err := s.events.Append(ctx, emitted); err != nil {
			s.logPersistErr(ctx, op, "append events", err)
		}
	}

	if s.cache != nil {
		for _, snap := range touched {
			if err := s.cache.Set(ctx, snap); err != nil {
				s.logger.WarnContext(ctx, "auction_service: cache refresh failed",
					slog.String("auction", snap.Address.Hex()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if s.bus != nil {
		for _, ev := range emitted {
			s.publish(ctx, ev)
		}
	}
}

func (s *AuctionService) publish(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "auction_service: marshal event", slog.String("error", err.Error()))
		return
	}
	channel := domain.AuctionChannel(ev.Auction)
	if pubErr := s.bus.Publish(ctx, channel, payload); pubErr != nil {
		s.logger.WarnContext(ctx, "auction_service: publish failed",
			slog.String("channel", channel),
			slog.String("error", pubErr.Error()),
		)
	}
	if pubErr := s.bus.StreamAppend(ctx, domain.EventStream, payload); pubErr != nil {
		s.logger.WarnContext(ctx, "auction_service: stream append failed",
			slog.String("stream", domain.EventStream),
			slog.String("error", pubErr.Error()),
		)
	}
}

func (s *AuctionService) logPersistErr(ctx context.Context, op, what string, err error) {
	s.logger.ErrorContext(ctx, "auction_service: persist failed",
		slog.String("op", op),
		slog.String("step", what),
		slog.String("error", err.Error()),
	)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Auction returns the current snapshot of an auction, preferring the cache.
func (s *AuctionService) Auction(ctx context.Context, addr common.Address) (domain.AuctionSnapshot, error) {
	if s.cache != nil {
		snap, err := s.cache.Get(ctx, addr)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "auction_service: cache read failed",
				slog.String("auction", addr.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.readLocked(ctx)
	defer s.mu.Unlock()
	h, err := s.factory.Lookup(addr)
	if err != nil {
		return domain.AuctionSnapshot{}, err
	}
	return h.Snapshot(), nil
}

// GetWinner returns the winner of an ended auction.
func (s *AuctionService) GetWinner(ctx context.Context, addr common.Address) (common.Address, *big.Int, error) {
	s.readLocked(ctx)
	defer s.mu.Unlock()
	h, err := s.factory.Lookup(addr)
	if err != nil {
		return common.Address{}, nil, err
	}
	return h.GetWinner()
}

// PendingReturn returns what account can withdraw from an auction.
func (s *AuctionService) PendingReturn(ctx context.Context, addr, account common.Address) (*big.Int, error) {
	s.readLocked(ctx)
	defer s.mu.Unlock()
	h, err := s.factory.Lookup(addr)
	if err != nil {
		return nil, err
	}
	return h.PendingReturn(account), nil
}

// AuctionCount returns the number of deployed auctions.
func (s *AuctionService) AuctionCount(ctx context.Context) int {
	s.readLocked(ctx)
	defer s.mu.Unlock()
	return s.factory.GetAuctionCount()
}

// AuctionAt returns the auction registered at index.
func (s *AuctionService) AuctionAt(ctx context.Context, index int) (common.Address, error) {
	s.readLocked(ctx)
	defer s.mu.Unlock()
	return s.factory.GetAuction(index)
}

// ListAuctions returns every auction address in creation order.
func (s *AuctionService) ListAuctions(ctx context.Context) []common.Address {
	s.readLocked(ctx)
	defer s.mu.Unlock()
	return s.factory.GetAllAuctions()
}

// Events returns the event log of a contract (an auction or the factory).
// When the store holds nothing and an archive is attached, the archived
// log is returned instead.
func (s *AuctionService) Events(ctx context.Context, contract common.Address, opts domain.ListOpts) ([]domain.Event, error) {
	events, err := s.events.ListByContract(ctx, contract, opts)
	if err != nil {
		return nil, fmt.Errorf("auction_service: events %s: %w", contract.Hex(), err)
	}
	if len(events) > 0 || s.archive == nil {
		return events, nil
	}

	archived, err := s.archive.ReadArchive(ctx, contract)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return events, nil
		}
		return nil, fmt.Errorf("auction_service: events %s: %w", contract.Hex(), err)
	}
	return archived, nil
}

// Balance returns the ledger balance of addr.
func (s *AuctionService) Balance(ctx context.Context, addr common.Address) *big.Int {
	s.readLocked(ctx)
	defer s.mu.Unlock()
	return s.ledger.Balance(addr)
}

// ---------------------------------------------------------------------------
// Startup
// ---------------------------------------------------------------------------

// Restore loads balances and auctions from the stores. When the account
// store is empty, genesis is minted and persisted instead.
func (s *AuctionService) Restore(ctx context.Context, genesis map[common.Address]*big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	balances, err := s.accounts.LoadBalances(ctx)
	if err != nil {
		return fmt.Errorf("auction_service: restore balances: %w", err)
	}
	if len(balances) == 0 {
		for addr, amount := range genesis {
			if err := s.ledger.Mint(addr, amount); err != nil {
				return fmt.Errorf("auction_service: genesis %s: %w", addr.Hex(), err)
			}
		}
		if len(genesis) > 0 {
			if err := s.accounts.SaveBalances(ctx, s.ledger.Snapshot()); err != nil {
				return fmt.Errorf("auction_service: save genesis: %w", err)
			}
		}
	} else if err := s.ledger.Restore(balances); err != nil {
		return fmt.Errorf("auction_service: restore balances: %w", err)
	}

	snaps, err := s.auctions.ListOrdered(ctx)
	if err != nil {
		return fmt.Errorf("auction_service: restore auctions: %w", err)
	}
	if err := s.factory.Restore(snaps); err != nil {
		return fmt.Errorf("auction_service: %w", err)
	}

	s.logger.InfoContext(ctx, "auction_service: restored",
		slog.Int("auctions", len(snaps)),
		slog.Int("accounts", len(balances)),
	)
	return nil
}
