package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionhouse/internal/clock"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/ledger"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

var (
	factoryAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	seller      = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	bidder1     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bidder2     = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    [][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeCache struct {
	mu    sync.Mutex
	snaps map[common.Address]domain.AuctionSnapshot
	gets  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{snaps: make(map[common.Address]domain.AuctionSnapshot)}
}

func (c *fakeCache) Set(_ context.Context, snap domain.AuctionSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.Address] = snap
	return nil
}

func (c *fakeCache) Get(_ context.Context, addr common.Address) (domain.AuctionSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	snap, ok := c.snaps[addr]
	if !ok {
		return domain.AuctionSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (c *fakeCache) Invalidate(_ context.Context, addr common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, addr)
	return nil
}

type recordingNotifier struct {
	kinds []domain.EventKind
}

func (n *recordingNotifier) NotifyEvent(_ context.Context, ev domain.Event) error {
	n.kinds = append(n.kinds, ev.Kind)
	return nil
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type countingLocks struct {
	acquired, released int
}

func (l *countingLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.acquired++
	return func() { l.released++ }, nil
}

// mutexLocks is a process-local stand-in for the redis lock shared by
// replicas.
type mutexLocks struct {
	mu sync.Mutex
}

func (l *mutexLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.mu.Lock()
	return l.mu.Unlock, nil
}

type fixture struct {
	svc      *AuctionService
	clock    *clock.Manual
	ledger   *ledger.Ledger
	auctions *memory.AuctionStore
	events   *memory.EventStore
	accounts *memory.AccountStore
}

func newFixture(t *testing.T, cfg AuctionConfig) *fixture {
	t.Helper()
	f := &fixture{
		clock:    clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		ledger:   ledger.New(),
		auctions: memory.NewAuctionStore(),
		events:   memory.NewEventStore(),
		accounts: memory.NewAccountStore(),
	}
	cfg.FactoryAddress = factoryAddr
	svc, err := NewAuctionService(cfg, f.clock, f.ledger, f.auctions, f.events, f.accounts, discardLogger())
	require.NoError(t, err)
	f.svc = svc

	genesis := map[common.Address]*big.Int{
		seller:  ether(100),
		bidder1: ether(100),
		bidder2: ether(100),
	}
	require.NoError(t, svc.Restore(context.Background(), genesis))
	return f
}

// reopen builds a second service over the same stores, as a restarted
// process would.
func (f *fixture) reopen(t *testing.T) *AuctionService {
	t.Helper()
	svc, err := NewAuctionService(
		AuctionConfig{FactoryAddress: factoryAddr},
		f.clock, ledger.New(), f.auctions, f.events, f.accounts, discardLogger(),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Restore(context.Background(), nil))
	return svc
}

func kinds(events []domain.Event) []domain.EventKind {
	out := make([]domain.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestFullAuctionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuctionConfig{})
	bus := newFakeBus()
	cache := newFakeCache()
	notifier := &recordingNotifier{}
	f.svc.WithBus(bus).WithCache(cache).WithNotifier(notifier)

	addr, err := f.svc.CreateAuction(ctx, seller, "Test Item", 3600)
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress(factoryAddr, 1), addr)

	require.NoError(t, f.svc.Bid(ctx, addr, bidder1, ether(1)))
	require.NoError(t, f.svc.Bid(ctx, addr, bidder2, ether(2)))

	f.clock.Advance(3601 * time.Second)
	require.NoError(t, f.svc.EndAuction(ctx, addr, bidder1))

	winner, bid, err := f.svc.GetWinner(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, bidder2, winner)
	assert.Equal(t, 0, bid.Cmp(ether(2)))

	require.NoError(t, f.svc.Withdraw(ctx, addr, bidder1))
	require.NoError(t, f.svc.OwnerWithdraw(ctx, addr, seller))

	assert.Equal(t, 0, f.svc.Balance(ctx, bidder1).Cmp(ether(100)))
	assert.Equal(t, 0, f.svc.Balance(ctx, bidder2).Cmp(ether(98)))
	assert.Equal(t, 0, f.svc.Balance(ctx, seller).Cmp(ether(102)))
	assert.Equal(t, 0, f.svc.Balance(ctx, addr).Sign())

	auctionEvents, err := f.svc.Events(ctx, addr, domain.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, []domain.EventKind{
		domain.EventBidPlaced, domain.EventBiggestBid,
		domain.EventRefunded, domain.EventBidPlaced, domain.EventBiggestBid,
		domain.EventAuctionEnded,
		domain.EventFundsWithdrawn, domain.EventFundsWithdrawn,
	}, kinds(auctionEvents))

	factoryEvents, err := f.svc.Events(ctx, factoryAddr, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, factoryEvents, 1)
	assert.Equal(t, domain.EventAuctionCreated, factoryEvents[0].Kind)

	// Every committed event is fanned out once per channel and once on the stream.
	assert.Len(t, bus.stream, 9)
	assert.Len(t, bus.published[domain.AuctionChannel(addr)], 9)

	var first domain.Event
	require.NoError(t, json.Unmarshal(bus.stream[0], &first))
	assert.Equal(t, domain.EventAuctionCreated, first.Kind)

	cached, ok := cache.snaps[addr]
	require.True(t, ok)
	assert.True(t, cached.Ended)
	assert.True(t, cached.OwnerClaimed)

	assert.Len(t, notifier.kinds, 9)

	stored, err := f.accounts.LoadBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stored[seller].Cmp(ether(102)))
}

func TestRejectedTransactionCommitsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuctionConfig{})
	bus := newFakeBus()
	f.svc.WithBus(bus)

	addr, err := f.svc.CreateAuction(ctx, seller, "Test Item", 3600)
	require.NoError(t, err)
	require.NoError(t, f.svc.Bid(ctx, addr, bidder1, ether(2)))
	published := len(bus.stream)

	err = f.svc.Bid(ctx, addr, bidder2, ether(1))
	require.ErrorIs(t, err, domain.ErrBidNotHighEnough)

	assert.Len(t, bus.stream, published)
	events, err := f.svc.Events(ctx, addr, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, 0, f.svc.Balance(ctx, bidder2).Cmp(ether(100)))
}

func TestUnknownAuction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuctionConfig{})
	unknown := common.HexToAddress("0x000000000000000000000000000000000000dEaD")

	assert.ErrorIs(t, f.svc.Bid(ctx, unknown, bidder1, ether(1)), domain.ErrNotFound)
	_, err := f.svc.Auction(ctx, unknown)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = f.svc.GetWinner(ctx, unknown)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistryReads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuctionConfig{})

	a1, err := f.svc.CreateAuction(ctx, seller, "first", 60)
	require.NoError(t, err)
	a2, err := f.svc.CreateAuction(ctx, bidder1, "second", 60)
	require.NoError(t, err)

	assert.Equal(t, 2, f.svc.AuctionCount(ctx))
	assert.Equal(t, []common.Address{a1, a2}, f.svc.ListAuctions(ctx))
	got, err := f.svc.AuctionAt(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, a2, got)
	_, err = f.svc.AuctionAt(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidIndex)

	_, err = f.svc.CreateAuction(ctx, seller, "bad", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidBiddingTime)
	assert.Equal(t, 2, f.svc.AuctionCount(ctx))
}

func TestRestoreFromStores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuctionConfig{})

	addr, err := f.svc.CreateAuction(ctx, seller, "Test Item", 3600)
	require.NoError(t, err)
	require.NoError(t, f.svc.Bid(ctx, addr, bidder1, ether(1)))
	require.NoError(t, f.svc.Bid(ctx, addr, bidder2, ether(3)))

	restarted := f.reopen(t)

	assert.Equal(t, 1, restarted.AuctionCount(ctx))
	snap, err := restarted.Auction(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, bidder2, snap.HighestBidder)
	assert.Equal(t, 0, snap.HighestBid.Cmp(ether(3)))
	assert.Equal(t, uint64(5), snap.Seq)

	pending, err := restarted.PendingReturn(ctx, addr, bidder1)
	require.NoError(t, err)
	assert.Equal(t, 0, pending.Cmp(ether(1)))
	assert.Equal(t, 0, restarted.Balance(ctx, bidder2).Cmp(ether(97)))
	assert.Equal(t, 0, restarted.Balance(ctx, addr).Cmp(ether(4)))

	// Genesis is ignored once balances exist, and the nonce carries on.
	next, err := restarted.CreateAuction(ctx, bidder1, "Another", 60)
	require.NoError(t, err)
	assert.Equal(t, crypto.CreateAddress(factoryAddr, 2), next)

	require.NoError(t, restarted.Withdraw(ctx, addr, bidder1))
	events, err := restarted.Events(ctx, addr, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, events, 6)
	assert.Equal(t, uint64(6), events[5].Seq)
}

func TestFaucet(t *testing.T) {
	ctx := context.Background()

	closed := newFixture(t, AuctionConfig{})
	_, err := closed.svc.Faucet(ctx, bidder1)
	assert.ErrorIs(t, err, domain.ErrFaucetClosed)

	f := newFixture(t, AuctionConfig{FaucetEnabled: true, FaucetAmount: ether(1)})
	fresh := common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")

	bal, err := f.svc.Faucet(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Cmp(ether(1)))

	stored, err := f.accounts.LoadBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stored[fresh].Cmp(ether(1)))

	_, err = f.svc.Faucet(ctx, common.Address{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestEndExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuctionConfig{})

	short, err := f.svc.CreateAuction(ctx, seller, "short", 60)
	require.NoError(t, err)
	long, err := f.svc.CreateAuction(ctx, seller, "long", 3600)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	ended, err := f.svc.EndExpired(ctx, factoryAddr)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{short}, ended)

	snap, err := f.svc.Auction(ctx, long)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStateActive, snap.StateAt(f.svc.Now()))

	ended, err = f.svc.EndExpired(ctx, factoryAddr)
	require.NoError(t, err)
	assert.Empty(t, ended)
}

func TestAuctionReadPrefersCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuctionConfig{})
	cache := newFakeCache()
	f.svc.WithCache(cache)

	addr, err := f.svc.CreateAuction(ctx, seller, "Test Item", 3600)
	require.NoError(t, err)

	stale := cache.snaps[addr]
	stale.Item = "from cache"
	cache.snaps[addr] = stale

	snap, err := f.svc.Auction(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, "from cache", snap.Item)

	require.NoError(t, cache.Invalidate(ctx, addr))
	snap, err = f.svc.Auction(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, "Test Item", snap.Item)
	assert.Equal(t, 2, cache.gets)
}

func TestTransactionsTakeDistributedLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuctionConfig{})
	locks := &countingLocks{}
	f.svc.WithLocks(locks)

	addr, err := f.svc.CreateAuction(ctx, seller, "Test Item", 3600)
	require.NoError(t, err)
	_ = f.svc.Bid(ctx, addr, bidder1, big.NewInt(0))

	assert.Equal(t, 2, locks.acquired)
	assert.Equal(t, 2, locks.released)
}

func TestSharedStoresSeeOtherProcessCommits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuctionConfig{})
	locks := &mutexLocks{}
	server := f.svc.WithLocks(locks)
	keeper := f.reopen(t).WithLocks(locks)

	first, err := server.CreateAuction(ctx, seller, "first", 60)
	require.NoError(t, err)
	require.NoError(t, server.Bid(ctx, first, bidder1, ether(1)))

	f.clock.Advance(2 * time.Minute)
	ended, err := keeper.EndExpired(ctx, factoryAddr)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{first}, ended)

	assert.ErrorIs(t, server.EndAuction(ctx, first, bidder2), domain.ErrAuctionAlreadyFinalized)
	winner, bid, err := server.GetWinner(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, bidder1, winner)
	assert.Equal(t, 0, bid.Cmp(ether(1)))

	second, err := server.CreateAuction(ctx, seller, "second", 60)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, keeper.AuctionCount(ctx))

	f.clock.Advance(2 * time.Minute)
	ended, err = keeper.EndExpired(ctx, factoryAddr)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{second}, ended)

	require.NoError(t, server.OwnerWithdraw(ctx, first, seller))
	assert.ErrorIs(t, keeper.OwnerWithdraw(ctx, first, seller), domain.ErrNoFundsToWithdraw)
	assert.Equal(t, 0, keeper.Balance(ctx, seller).Cmp(ether(101)))

	events, err := f.events.ListByContract(ctx, first, domain.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, []domain.EventKind{
		domain.EventBidPlaced, domain.EventBiggestBid,
		domain.EventAuctionEnded, domain.EventFundsWithdrawn,
	}, kinds(events))
}

func TestHeldLockTimesOut(t *testing.T) {
	f := newFixture(t, AuctionConfig{})
	f.svc.WithLocks(heldLocks{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.svc.CreateAuction(ctx, seller, "Test Item", 3600)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, f.svc.AuctionCount(context.Background()))
}

type stubArchive struct {
	events map[common.Address][]domain.Event
}

func (a stubArchive) ReadArchive(_ context.Context, addr common.Address) ([]domain.Event, error) {
	evs, ok := a.events[addr]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return evs, nil
}

func TestEventsFallBackToArchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, AuctionConfig{})
	archivedAddr := common.HexToAddress("0x000000000000000000000000000000000000a7c1")
	f.svc.WithArchive(stubArchive{events: map[common.Address][]domain.Event{
		archivedAddr: {domain.NewEvent(archivedAddr, 1, domain.EventAuctionEnded, f.clock.Now())},
	}})

	events, err := f.svc.Events(ctx, archivedAddr, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventAuctionEnded, events[0].Kind)

	events, err = f.svc.Events(ctx, bidder1, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, events)
}
