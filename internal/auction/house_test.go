package auction

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionhouse/internal/clock"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/ledger"
)

var (
	houseAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	owner     = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	bidder1   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bidder2   = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type fixture struct {
	house  *House
	clock  *clock.Manual
	ledger *ledger.Ledger
	events []domain.Event
}

func (f *fixture) kinds() []domain.EventKind {
	out := make([]domain.EventKind, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Kind)
	}
	return out
}

func (f *fixture) custodyHolds(t *testing.T) {
	t.Helper()
	snap := f.house.Snapshot()
	assert.Equal(t, 0, snap.Custody().Cmp(f.ledger.Balance(houseAddr)),
		"custody %s != balance %s", snap.Custody(), f.ledger.Balance(houseAddr))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		ledger: ledger.New(),
	}
	for _, a := range []common.Address{owner, bidder1, bidder2} {
		require.NoError(t, f.ledger.Mint(a, ether(100)))
	}
	h, err := New(Config{
		Address:        houseAddr,
		Owner:          owner,
		Item:           "Test Item",
		BiddingSeconds: 3600,
		Clock:          f.clock,
		Vault:          f.ledger,
		Emit:           func(e domain.Event) { f.events = append(f.events, e) },
	})
	require.NoError(t, err)
	f.house = h
	return f
}

func (f *fixture) endAfterDeadline(t *testing.T) {
	t.Helper()
	f.clock.Advance(3601 * time.Second)
	require.NoError(t, f.house.EndAuction())
}

func TestNew(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "Test Item", f.house.Item())
	assert.Equal(t, f.clock.Now().Add(time.Hour), f.house.AuctionEndTime())
	assert.Equal(t, 0, f.house.HighestBid().Sign())
	assert.Equal(t, common.Address{}, f.house.HighestBidder())
	assert.False(t, f.house.Ended())
	assert.Equal(t, owner, f.house.Owner())
	assert.Equal(t, domain.AuctionStateActive, f.house.State(f.clock.Now()))
}

func TestNewRejectsInvalidParameters(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	l := ledger.New()

	_, err := New(Config{Item: "Invalid Item", BiddingSeconds: 0, Clock: c, Vault: l})
	assert.ErrorIs(t, err, domain.ErrInvalidBiddingTime)

	_, err = New(Config{Item: "Invalid Item", BiddingSeconds: -10, Clock: c, Vault: l})
	assert.ErrorIs(t, err, domain.ErrInvalidBiddingTime)

	_, err = New(Config{Item: "", BiddingSeconds: 60, Clock: c, Vault: l})
	assert.ErrorIs(t, err, domain.ErrEmptyItem)
}

func TestBidEmitsPlacedAndBiggest(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.house.Bid(bidder1, ether(1)))

	require.Len(t, f.events, 2)
	assert.Equal(t, domain.EventBidPlaced, f.events[0].Kind)
	assert.Equal(t, bidder1, f.events[0].Account)
	assert.Equal(t, ether(1), f.events[0].Amount)
	assert.Equal(t, domain.EventBiggestBid, f.events[1].Kind)
	assert.Equal(t, ether(1), f.events[1].Amount)
	assert.Equal(t, uint64(1), f.events[0].Seq)
	assert.Equal(t, uint64(2), f.events[1].Seq)

	assert.Equal(t, ether(1), f.house.HighestBid())
	assert.Equal(t, bidder1, f.house.HighestBidder())
	assert.Equal(t, ether(99), f.ledger.Balance(bidder1))
	f.custodyHolds(t)
}

func TestOutbidCreditsPreviousBidder(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	require.NoError(t, f.house.Bid(bidder2, ether(2)))

	assert.Equal(t, ether(1), f.house.PendingReturn(bidder1))
	assert.Equal(t, 0, f.house.PendingReturn(bidder2).Sign())
	assert.Equal(t, []domain.EventKind{
		domain.EventBidPlaced, domain.EventBiggestBid,
		domain.EventRefunded, domain.EventBidPlaced, domain.EventBiggestBid,
	}, f.kinds())
	assert.Equal(t, bidder1, f.events[2].Account)
	assert.Equal(t, ether(1), f.events[2].Amount)
	f.custodyHolds(t)
}

func TestSelfRebidCreditsOwnStake(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	f.events = nil
	require.NoError(t, f.house.Bid(bidder1, ether(2)))

	require.Len(t, f.events, 3)
	assert.Equal(t, domain.EventRefunded, f.events[0].Kind)
	assert.Equal(t, bidder1, f.events[0].Account)
	assert.Equal(t, ether(1), f.events[0].Amount)

	assert.Equal(t, ether(2), f.house.HighestBid())
	assert.Equal(t, ether(1), f.house.PendingReturn(bidder1))
	assert.Equal(t, ether(97), f.ledger.Balance(bidder1), "both deposits are held")
	f.custodyHolds(t)
}

func TestPendingReturnsAccumulate(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	require.NoError(t, f.house.Bid(bidder2, ether(2)))
	require.NoError(t, f.house.Bid(bidder1, ether(3)))
	require.NoError(t, f.house.Bid(bidder2, ether(4)))

	assert.Equal(t, ether(4), f.house.PendingReturn(bidder1))
	assert.Equal(t, ether(2), f.house.PendingReturn(bidder2))
	f.custodyHolds(t)
}

func TestBidNotHighEnoughLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	before := f.house.Snapshot()
	eventsBefore := len(f.events)

	for _, amount := range []*big.Int{big.NewInt(5e17), ether(1)} {
		err := f.house.Bid(bidder2, amount)
		require.ErrorIs(t, err, domain.ErrBidNotHighEnough)
		assert.True(t, domain.IsRetryable(err))
	}

	assert.Equal(t, before, f.house.Snapshot())
	assert.Len(t, f.events, eventsBefore)
	assert.Equal(t, ether(100), f.ledger.Balance(bidder2))
}

func TestZeroBidRejected(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.house.Bid(bidder1, new(big.Int)), domain.ErrBidNotHighEnough)
	assert.ErrorIs(t, f.house.Bid(bidder1, big.NewInt(-1)), domain.ErrInvalidAmount)
	assert.ErrorIs(t, f.house.Bid(common.Address{}, ether(1)), domain.ErrUnauthorized)
}

func TestBidWithoutFundsLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	poor := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	err := f.house.Bid(poor, ether(1))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, 0, f.house.HighestBid().Sign())
	assert.Empty(t, f.events)
}

func TestBidAfterDeadline(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(3601 * time.Second)

	err := f.house.Bid(bidder1, ether(1))
	require.ErrorIs(t, err, domain.ErrAuctionAlreadyEnded)
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, domain.AuctionStateExpired, f.house.State(f.clock.Now()))
}

func TestBidExactlyAtDeadlineRejected(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(time.Hour)

	assert.ErrorIs(t, f.house.Bid(bidder1, ether(1)), domain.ErrAuctionAlreadyEnded)
	assert.NoError(t, f.house.EndAuction())
}

func TestEndAuction(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(2)))

	require.ErrorIs(t, f.house.EndAuction(), domain.ErrAuctionNotEnded)

	f.clock.Advance(3601 * time.Second)
	require.NoError(t, f.house.EndAuction())
	assert.True(t, f.house.Ended())
	assert.Equal(t, domain.AuctionStateEnded, f.house.State(f.clock.Now()))

	last := f.events[len(f.events)-1]
	assert.Equal(t, domain.EventAuctionEnded, last.Kind)
	assert.Equal(t, bidder1, last.Account)
	assert.Equal(t, ether(2), last.Amount)

	assert.ErrorIs(t, f.house.EndAuction(), domain.ErrAuctionAlreadyFinalized)
	assert.ErrorIs(t, f.house.Bid(bidder2, ether(5)), domain.ErrAuctionAlreadyEnded)
}

func TestEndAuctionWithoutBids(t *testing.T) {
	f := newFixture(t)
	f.endAfterDeadline(t)

	require.Len(t, f.events, 1)
	assert.Equal(t, common.Address{}, f.events[0].Account)
	assert.Equal(t, 0, f.events[0].Amount.Sign())

	winner, bid, err := f.house.GetWinner()
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, winner)
	assert.Equal(t, 0, bid.Sign())
}

func TestGetWinner(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(1)))

	_, _, err := f.house.GetWinner()
	require.ErrorIs(t, err, domain.ErrAuctionNotEnded)

	f.endAfterDeadline(t)
	winner, bid, err := f.house.GetWinner()
	require.NoError(t, err)
	assert.Equal(t, bidder1, winner)
	assert.Equal(t, ether(1), bid)
}

func TestLoserWithdraws(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	require.NoError(t, f.house.Bid(bidder2, ether(2)))
	f.endAfterDeadline(t)

	houseBefore := f.ledger.Balance(houseAddr)
	require.NoError(t, f.house.Withdraw(bidder1))

	assert.Equal(t, ether(100), f.ledger.Balance(bidder1))
	assert.Equal(t, new(big.Int).Sub(houseBefore, ether(1)), f.ledger.Balance(houseAddr))
	assert.Equal(t, 0, f.house.PendingReturn(bidder1).Sign())

	last := f.events[len(f.events)-1]
	assert.Equal(t, domain.EventFundsWithdrawn, last.Kind)
	assert.Equal(t, bidder1, last.Account)
	assert.Equal(t, ether(1), last.Amount)

	assert.ErrorIs(t, f.house.Withdraw(bidder1), domain.ErrNoFundsToWithdraw)
	assert.ErrorIs(t, f.house.Withdraw(bidder2), domain.ErrWinnerCannotWithdraw)
	f.custodyHolds(t)
}

func TestWithdrawBeforeEnd(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	require.NoError(t, f.house.Bid(bidder2, ether(2)))

	require.NoError(t, f.house.Withdraw(bidder1))
	assert.Equal(t, ether(100), f.ledger.Balance(bidder1))
}

func TestWinnerCannotWithdrawAfterSelfRebid(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	require.NoError(t, f.house.Bid(bidder1, ether(2)))
	require.Equal(t, ether(1), f.house.PendingReturn(bidder1))

	assert.ErrorIs(t, f.house.Withdraw(bidder1), domain.ErrWinnerCannotWithdraw)
	f.endAfterDeadline(t)
	assert.ErrorIs(t, f.house.Withdraw(bidder1), domain.ErrWinnerCannotWithdraw)

	// The locked stake is released once someone else takes the lead.
	g := newFixture(t)
	require.NoError(t, g.house.Bid(bidder1, ether(1)))
	require.NoError(t, g.house.Bid(bidder1, ether(2)))
	require.NoError(t, g.house.Bid(bidder2, ether(3)))
	require.NoError(t, g.house.Withdraw(bidder1))
	assert.Equal(t, ether(100), g.ledger.Balance(bidder1))
}

func TestWithdrawWithoutFunds(t *testing.T) {
	f := newFixture(t)
	f.endAfterDeadline(t)
	assert.ErrorIs(t, f.house.Withdraw(bidder1), domain.ErrNoFundsToWithdraw)
}

func TestOwnerWithdrawOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder2, ether(2)))

	require.ErrorIs(t, f.house.OwnerWithdraw(owner), domain.ErrAuctionNotEnded)
	f.endAfterDeadline(t)

	require.ErrorIs(t, f.house.OwnerWithdraw(bidder2), domain.ErrNotOwner)
	require.NoError(t, f.house.OwnerWithdraw(owner))
	assert.Equal(t, ether(102), f.ledger.Balance(owner))
	assert.Equal(t, 0, f.ledger.Balance(houseAddr).Sign())
	assert.True(t, f.house.OwnerClaimed())

	assert.ErrorIs(t, f.house.OwnerWithdraw(owner), domain.ErrNoFundsToWithdraw)
	assert.Equal(t, ether(102), f.ledger.Balance(owner))

	winner, bid, err := f.house.GetWinner()
	require.NoError(t, err)
	assert.Equal(t, bidder2, winner)
	assert.Equal(t, ether(2), bid, "claiming does not rewrite the result")
	f.custodyHolds(t)
}

func TestOwnerWithdrawWithoutBids(t *testing.T) {
	f := newFixture(t)
	f.endAfterDeadline(t)
	assert.ErrorIs(t, f.house.OwnerWithdraw(owner), domain.ErrNoFundsToWithdraw)
}

func TestFullScenario(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	require.NoError(t, f.house.Bid(bidder1, ether(2)))
	f.endAfterDeadline(t)

	assert.Equal(t, []domain.EventKind{
		domain.EventBidPlaced, domain.EventBiggestBid,
		domain.EventRefunded, domain.EventBidPlaced, domain.EventBiggestBid,
		domain.EventAuctionEnded,
	}, f.kinds())

	require.NoError(t, f.house.OwnerWithdraw(owner))
	assert.ErrorIs(t, f.house.OwnerWithdraw(owner), domain.ErrNoFundsToWithdraw)
	assert.Equal(t, ether(1), f.ledger.Balance(houseAddr), "self-refund stays claimable")
	f.custodyHolds(t)
}

func TestWithdrawRollsBackWhenTransferRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	require.NoError(t, f.house.Bid(bidder2, ether(2)))
	f.events = nil

	f.ledger.SetReceiver(bidder1, func(common.Address, *big.Int) error {
		return errors.New("receiver reverted")
	})

	err := f.house.Withdraw(bidder1)
	require.ErrorIs(t, err, domain.ErrTransferRejected)
	assert.Equal(t, ether(1), f.house.PendingReturn(bidder1))
	assert.Empty(t, f.events)
	f.custodyHolds(t)

	f.ledger.SetReceiver(bidder1, nil)
	require.NoError(t, f.house.Withdraw(bidder1))
}

func TestWithdrawKeepsPaymentWhenRejectionCannotRevert(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	require.NoError(t, f.house.Bid(bidder2, ether(2)))
	f.events = nil

	// The receiver forwards everything it holds and then fails, leaving
	// nothing for the ledger to take back.
	f.ledger.SetReceiver(bidder1, func(common.Address, *big.Int) error {
		require.NoError(t, f.ledger.Transfer(bidder1, owner, f.ledger.Balance(bidder1)))
		return errors.New("receiver reverted")
	})

	err := f.house.Withdraw(bidder1)
	require.ErrorIs(t, err, domain.ErrTransferRejected)
	require.ErrorIs(t, err, domain.ErrTransferNotReverted)
	assert.Equal(t, 0, f.house.PendingReturn(bidder1).Sign())
	assert.Equal(t, []domain.EventKind{domain.EventFundsWithdrawn}, f.kinds())
	f.custodyHolds(t)

	f.ledger.SetReceiver(bidder1, nil)
	assert.ErrorIs(t, f.house.Withdraw(bidder1), domain.ErrNoFundsToWithdraw)
	assert.Equal(t, 0, f.ledger.Balance(bidder1).Sign())

	f.endAfterDeadline(t)
	require.NoError(t, f.house.OwnerWithdraw(owner))
	assert.Equal(t, ether(202), f.ledger.Balance(owner))
	assert.Equal(t, 0, f.ledger.Balance(houseAddr).Sign())
	f.custodyHolds(t)
}

func TestOwnerWithdrawStaysClaimedWhenRejectionCannotRevert(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	f.endAfterDeadline(t)
	f.events = nil

	f.ledger.SetReceiver(owner, func(common.Address, *big.Int) error {
		require.NoError(t, f.ledger.Transfer(owner, bidder2, f.ledger.Balance(owner)))
		return errors.New("receiver reverted")
	})

	err := f.house.OwnerWithdraw(owner)
	require.ErrorIs(t, err, domain.ErrTransferNotReverted)
	assert.True(t, f.house.OwnerClaimed())
	assert.Equal(t, []domain.EventKind{domain.EventFundsWithdrawn}, f.kinds())
	f.custodyHolds(t)

	f.ledger.SetReceiver(owner, nil)
	assert.ErrorIs(t, f.house.OwnerWithdraw(owner), domain.ErrNoFundsToWithdraw)
	assert.Equal(t, ether(201), f.ledger.Balance(bidder2))
}

func TestOwnerWithdrawRollsBackWhenTransferRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	f.endAfterDeadline(t)

	f.ledger.SetReceiver(owner, func(common.Address, *big.Int) error {
		return errors.New("receiver reverted")
	})
	require.ErrorIs(t, f.house.OwnerWithdraw(owner), domain.ErrTransferRejected)
	assert.False(t, f.house.OwnerClaimed())

	f.ledger.SetReceiver(owner, nil)
	require.NoError(t, f.house.OwnerWithdraw(owner))
}

func TestReentrantWithdrawSeesClearedBalance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	require.NoError(t, f.house.Bid(bidder2, ether(2)))

	var reentryErr error
	calls := 0
	f.ledger.SetReceiver(bidder1, func(common.Address, *big.Int) error {
		calls++
		reentryErr = f.house.Withdraw(bidder1)
		return nil
	})

	require.NoError(t, f.house.Withdraw(bidder1))
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, reentryErr, domain.ErrNoFundsToWithdraw)
	assert.Equal(t, ether(100), f.ledger.Balance(bidder1), "paid exactly once")
	f.custodyHolds(t)
}

func TestReentrantOwnerWithdrawPaysOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(3)))
	f.endAfterDeadline(t)

	var reentryErr error
	f.ledger.SetReceiver(owner, func(common.Address, *big.Int) error {
		reentryErr = f.house.OwnerWithdraw(owner)
		return nil
	})

	require.NoError(t, f.house.OwnerWithdraw(owner))
	assert.ErrorIs(t, reentryErr, domain.ErrNoFundsToWithdraw)
	assert.Equal(t, ether(103), f.ledger.Balance(owner))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.house.Bid(bidder1, ether(1)))
	require.NoError(t, f.house.Bid(bidder2, ether(2)))
	snap := f.house.Snapshot()

	var events []domain.Event
	restored, err := Restore(snap, Config{
		Clock: f.clock,
		Vault: f.ledger,
		Emit:  func(e domain.Event) { events = append(events, e) },
	})
	require.NoError(t, err)
	assert.Equal(t, snap, restored.Snapshot())

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, restored.EndAuction())
	require.Len(t, events, 1)
	assert.Equal(t, snap.Seq+1, events[0].Seq, "sequence continues after restore")
}

func TestRestoreRejectsCorruptSnapshot(t *testing.T) {
	f := newFixture(t)
	snap := f.house.Snapshot()
	snap.PendingReturns = map[common.Address]*big.Int{bidder1: big.NewInt(-1)}

	_, err := Restore(snap, Config{Clock: f.clock, Vault: f.ledger})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
