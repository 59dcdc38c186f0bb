// Package auction implements a single-item, time-boxed ascending-price
// auction with value custody. A House accepts bids until its deadline,
// credits out-bid stakes to a pending-return ledger, and pays the winning
// bid to the seller exactly once after the auction has been ended.
//
// A House is not safe for concurrent use. Callers run every operation as
// one serialized transaction; value-transfer hooks may re-enter the House
// from inside a Withdraw or OwnerWithdraw call.
package auction

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Vault moves native value between accounts.
type Vault interface {
	Transfer(from, to common.Address, amount *big.Int) error
}

// Config holds the construction parameters of a House.
type Config struct {
	Address        common.Address
	Owner          common.Address
	Item           string
	BiddingSeconds int64
	Clock          domain.Clock
	Vault          Vault
	Emit           domain.EventSink
}

// House is one deployed auction instance.
type House struct {
	address common.Address
	owner   common.Address
	item    string
	endTime time.Time
	created time.Time

	highestBid     *big.Int
	highestBidder  common.Address
	pendingReturns map[common.Address]*big.Int

	ended        bool
	ownerClaimed bool
	seq          uint64

	clock domain.Clock
	vault Vault
	emit  domain.EventSink
}

// New constructs a House whose deadline is BiddingSeconds after the
// current clock time.
func New(cfg Config) (*House, error) {
	if cfg.BiddingSeconds <= 0 {
		return nil, fmt.Errorf("auction: new: %w", domain.ErrInvalidBiddingTime)
	}
	if cfg.Item == "" {
		return nil, fmt.Errorf("auction: new: %w", domain.ErrEmptyItem)
	}
	if cfg.Clock == nil || cfg.Vault == nil {
		return nil, fmt.Errorf("auction: new: clock and vault are required")
	}

	now := cfg.Clock.Now()
	return &House{
		address:        cfg.Address,
		owner:          cfg.Owner,
		item:           cfg.Item,
		endTime:        now.Add(time.Duration(cfg.BiddingSeconds) * time.Second),
		created:        now,
		highestBid:     new(big.Int),
		pendingReturns: make(map[common.Address]*big.Int),
		clock:          cfg.Clock,
		vault:          cfg.Vault,
		emit:           cfg.Emit,
	}, nil
}

// Restore rebuilds a House from a persisted snapshot. Only Clock, Vault and
// Emit are taken from cfg.
func Restore(snap domain.AuctionSnapshot, cfg Config) (*House, error) {
	if snap.Item == "" {
		return nil, fmt.Errorf("auction: restore %s: %w", snap.Address.Hex(), domain.ErrEmptyItem)
	}
	if cfg.Clock == nil || cfg.Vault == nil {
		return nil, fmt.Errorf("auction: restore %s: clock and vault are required", snap.Address.Hex())
	}

	h := &House{
		address:        snap.Address,
		owner:          snap.Owner,
		item:           snap.Item,
		endTime:        snap.EndTime,
		created:        snap.CreatedAt,
		highestBid:     new(big.Int),
		highestBidder:  snap.HighestBidder,
		pendingReturns: make(map[common.Address]*big.Int, len(snap.PendingReturns)),
		ended:          snap.Ended,
		ownerClaimed:   snap.OwnerClaimed,
		seq:            snap.Seq,
		clock:          cfg.Clock,
		vault:          cfg.Vault,
		emit:           cfg.Emit,
	}
	if snap.HighestBid != nil {
		if snap.HighestBid.Sign() < 0 {
			return nil, fmt.Errorf("auction: restore %s: %w", snap.Address.Hex(), domain.ErrInvalidAmount)
		}
		h.highestBid.Set(snap.HighestBid)
	}
	for addr, amount := range snap.PendingReturns {
		if amount == nil || amount.Sign() < 0 {
			return nil, fmt.Errorf("auction: restore %s: pending %s: %w",
				snap.Address.Hex(), addr.Hex(), domain.ErrInvalidAmount)
		}
		if amount.Sign() > 0 {
			h.pendingReturns[addr] = new(big.Int).Set(amount)
		}
	}
	return h, nil
}

// Bid places a bid of amount on behalf of caller. The amount is deposited
// into the auction's account before any state changes; the previous
// highest bid, even when it belongs to caller, is credited to the
// pending-return ledger of its bidder.
func (h *House) Bid(caller common.Address, amount *big.Int) error {
	now := h.clock.Now()
	if h.ended || !now.Before(h.endTime) {
		return domain.ErrAuctionAlreadyEnded
	}
	if caller == (common.Address{}) {
		return fmt.Errorf("auction: bid from zero address: %w", domain.ErrUnauthorized)
	}
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	if amount.Cmp(h.highestBid) <= 0 {
		return domain.ErrBidNotHighEnough
	}

	if err := h.vault.Transfer(caller, h.address, amount); err != nil {
		return fmt.Errorf("auction: bid deposit: %w", err)
	}

	if h.highestBidder != (common.Address{}) {
		prev, prevBid := h.highestBidder, new(big.Int).Set(h.highestBid)
		h.creditPending(prev, prevBid)
		h.record(now, domain.EventRefunded, func(e *domain.Event) {
			e.Account = prev
			e.Amount = prevBid
		})
	}

	h.highestBid = new(big.Int).Set(amount)
	h.highestBidder = caller

	h.record(now, domain.EventBidPlaced, func(e *domain.Event) {
		e.Account = caller
		e.Amount = new(big.Int).Set(amount)
	})
	h.record(now, domain.EventBiggestBid, func(e *domain.Event) {
		e.Amount = new(big.Int).Set(amount)
	})
	return nil
}

// EndAuction closes bidding. Anyone may call it once the deadline has
// passed; it succeeds exactly once.
func (h *House) EndAuction() error {
	now := h.clock.Now()
	if now.Before(h.endTime) {
		return domain.ErrAuctionNotEnded
	}
	if h.ended {
		return domain.ErrAuctionAlreadyFinalized
	}

	h.ended = true
	h.record(now, domain.EventAuctionEnded, func(e *domain.Event) {
		e.Account = h.highestBidder
		e.Amount = new(big.Int).Set(h.highestBid)
	})
	return nil
}

// Withdraw pays caller their whole pending-return balance. The ledger
// entry is cleared before the transfer; if the transfer fails the entry is
// credited back and the error returned. A rejected transfer the vault could
// not reverse still counts as paid.
func (h *House) Withdraw(caller common.Address) error {
	if h.highestBidder != (common.Address{}) && caller == h.highestBidder {
		return domain.ErrWinnerCannotWithdraw
	}
	amount, ok := h.pendingReturns[caller]
	if !ok || amount.Sign() == 0 {
		return domain.ErrNoFundsToWithdraw
	}

	delete(h.pendingReturns, caller)

	err := h.vault.Transfer(h.address, caller, amount)
	if err != nil && !errors.Is(err, domain.ErrTransferNotReverted) {
		h.creditPending(caller, amount)
		return fmt.Errorf("auction: withdraw: %w", err)
	}

	// An unreverted transfer left the funds with the caller, so the
	// withdrawal stands even though the receiver failed.
	h.record(h.clock.Now(), domain.EventFundsWithdrawn, func(e *domain.Event) {
		e.Account = caller
		e.Amount = amount
	})
	if err != nil {
		return fmt.Errorf("auction: withdraw: %w", err)
	}
	return nil
}

// OwnerWithdraw pays the winning bid to the owner. It may succeed only once
// and only after the auction has ended.
func (h *House) OwnerWithdraw(caller common.Address) error {
	if caller != h.owner {
		return domain.ErrNotOwner
	}
	if !h.ended {
		return domain.ErrAuctionNotEnded
	}
	if h.ownerClaimed || h.highestBid.Sign() == 0 {
		return domain.ErrNoFundsToWithdraw
	}

	h.ownerClaimed = true
	amount := new(big.Int).Set(h.highestBid)

	err := h.vault.Transfer(h.address, h.owner, amount)
	if err != nil && !errors.Is(err, domain.ErrTransferNotReverted) {
		h.ownerClaimed = false
		return fmt.Errorf("auction: owner withdraw: %w", err)
	}

	h.record(h.clock.Now(), domain.EventFundsWithdrawn, func(e *domain.Event) {
		e.Account = h.owner
		e.Amount = amount
	})
	if err != nil {
		return fmt.Errorf("auction: owner withdraw: %w", err)
	}
	return nil
}

// GetWinner returns the winning bidder and bid of an ended auction. The
// bidder is the zero address when nobody bid.
func (h *House) GetWinner() (common.Address, *big.Int, error) {
	if !h.ended {
		return common.Address{}, nil, domain.ErrAuctionNotEnded
	}
	return h.highestBidder, new(big.Int).Set(h.highestBid), nil
}

// Address returns the instance address.
func (h *House) Address() common.Address { return h.address }

// Owner returns the seller entitled to the winning bid.
func (h *House) Owner() common.Address { return h.owner }

// Item returns the auctioned item label.
func (h *House) Item() string { return h.item }

// AuctionEndTime returns the bidding deadline.
func (h *House) AuctionEndTime() time.Time { return h.endTime }

// HighestBid returns a copy of the current highest bid.
func (h *House) HighestBid() *big.Int { return new(big.Int).Set(h.highestBid) }

// HighestBidder returns the current highest bidder, or the zero address.
func (h *House) HighestBidder() common.Address { return h.highestBidder }

// Ended reports whether EndAuction has succeeded.
func (h *House) Ended() bool { return h.ended }

// OwnerClaimed reports whether the owner has been paid.
func (h *House) OwnerClaimed() bool { return h.ownerClaimed }

// PendingReturn returns the refundable balance owed to addr.
func (h *House) PendingReturn(addr common.Address) *big.Int {
	if v, ok := h.pendingReturns[addr]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// State derives the bidding state at the given time.
func (h *House) State(now time.Time) domain.AuctionState {
	return domain.AuctionSnapshot{Ended: h.ended, EndTime: h.endTime}.StateAt(now)
}

// Snapshot returns a deep copy of the instance state.
func (h *House) Snapshot() domain.AuctionSnapshot {
	pending := make(map[common.Address]*big.Int, len(h.pendingReturns))
	for addr, v := range h.pendingReturns {
		pending[addr] = new(big.Int).Set(v)
	}
	return domain.AuctionSnapshot{
		Address:        h.address,
		Item:           h.item,
		Owner:          h.owner,
		EndTime:        h.endTime,
		HighestBid:     new(big.Int).Set(h.highestBid),
		HighestBidder:  h.highestBidder,
		Ended:          h.ended,
		OwnerClaimed:   h.ownerClaimed,
		PendingReturns: pending,
		CreatedAt:      h.created,
		Seq:            h.seq,
	}
}

func (h *House) creditPending(addr common.Address, amount *big.Int) {
	cur, ok := h.pendingReturns[addr]
	if !ok {
		h.pendingReturns[addr] = new(big.Int).Set(amount)
		return
	}
	cur.Add(cur, amount)
}

func (h *House) record(at time.Time, kind domain.EventKind, fill func(*domain.Event)) {
	h.seq++
	ev := domain.NewEvent(h.address, h.seq, kind, at)
	ev.Auction = h.address
	fill(&ev)
	if h.emit != nil {
		h.emit(ev)
	}
}
