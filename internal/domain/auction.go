package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AuctionState is the bidding state of an auction instance.
type AuctionState string

const (
	AuctionStateActive AuctionState = "active"
	// AuctionStateExpired means the deadline has passed but nobody has
	// called EndAuction yet. Bids are already rejected.
	AuctionStateExpired AuctionState = "expired"
	AuctionStateEnded   AuctionState = "ended"
)

// AuctionSnapshot is the full persisted state of one auction instance.
type AuctionSnapshot struct {
	Address        common.Address
	Item           string
	Owner          common.Address
	EndTime        time.Time
	HighestBid     *big.Int
	HighestBidder  common.Address
	Ended          bool
	OwnerClaimed   bool
	PendingReturns map[common.Address]*big.Int
	CreatedAt      time.Time
	// Seq is the sequence number of the last event emitted by the instance.
	Seq uint64
}

// StateAt derives the bidding state at now.
func (s AuctionSnapshot) StateAt(now time.Time) AuctionState {
	switch {
	case s.Ended:
		return AuctionStateEnded
	case !now.Before(s.EndTime):
		return AuctionStateExpired
	default:
		return AuctionStateActive
	}
}

// PendingTotal sums every outstanding pending-return entry.
func (s AuctionSnapshot) PendingTotal() *big.Int {
	total := new(big.Int)
	for _, v := range s.PendingReturns {
		total.Add(total, v)
	}
	return total
}

// Custody returns the value the instance must hold: every pending return
// plus the winning bid while it is still unclaimed.
func (s AuctionSnapshot) Custody() *big.Int {
	total := s.PendingTotal()
	if !s.OwnerClaimed && s.HighestBid != nil {
		total.Add(total, s.HighestBid)
	}
	return total
}

// Settled reports whether the instance has ended and paid out everything
// it held. A settled auction emits no further events.
func (s AuctionSnapshot) Settled() bool {
	return s.Ended && s.Custody().Sign() == 0
}

// FactoryEntry ties a registry index to an auction address.
type FactoryEntry struct {
	Index   int
	Address common.Address
}
