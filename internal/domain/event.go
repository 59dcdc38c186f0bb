package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventKind names an observable contract event.
type EventKind string

const (
	EventBidPlaced      EventKind = "BidPlaced"
	EventBiggestBid     EventKind = "BiggestBid"
	EventRefunded       EventKind = "Refunded"
	EventAuctionEnded   EventKind = "AuctionEnded"
	EventAuctionCreated EventKind = "AuctionCreated"
	EventFundsWithdrawn EventKind = "FundsWithdrawn"
)

// Event is one entry of a contract's event log.
//
// Field usage per kind:
//
//	BidPlaced      Account=bidder, Amount
//	BiggestBid     Amount
//	Refunded       Account=credited address, Amount
//	AuctionEnded   Account=winner (zero when no bids), Amount
//	AuctionCreated Auction=new instance, Item, DurationSeconds
//	FundsWithdrawn Account=payee, Amount
type Event struct {
	ID              string         `json:"id"`
	Contract        common.Address `json:"contract"`
	Seq             uint64         `json:"seq"`
	Kind            EventKind      `json:"kind"`
	Account         common.Address `json:"account"`
	Auction         common.Address `json:"auction"`
	Amount          *big.Int       `json:"amount,omitempty"`
	Item            string         `json:"item,omitempty"`
	DurationSeconds int64          `json:"duration_seconds,omitempty"`
	At              time.Time      `json:"at"`
}

// NewEvent stamps an event with a fresh id.
func NewEvent(contract common.Address, seq uint64, kind EventKind, at time.Time) Event {
	return Event{
		ID:       uuid.NewString(),
		Contract: contract,
		Seq:      seq,
		Kind:     kind,
		At:       at,
	}
}

// EventSink receives events emitted by contracts.
type EventSink func(Event)

// Signal bus names carrying committed events.
const (
	// EventStream is the durable stream of every committed event.
	EventStream = "auction-events"
	// AuctionChannelPattern matches every per-auction pub/sub channel.
	AuctionChannelPattern = "auction:*"
)

// AuctionChannel is the pub/sub channel carrying the events of one auction.
func AuctionChannel(addr common.Address) string {
	return "auction:" + addr.Hex()
}
