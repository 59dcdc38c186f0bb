// Package factory keeps the ordered registry of auction instances and
// deploys new ones.
package factory

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Config holds the factory's own address and the dependencies handed to
// every House it creates.
type Config struct {
	Address common.Address
	Clock   domain.Clock
	Vault   auction.Vault
	Emit    domain.EventSink
}

// Factory is the append-only registry of deployed auctions. It is not safe
// for concurrent use.
type Factory struct {
	address  common.Address
	auctions []common.Address
	houses   map[common.Address]*auction.House
	seq      uint64

	clock domain.Clock
	vault auction.Vault
	emit  domain.EventSink
}

// New creates an empty Factory.
func New(cfg Config) (*Factory, error) {
	if cfg.Clock == nil || cfg.Vault == nil {
		return nil, fmt.Errorf("factory: new: clock and vault are required")
	}
	return &Factory{
		address: cfg.Address,
		houses:  make(map[common.Address]*auction.House),
		clock:   cfg.Clock,
		vault:   cfg.Vault,
		emit:    cfg.Emit,
	}, nil
}

// Address returns the factory's own address.
func (f *Factory) Address() common.Address { return f.address }

// CreateAuction deploys a new House owned by caller and returns its
// address. A failed construction leaves the registry untouched.
func (f *Factory) CreateAuction(caller common.Address, item string, durationSeconds int64) (common.Address, error) {
	if caller == (common.Address{}) {
		return common.Address{}, fmt.Errorf("factory: create auction: %w", domain.ErrUnauthorized)
	}
	addr := crypto.CreateAddress(f.address, f.nextNonce())

	h, err := auction.New(auction.Config{
		Address:        addr,
		Owner:          caller,
		Item:           item,
		BiddingSeconds: durationSeconds,
		Clock:          f.clock,
		Vault:          f.vault,
		Emit:           f.emit,
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("factory: create auction: %w", err)
	}

	f.auctions = append(f.auctions, addr)
	f.houses[addr] = h

	f.seq++
	ev := domain.NewEvent(f.address, f.seq, domain.EventAuctionCreated, f.clock.Now())
	ev.Account = caller
	ev.Auction = addr
	ev.Item = item
	ev.DurationSeconds = durationSeconds
	if f.emit != nil {
		f.emit(ev)
	}
	return addr, nil
}

// GetAuctionCount returns the number of deployed auctions.
func (f *Factory) GetAuctionCount() int { return len(f.auctions) }

// GetAuction returns the address registered at index.
func (f *Factory) GetAuction(index int) (common.Address, error) {
	if index < 0 || index >= len(f.auctions) {
		return common.Address{}, fmt.Errorf("factory: get auction %d: %w", index, domain.ErrInvalidIndex)
	}
	return f.auctions[index], nil
}

// GetAllAuctions returns a copy of the registry in creation order. The
// result is never nil.
func (f *Factory) GetAllAuctions() []common.Address {
	out := make([]common.Address, len(f.auctions))
	copy(out, f.auctions)
	return out
}

// Lookup returns the House deployed at addr.
func (f *Factory) Lookup(addr common.Address) (*auction.House, error) {
	h, ok := f.houses[addr]
	if !ok {
		return nil, fmt.Errorf("factory: lookup %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return h, nil
}

// IndexOf returns the registry index of addr.
func (f *Factory) IndexOf(addr common.Address) (int, bool) {
	for i, a := range f.auctions {
		if a == addr {
			return i, true
		}
	}
	return 0, false
}

// Houses returns every House in creation order.
func (f *Factory) Houses() []*auction.House {
	out := make([]*auction.House, 0, len(f.auctions))
	for _, addr := range f.auctions {
		out = append(out, f.houses[addr])
	}
	return out
}

// Expired returns the Houses whose deadline has passed at now but that
// have not been ended yet.
func (f *Factory) Expired(now time.Time) []*auction.House {
	var out []*auction.House
	for _, addr := range f.auctions {
		h := f.houses[addr]
		if h.State(now) == domain.AuctionStateExpired {
			out = append(out, h)
		}
	}
	return out
}

// Restore replaces the registry with snapshots already ordered by index.
func (f *Factory) Restore(snaps []domain.AuctionSnapshot) error {
	auctions := make([]common.Address, 0, len(snaps))
	houses := make(map[common.Address]*auction.House, len(snaps))
	for _, snap := range snaps {
		if _, dup := houses[snap.Address]; dup {
			return fmt.Errorf("factory: restore: duplicate auction %s", snap.Address.Hex())
		}
		h, err := auction.Restore(snap, auction.Config{Clock: f.clock, Vault: f.vault, Emit: f.emit})
		if err != nil {
			return fmt.Errorf("factory: restore: %w", err)
		}
		auctions = append(auctions, snap.Address)
		houses[snap.Address] = h
	}
	f.auctions = auctions
	f.houses = houses
	// The factory emits exactly one event per deployment.
	f.seq = uint64(len(auctions))
	return nil
}

// nextNonce follows EIP-161: contract accounts start at nonce 1.
func (f *Factory) nextNonce() uint64 { return uint64(len(f.auctions)) + 1 }
