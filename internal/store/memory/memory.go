// Package memory implements the domain store and bus interfaces in process memory.
// It backs the "memory" storage driver used for local development and tests.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// AuctionStore implements domain.AuctionStore.
type AuctionStore struct {
	mu      sync.RWMutex
	byAddr  map[common.Address]domain.AuctionSnapshot
	indexes map[common.Address]int
}

// NewAuctionStore creates an empty AuctionStore.
func NewAuctionStore() *AuctionStore {
	return &AuctionStore{
		byAddr:  make(map[common.Address]domain.AuctionSnapshot),
		indexes: make(map[common.Address]int),
	}
}

// Save stores a deep copy of snap under index.
func (s *AuctionStore) Save(_ context.Context, index int, snap domain.AuctionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAddr[snap.Address] = cloneSnapshot(snap)
	if _, ok := s.indexes[snap.Address]; !ok {
		s.indexes[snap.Address] = index
	}
	return nil
}

// Get returns the snapshot stored for addr.
func (s *AuctionStore) Get(_ context.Context, addr common.Address) (domain.AuctionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byAddr[addr]
	if !ok {
		return domain.AuctionSnapshot{}, domain.ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

// ListOrdered returns every snapshot by factory index.
func (s *AuctionStore) ListOrdered(_ context.Context) ([]domain.AuctionSnapshot, error) {
	return s.list(func(domain.AuctionSnapshot) bool { return true }), nil
}

// ListEnded returns the ended snapshots by factory index.
func (s *AuctionStore) ListEnded(_ context.Context) ([]domain.AuctionSnapshot, error) {
	return s.list(func(snap domain.AuctionSnapshot) bool { return snap.Ended }), nil
}

func (s *AuctionStore) list(keep func(domain.AuctionSnapshot) bool) []domain.AuctionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addrs := make([]common.Address, 0, len(s.byAddr))
	for addr := range s.byAddr {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return s.indexes[addrs[i]] < s.indexes[addrs[j]] })

	var out []domain.AuctionSnapshot
	for _, addr := range addrs {
		if snap := s.byAddr[addr]; keep(snap) {
			out = append(out, cloneSnapshot(snap))
		}
	}
	return out
}

// EventStore implements domain.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	events map[common.Address][]domain.Event
	seen   map[common.Address]map[uint64]struct{}
}

// NewEventStore creates an empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{
		events: make(map[common.Address][]domain.Event),
		seen:   make(map[common.Address]map[uint64]struct{}),
	}
}

// Append stores events, skipping any (contract, seq) pair already present.
func (s *EventStore) Append(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		seen := s.seen[e.Contract]
		if seen == nil {
			seen = make(map[uint64]struct{})
			s.seen[e.Contract] = seen
		}
		if _, dup := seen[e.Seq]; dup {
			continue
		}
		seen[e.Seq] = struct{}{}
		s.events[e.Contract] = append(s.events[e.Contract], cloneEvent(e))
	}
	return nil
}

// ListByContract returns the events of one contract in sequence order.
func (s *EventStore) ListByContract(_ context.Context, contract common.Address, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.Event, 0, len(s.events[contract]))
	for _, e := range s.events[contract] {
		if opts.Since != nil && e.At.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.At.After(*opts.Until) {
			continue
		}
		all = append(all, cloneEvent(e))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })

	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return []domain.Event{}, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

// AccountStore implements domain.AccountStore.
type AccountStore struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{balances: make(map[common.Address]*big.Int)}
}

// SaveBalances replaces the stored balances.
func (s *AccountStore) SaveBalances(_ context.Context, balances map[common.Address]*big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = cloneBalances(balances)
	return nil
}

// LoadBalances returns a copy of the stored balances.
func (s *AccountStore) LoadBalances(_ context.Context) (map[common.Address]*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBalances(s.balances), nil
}

func cloneBalances(in map[common.Address]*big.Int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	for addr, v := range in {
		out[addr] = cloneInt(v)
	}
	return out
}

func cloneSnapshot(snap domain.AuctionSnapshot) domain.AuctionSnapshot {
	snap.HighestBid = cloneInt(snap.HighestBid)
	snap.PendingReturns = cloneBalances(snap.PendingReturns)
	return snap
}

func cloneEvent(e domain.Event) domain.Event {
	e.Amount = cloneInt(e.Amount)
	return e
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

var (
	_ domain.AuctionStore = (*AuctionStore)(nil)
	_ domain.EventStore   = (*EventStore)(nil)
	_ domain.AccountStore = (*AccountStore)(nil)
)
