package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionStore persists auction snapshots together with their factory index.
type AuctionStore interface {
	Save(ctx context.Context, index int, snap AuctionSnapshot) error
	Get(ctx context.Context, addr common.Address) (AuctionSnapshot, error)
	// ListOrdered returns every snapshot ordered by factory index.
	ListOrdered(ctx context.Context) ([]AuctionSnapshot, error)
	ListEnded(ctx context.Context) ([]AuctionSnapshot, error)
}

// EventStore persists the append-only contract event log.
type EventStore interface {
	Append(ctx context.Context, events []Event) error
	ListByContract(ctx context.Context, contract common.Address, opts ListOpts) ([]Event, error)
}

// AccountStore persists ledger balances.
type AccountStore interface {
	SaveBalances(ctx context.Context, balances map[common.Address]*big.Int) error
	LoadBalances(ctx context.Context) (map[common.Address]*big.Int, error)
}
