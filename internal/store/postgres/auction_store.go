package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionSelectCols = `address, item, owner, end_time, highest_bid::text,
	highest_bidder, ended, owner_claimed, pending_returns, seq, created_at`

// Save upserts the snapshot of the auction registered at index.
func (s *AuctionStore) Save(ctx context.Context, index int, snap domain.AuctionSnapshot) error {
	pending, err := encodePending(snap.PendingReturns)
	if err != nil {
		return fmt.Errorf("postgres: save auction %s: %w", snap.Address.Hex(), err)
	}

	const query = `
		INSERT INTO auctions (
			address, idx, item, owner, end_time, highest_bid, highest_bidder,
			ended, owner_claimed, pending_returns, seq, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::text::numeric, $7,
			$8, $9, $10, $11, $12, NOW()
		)
		ON CONFLICT (address) DO UPDATE SET
			highest_bid     = EXCLUDED.highest_bid,
			highest_bidder  = EXCLUDED.highest_bidder,
			ended           = EXCLUDED.ended,
			owner_claimed   = EXCLUDED.owner_claimed,
			pending_returns = EXCLUDED.pending_returns,
			seq             = EXCLUDED.seq,
			updated_at      = NOW()`

	_, err = s.pool.Exec(ctx, query,
		snap.Address.Hex(), index, snap.Item, snap.Owner.Hex(), snap.EndTime,
		numericText(snap.HighestBid), snap.HighestBidder.Hex(),
		snap.Ended, snap.OwnerClaimed, pending, int64(snap.Seq), snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save auction %s: %w", snap.Address.Hex(), err)
	}
	return nil
}

// Get returns the snapshot of a single auction.
func (s *AuctionStore) Get(ctx context.Context, addr common.Address) (domain.AuctionSnapshot, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE address = $1`
	snap, err := scanAuction(s.pool.QueryRow(ctx, query, addr.Hex()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AuctionSnapshot{}, domain.ErrNotFound
		}
		return domain.AuctionSnapshot{}, fmt.Errorf("postgres: get auction %s: %w", addr.Hex(), err)
	}
	return snap, nil
}

// ListOrdered returns every auction in factory index order.
func (s *AuctionStore) ListOrdered(ctx context.Context) ([]domain.AuctionSnapshot, error) {
	return s.list(ctx, `SELECT `+auctionSelectCols+` FROM auctions ORDER BY idx ASC`, "list auctions")
}

// ListEnded returns every ended auction in factory index order.
func (s *AuctionStore) ListEnded(ctx context.Context) ([]domain.AuctionSnapshot, error) {
	return s.list(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE ended ORDER BY idx ASC`, "list ended auctions")
}

func (s *AuctionStore) list(ctx context.Context, query, op string) ([]domain.AuctionSnapshot, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var snaps []domain.AuctionSnapshot
	for rows.Next() {
		snap, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return snaps, nil
}

func scanAuction(row pgx.Row) (domain.AuctionSnapshot, error) {
	var (
		snap                            domain.AuctionSnapshot
		address, owner, bidder, bidText string
		pendingJSON                     []byte
		seq                             int64
	)
	if err := row.Scan(
		&address, &snap.Item, &owner, &snap.EndTime, &bidText,
		&bidder, &snap.Ended, &snap.OwnerClaimed, &pendingJSON, &seq, &snap.CreatedAt,
	); err != nil {
		return domain.AuctionSnapshot{}, err
	}

	bid, err := parseNumeric(bidText)
	if err != nil {
		return domain.AuctionSnapshot{}, err
	}
	pending, err := decodePending(pendingJSON)
	if err != nil {
		return domain.AuctionSnapshot{}, err
	}

	snap.Address = common.HexToAddress(address)
	snap.Owner = common.HexToAddress(owner)
	snap.HighestBidder = common.HexToAddress(bidder)
	snap.HighestBid = bid
	snap.PendingReturns = pending
	snap.Seq = uint64(seq)
	snap.EndTime = snap.EndTime.UTC()
	snap.CreatedAt = snap.CreatedAt.UTC()
	return snap, nil
}

// encodePending stores pending returns as a JSONB object of address to
// decimal string.
func encodePending(pending map[common.Address]*big.Int) ([]byte, error) {
	out := make(map[string]string, len(pending))
	for addr, v := range pending {
		if v == nil || v.Sign() == 0 {
			continue
		}
		out[addr.Hex()] = v.String()
	}
	return json.Marshal(out)
}

func decodePending(data []byte) (map[common.Address]*big.Int, error) {
	raw := make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("unmarshal pending returns: %w", err)
		}
	}
	out := make(map[common.Address]*big.Int, len(raw))
	for k, v := range raw {
		if !common.IsHexAddress(k) {
			return nil, fmt.Errorf("pending returns: invalid address %q", k)
		}
		amount, err := parseNumeric(v)
		if err != nil {
			return nil, err
		}
		out[common.HexToAddress(k)] = amount
	}
	return out, nil
}

var _ domain.AuctionStore = (*AuctionStore)(nil)
