package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

const defaultAuctionTTL = 10 * time.Minute

// AuctionCache implements domain.AuctionCache using Redis hashes holding a
// JSON-encoded snapshot.
//
// Key schema:
//
//	auction:{address} - hash with field "data" containing JSON
type AuctionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAuctionCache creates an AuctionCache backed by the given Client. A
// non-positive ttl selects the default of ten minutes.
func NewAuctionCache(c *Client, ttl time.Duration) *AuctionCache {
	if ttl <= 0 {
		ttl = defaultAuctionTTL
	}
	return &AuctionCache{rdb: c.Underlying(), ttl: ttl}
}

func auctionKey(addr common.Address) string { return "auction:" + addr.Hex() }

// cachedAuction is the wire form of a snapshot. Amounts are decimal strings
// so values beyond 2^53 survive JSON consumers.
type cachedAuction struct {
	Address        common.Address    `json:"address"`
	Item           string            `json:"item"`
	Owner          common.Address    `json:"owner"`
	EndTime        time.Time         `json:"end_time"`
	HighestBid     string            `json:"highest_bid"`
	HighestBidder  common.Address    `json:"highest_bidder"`
	Ended          bool              `json:"ended"`
	OwnerClaimed   bool              `json:"owner_claimed"`
	PendingReturns map[string]string `json:"pending_returns"`
	CreatedAt      time.Time         `json:"created_at"`
	Seq            uint64            `json:"seq"`
}

func encodeSnapshot(snap domain.AuctionSnapshot) ([]byte, error) {
	c := cachedAuction{
		Address:        snap.Address,
		Item:           snap.Item,
		Owner:          snap.Owner,
		EndTime:        snap.EndTime,
		HighestBid:     "0",
		HighestBidder:  snap.HighestBidder,
		Ended:          snap.Ended,
		OwnerClaimed:   snap.OwnerClaimed,
		PendingReturns: make(map[string]string, len(snap.PendingReturns)),
		CreatedAt:      snap.CreatedAt,
		Seq:            snap.Seq,
	}
	if snap.HighestBid != nil {
		c.HighestBid = snap.HighestBid.String()
	}
	for addr, v := range snap.PendingReturns {
		c.PendingReturns[addr.Hex()] = v.String()
	}
	return json.Marshal(c)
}

func decodeSnapshot(data []byte) (domain.AuctionSnapshot, error) {
	var c cachedAuction
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.AuctionSnapshot{}, err
	}
	bid, ok := new(big.Int).SetString(c.HighestBid, 10)
	if !ok {
		return domain.AuctionSnapshot{}, fmt.Errorf("invalid highest bid %q", c.HighestBid)
	}
	pending := make(map[common.Address]*big.Int, len(c.PendingReturns))
	for k, v := range c.PendingReturns {
		amount, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return domain.AuctionSnapshot{}, fmt.Errorf("invalid pending return %q for %s", v, k)
		}
		pending[common.HexToAddress(k)] = amount
	}
	return domain.AuctionSnapshot{
		Address:        c.Address,
		Item:           c.Item,
		Owner:          c.Owner,
		EndTime:        c.EndTime,
		HighestBid:     bid,
		HighestBidder:  c.HighestBidder,
		Ended:          c.Ended,
		OwnerClaimed:   c.OwnerClaimed,
		PendingReturns: pending,
		CreatedAt:      c.CreatedAt,
		Seq:            c.Seq,
	}, nil
}

// Set stores a snapshot with the cache TTL.
func (ac *AuctionCache) Set(ctx context.Context, snap domain.AuctionSnapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal auction %s: %w", snap.Address.Hex(), err)
	}

	key := auctionKey(snap.Address)
	pipe := ac.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, ac.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set auction %s: %w", snap.Address.Hex(), err)
	}
	return nil
}

// Get returns the cached snapshot, or domain.ErrNotFound on a miss.
func (ac *AuctionCache) Get(ctx context.Context, addr common.Address) (domain.AuctionSnapshot, error) {
	data, err := ac.rdb.HGet(ctx, auctionKey(addr), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AuctionSnapshot{}, domain.ErrNotFound
		}
		return domain.AuctionSnapshot{}, fmt.Errorf("redis: get auction %s: %w", addr.Hex(), err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return domain.AuctionSnapshot{}, fmt.Errorf("redis: unmarshal auction %s: %w", addr.Hex(), err)
	}
	return snap, nil
}

// Invalidate removes the cached snapshot.
func (ac *AuctionCache) Invalidate(ctx context.Context, addr common.Address) error {
	if err := ac.rdb.Del(ctx, auctionKey(addr)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate auction %s: %w", addr.Hex(), err)
	}
	return nil
}

var _ domain.AuctionCache = (*AuctionCache)(nil)
