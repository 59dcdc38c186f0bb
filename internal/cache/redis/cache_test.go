package redis

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

func TestSnapshotCodecKeepsBigAmounts(t *testing.T) {
	bidder := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	huge, ok := new(big.Int).SetString("98765432109876543210987654321", 10)
	require.True(t, ok)

	in := domain.AuctionSnapshot{
		Address:        common.HexToAddress("0xa16E02E87b7454126E5E10d957A927A7F5B5d2be"),
		Item:           "Test Item",
		Owner:          common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		EndTime:        time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC),
		HighestBid:     huge,
		HighestBidder:  bidder,
		PendingReturns: map[common.Address]*big.Int{bidder: big.NewInt(1)},
		CreatedAt:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Seq:            7,
	}

	data, err := encodeSnapshot(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"highest_bid":"98765432109876543210987654321"`)

	out, err := decodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, 0, huge.Cmp(out.HighestBid))
	assert.Equal(t, int64(1), out.PendingReturns[bidder].Int64())
	assert.Equal(t, in.Address, out.Address)
	assert.True(t, in.EndTime.Equal(out.EndTime))
	assert.Equal(t, uint64(7), out.Seq)
}

func TestDecodeSnapshotRejectsBadAmount(t *testing.T) {
	_, err := decodeSnapshot([]byte(`{"highest_bid":"abc"}`))
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	addr := common.HexToAddress("0xa16E02E87b7454126E5E10d957A927A7F5B5d2be")
	assert.Equal(t, "auction:0xa16E02E87b7454126E5E10d957A927A7F5B5d2be", auctionKey(addr))
	assert.Equal(t, "lock:auctionhouse:tx", lockKey("auctionhouse:tx"))
	assert.Equal(t, "replay:0xabc", replayKey("0xabc"))
	assert.Equal(t, "ratelimit:ip:1.2.3.4", rateLimitKey("ip:1.2.3.4"))
	assert.True(t, hasPattern("auction:*"))
	assert.False(t, hasPattern("auction-events"))
}

func TestOptions(t *testing.T) {
	opts, err := options(ClientConfig{Addr: "localhost:6379", DB: 2, PoolSize: 5, TLSEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	require.NotNil(t, opts.TLSConfig)

	opts, err = options(ClientConfig{Addr: "rediss://:pw@cache.internal:6380/3", PoolSize: 7})
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.NotNil(t, opts.TLSConfig)

	_, err = options(ClientConfig{Addr: "redis://host:port:bad/x"})
	assert.Error(t, err)
}

func TestStreamPayload(t *testing.T) {
	p, ok := streamPayload(map[string]any{"payload": `{"kind":"BidPlaced"}`})
	require.True(t, ok)
	assert.JSONEq(t, `{"kind":"BidPlaced"}`, string(p))

	_, ok = streamPayload(map[string]any{"other": "x"})
	assert.False(t, ok)
}
