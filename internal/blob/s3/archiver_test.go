package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

type memBucket struct {
	objects map[string][]byte
	puts    int
}

func newMemBucket() *memBucket { return &memBucket{objects: make(map[string][]byte)} }

func (b *memBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = raw
	b.puts++
	return nil
}

func (b *memBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *memBucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}


func (b *memBucket) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

type staticEvents []domain.Event

func (s staticEvents) ListByContract(context.Context, common.Address, domain.ListOpts) ([]domain.Event, error) {
	return s, nil
}

var auctionAddr = common.HexToAddress("0xa16E02E87b7454126E5E10d957A927A7F5B5d2be")

func sampleEvents() staticEvents {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	bid := domain.NewEvent(auctionAddr, 1, domain.EventBidPlaced, at)
	bid.Account = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bid.Amount = big.NewInt(1e18)
	end := domain.NewEvent(auctionAddr, 2, domain.EventAuctionEnded, at.Add(time.Hour))
	end.Account = bid.Account
	end.Amount = big.NewInt(1e18)
	return staticEvents{bid, end}
}

func TestArchiveAuctionOnce(t *testing.T) {
	ctx := context.Background()
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, sampleEvents())
	snap := domain.AuctionSnapshot{Address: auctionAddr, Ended: true}

	uploaded, err := a.ArchiveAuction(ctx, snap)
	require.NoError(t, err)
	assert.True(t, uploaded)
	assert.Contains(t, bucket.objects, "auctions/0xa16E02E87b7454126E5E10d957A927A7F5B5d2be/events.jsonl")

	uploaded, err = a.ArchiveAuction(ctx, snap)
	require.NoError(t, err)
	assert.False(t, uploaded)
	assert.Equal(t, 1, bucket.puts)

	events, err := a.ReadArchive(ctx, auctionAddr)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventAuctionEnded, events[1].Kind)
	assert.Equal(t, 0, big.NewInt(1e18).Cmp(events[0].Amount))
}

func TestArchiveAuctionRefusesLiveAuction(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, sampleEvents())

	_, err := a.ArchiveAuction(context.Background(), domain.AuctionSnapshot{Address: auctionAddr})
	assert.ErrorIs(t, err, domain.ErrAuctionNotEnded)
	assert.Empty(t, bucket.objects)
}

func TestArchiveAuctionRefusesUnsettledAuction(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, sampleEvents())

	snap := domain.AuctionSnapshot{Address: auctionAddr, Ended: true, HighestBid: big.NewInt(1e18)}
	_, err := a.ArchiveAuction(context.Background(), snap)
	assert.ErrorIs(t, err, domain.ErrAuctionNotSettled)
	assert.Empty(t, bucket.objects)

	snap.OwnerClaimed = true
	snap.PendingReturns = map[common.Address]*big.Int{auctionAddr: big.NewInt(1)}
	_, err = a.ArchiveAuction(context.Background(), snap)
	assert.ErrorIs(t, err, domain.ErrAuctionNotSettled)

	snap.PendingReturns = nil
	uploaded, err := a.ArchiveAuction(context.Background(), snap)
	require.NoError(t, err)
	assert.True(t, uploaded)
}

func TestReadArchiveMissing(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(bucket, bucket, nil)

	_, err := a.ReadArchive(context.Background(), auctionAddr)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", endpointURL("http://localhost:9000", true))
	assert.Equal(t, "https://minio.internal", endpointURL("minio.internal", true))
	assert.Equal(t, "http://minio.internal", endpointURL("minio.internal", false))
}
