package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to the archive bucket.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads objects back from the archive bucket.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies the event log of settled auctions to cold storage.
type Archiver interface {
	// ArchiveAuction uploads the event log of one auction. It reports false
	// when the archive already existed.
	ArchiveAuction(ctx context.Context, snap AuctionSnapshot) (bool, error)
}
