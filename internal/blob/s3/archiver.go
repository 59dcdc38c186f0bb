package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// EventSource lists the event log of one contract.
type EventSource interface {
	ListByContract(ctx context.Context, contract common.Address, opts domain.ListOpts) ([]domain.Event, error)
}

// ArchiveImpl implements domain.Archiver. It uploads the full event log of
// a settled auction as JSONL, once. Stored events are left in place.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	events EventSource
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, events EventSource) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, reader: reader, events: events}
}

// ArchivePath returns the object key holding an auction's event log.
//
//	auctions/0xabc.../events.jsonl
func ArchivePath(addr common.Address) string {
	return fmt.Sprintf("auctions/%s/events.jsonl", addr.Hex())
}

// ArchiveAuction uploads the event log of snap's auction. It reports false
// without uploading when the archive already exists. Only settled auctions
// are accepted: once ended with nothing left in custody, an auction emits
// no further events, so the uploaded log is final.
func (a *ArchiveImpl) ArchiveAuction(ctx context.Context, snap domain.AuctionSnapshot) (bool, error) {
	if !snap.Ended {
		return false, fmt.Errorf("s3blob: archive %s: %w", snap.Address.Hex(), domain.ErrAuctionNotEnded)
	}
	if !snap.Settled() {
		return false, fmt.Errorf("s3blob: archive %s: %w", snap.Address.Hex(), domain.ErrAuctionNotSettled)
	}
	path := ArchivePath(snap.Address)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive %s: %w", snap.Address.Hex(), err)
	}
	if exists {
		return false, nil
	}

	events, err := a.events.ListByContract(ctx, snap.Address, domain.ListOpts{})
	if err != nil {
		return false, fmt.Errorf("s3blob: archive %s query: %w", snap.Address.Hex(), err)
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive %s marshal: %w", snap.Address.Hex(), err)
	}

	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return false, fmt.Errorf("s3blob: archive %s upload: %w", snap.Address.Hex(), err)
	}
	return true, nil
}

// ReadArchive returns the archived event log of addr, or domain.ErrNotFound
// when none was uploaded.
func (a *ArchiveImpl) ReadArchive(ctx context.Context, addr common.Address) ([]domain.Event, error) {
	rc, err := a.reader.Get(ctx, ArchivePath(addr))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("s3blob: read archive %s: %w", addr.Hex(), err)
	}
	defer rc.Close()

	var events []domain.Event
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e domain.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("s3blob: read archive %s: line %d: %w", addr.Hex(), len(events)+1, err)
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read archive %s: %w", addr.Hex(), err)
	}
	return events, nil
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
