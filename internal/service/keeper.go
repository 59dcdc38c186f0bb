package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Keeper ends auctions once their deadline has passed and archives the
// event logs of settled auctions to cold storage.
type Keeper struct {
	svc      *AuctionService
	auctions domain.AuctionStore
	archiver domain.Archiver
	caller   common.Address
	pollDur  time.Duration
	archived map[common.Address]bool
	logger   *slog.Logger
}

// NewKeeper creates a Keeper. caller is the account recorded as ending the
// auctions. archiver may be nil to disable archiving.
func NewKeeper(
	svc *AuctionService,
	auctions domain.AuctionStore,
	archiver domain.Archiver,
	caller common.Address,
	pollInterval time.Duration,
	logger *slog.Logger,
) *Keeper {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Keeper{
		svc:      svc,
		auctions: auctions,
		archiver: archiver,
		caller:   caller,
		pollDur:  pollInterval,
		archived: make(map[common.Address]bool),
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run ticks until ctx is done. Call in a goroutine.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.pollDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := k.Tick(ctx); err != nil {
				k.logger.ErrorContext(ctx, "keeper tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick runs one pass: end expired auctions, then archive settled ones.
func (k *Keeper) Tick(ctx context.Context) error {
	ended, endErr := k.svc.EndExpired(ctx, k.caller)
	if len(ended) > 0 {
		k.logger.InfoContext(ctx, "keeper ended auctions", slog.Int("count", len(ended)))
	}
	if k.archiver == nil {
		return endErr
	}
	return errors.Join(endErr, k.archive(ctx))
}

func (k *Keeper) archive(ctx context.Context) error {
	snaps, err := k.auctions.ListEnded(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, snap := range snaps {
		// Ended auctions keep emitting FundsWithdrawn until paid out.
		if k.archived[snap.Address] || !snap.Settled() {
			continue
		}
		written, err := k.archiver.ArchiveAuction(ctx, snap)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		k.archived[snap.Address] = true
		if written {
			k.logger.InfoContext(ctx, "keeper archived auction", slog.String("auction", snap.Address.Hex()))
		}
	}
	return errors.Join(errs...)
}

// Archived reports whether the keeper has archived addr in this process.
func (k *Keeper) Archived(addr common.Address) bool {
	return k.archived[addr]
}
