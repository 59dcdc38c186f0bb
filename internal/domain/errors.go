package domain

import "errors"

// Auction lifecycle and ledger errors. Callers match them with errors.Is.
var (
	ErrInvalidBiddingTime      = errors.New("invalid bidding time")
	ErrEmptyItem               = errors.New("item must not be empty")
	ErrAuctionAlreadyEnded     = errors.New("auction already ended")
	ErrBidNotHighEnough        = errors.New("bid not high enough")
	ErrAuctionNotEnded         = errors.New("auction not ended")
	ErrAuctionNotSettled       = errors.New("auction not settled")
	ErrAuctionAlreadyFinalized = errors.New("auction already finalized")
	ErrWinnerCannotWithdraw    = errors.New("winner cannot withdraw")
	ErrNoFundsToWithdraw       = errors.New("no funds to withdraw")
	ErrInvalidIndex            = errors.New("invalid index")
	ErrNotOwner                = errors.New("caller is not the owner")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrTransferRejected        = errors.New("transfer rejected by receiver")
	ErrTransferNotReverted     = errors.New("rejected transfer could not be reverted")
)

// Infrastructure errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
	ErrFaucetClosed = errors.New("faucet disabled")
)

// IsRetryable reports whether err is a usage error the caller can recover
// from by retrying with different input or later. Errors caused by terminal
// auction state are never retryable.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrBidNotHighEnough),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrLockHeld),
		errors.Is(err, ErrRateLimited):
		return true
	default:
		return false
	}
}
