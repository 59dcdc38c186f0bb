// Package ledger holds native value balances for externally owned accounts
// and auction contracts. It is the custody layer behind bids and payouts:
// a bid moves value from the bidder into the auction's account and a
// withdrawal pushes it back out.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Receiver is invoked after value lands in an account that registered it,
// the way a contract's receive function runs during a value transfer. A
// non-nil error reverses the transfer. Receivers run without the ledger
// lock held and may call back into auction operations.
type Receiver func(from common.Address, amount *big.Int) error

// Ledger is an in-memory balance table. It is safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	balances  map[common.Address]*big.Int
	receivers map[common.Address]Receiver
	supply    *big.Int
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		balances:  make(map[common.Address]*big.Int),
		receivers: make(map[common.Address]Receiver),
		supply:    new(big.Int),
	}
}

// Mint credits amount to an account out of thin air. It is used for genesis
// allocations and the development faucet.
func (l *Ledger) Mint(to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(to, amount)
	l.supply.Add(l.supply, amount)
	return nil
}

// Balance returns a copy of the balance held by addr.
func (l *Ledger) Balance(addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// TotalSupply returns the sum of everything ever minted.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.supply)
}

// SetReceiver registers (or with nil, removes) the receive hook for addr.
func (l *Ledger) SetReceiver(addr common.Address, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r == nil {
		delete(l.receivers, addr)
		return
	}
	l.receivers[addr] = r
}

// Transfer moves amount from one account to another. Zero-value transfers
// succeed without touching balances or invoking the receiver.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}

	l.mu.Lock()
	if l.balanceLocked(from).Cmp(amount) < 0 {
		l.mu.Unlock()
		return fmt.Errorf("ledger: transfer %s from %s: %w", amount, from.Hex(), domain.ErrInsufficientFunds)
	}
	l.debit(from, amount)
	l.credit(to, amount)
	recv := l.receivers[to]
	l.mu.Unlock()

	if recv == nil {
		return nil
	}

	hookErr := recv(from, amount)
	if hookErr == nil {
		return nil
	}

	// Undo the move. The receiver may have spent the funds through a nested
	// call before failing, in which case the value stays with the receiver
	// and the error carries ErrTransferNotReverted.
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balanceLocked(to).Cmp(amount) < 0 {
		return fmt.Errorf("ledger: revert transfer to %s: %w",
			to.Hex(), errors.Join(domain.ErrTransferRejected, domain.ErrTransferNotReverted, hookErr))
	}
	l.debit(to, amount)
	l.credit(from, amount)
	return fmt.Errorf("ledger: transfer to %s: %w", to.Hex(), errors.Join(domain.ErrTransferRejected, hookErr))
}

// Snapshot returns a deep copy of every non-zero balance.
func (l *Ledger) Snapshot() map[common.Address]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[common.Address]*big.Int, len(l.balances))
	for addr, b := range l.balances {
		if b.Sign() == 0 {
			continue
		}
		out[addr] = new(big.Int).Set(b)
	}
	return out
}

// Restore replaces all balances. The total supply becomes the sum of the
// restored balances. Registered receivers are kept.
func (l *Ledger) Restore(balances map[common.Address]*big.Int) error {
	fresh := make(map[common.Address]*big.Int, len(balances))
	supply := new(big.Int)
	for addr, b := range balances {
		if err := checkAmount(b); err != nil {
			return fmt.Errorf("ledger: restore %s: %w", addr.Hex(), err)
		}
		fresh[addr] = new(big.Int).Set(b)
		supply.Add(supply, b)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = fresh
	l.supply = supply
	return nil
}

func (l *Ledger) balanceLocked(addr common.Address) *big.Int {
	if b, ok := l.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) credit(addr common.Address, amount *big.Int) {
	b, ok := l.balances[addr]
	if !ok {
		b = new(big.Int)
		l.balances[addr] = b
	}
	b.Add(b, amount)
}

func (l *Ledger) debit(addr common.Address, amount *big.Int) {
	b := l.balances[addr]
	b.Sub(b, amount)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}
