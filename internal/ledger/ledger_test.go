package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestTransferMovesValue(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(alice, big.NewInt(100)))

	require.NoError(t, l.Transfer(alice, bob, big.NewInt(40)))

	assert.Equal(t, big.NewInt(60), l.Balance(alice))
	assert.Equal(t, big.NewInt(40), l.Balance(bob))
	assert.Equal(t, big.NewInt(100), l.TotalSupply())
}

func TestTransferInsufficientFunds(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(alice, big.NewInt(10)))

	err := l.Transfer(alice, bob, big.NewInt(11))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, big.NewInt(10), l.Balance(alice))
	assert.Equal(t, 0, l.Balance(bob).Sign())
}

func TestTransferRejectsNegativeAndNil(t *testing.T) {
	l := New()
	assert.ErrorIs(t, l.Transfer(alice, bob, big.NewInt(-1)), domain.ErrInvalidAmount)
	assert.ErrorIs(t, l.Transfer(alice, bob, nil), domain.ErrInvalidAmount)
	assert.ErrorIs(t, l.Mint(alice, big.NewInt(-5)), domain.ErrInvalidAmount)
}

func TestZeroTransferSkipsReceiver(t *testing.T) {
	l := New()
	called := false
	l.SetReceiver(bob, func(common.Address, *big.Int) error {
		called = true
		return nil
	})

	require.NoError(t, l.Transfer(alice, bob, new(big.Int)))
	assert.False(t, called)
}

func TestReceiverErrorReversesTransfer(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(alice, big.NewInt(50)))
	hookErr := errors.New("no thanks")
	l.SetReceiver(bob, func(from common.Address, amount *big.Int) error {
		assert.Equal(t, alice, from)
		assert.Equal(t, big.NewInt(20), amount)
		return hookErr
	})

	err := l.Transfer(alice, bob, big.NewInt(20))
	require.ErrorIs(t, err, domain.ErrTransferRejected)
	require.ErrorIs(t, err, hookErr)
	assert.Equal(t, big.NewInt(50), l.Balance(alice))
	assert.Equal(t, 0, l.Balance(bob).Sign())
}

func TestReceiverSpendingFundsBlocksReversal(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(alice, big.NewInt(50)))
	carol := common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	l.SetReceiver(bob, func(common.Address, *big.Int) error {
		require.NoError(t, l.Transfer(bob, carol, l.Balance(bob)))
		return errors.New("no thanks")
	})

	err := l.Transfer(alice, bob, big.NewInt(20))
	require.ErrorIs(t, err, domain.ErrTransferRejected)
	require.ErrorIs(t, err, domain.ErrTransferNotReverted)
	assert.Equal(t, big.NewInt(30), l.Balance(alice))
	assert.Equal(t, big.NewInt(20), l.Balance(carol))
}

func TestReceiverSeesCreditedBalance(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(alice, big.NewInt(5)))
	var seen *big.Int
	l.SetReceiver(bob, func(common.Address, *big.Int) error {
		seen = l.Balance(bob)
		return nil
	})

	require.NoError(t, l.Transfer(alice, bob, big.NewInt(5)))
	assert.Equal(t, big.NewInt(5), seen)

	l.SetReceiver(bob, nil)
	require.NoError(t, l.Transfer(bob, alice, big.NewInt(5)))
}

func TestSnapshotRestore(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(alice, big.NewInt(7)))
	require.NoError(t, l.Mint(bob, big.NewInt(3)))
	require.NoError(t, l.Transfer(bob, alice, big.NewInt(3)))

	snap := l.Snapshot()
	assert.Len(t, snap, 1, "zero balances are omitted")
	snap[alice].SetInt64(0)
	assert.Equal(t, big.NewInt(10), l.Balance(alice), "snapshot is a deep copy")

	restored := New()
	require.NoError(t, restored.Restore(l.Snapshot()))
	assert.Equal(t, big.NewInt(10), restored.Balance(alice))
	assert.Equal(t, big.NewInt(10), restored.TotalSupply())

	err := restored.Restore(map[common.Address]*big.Int{alice: big.NewInt(-1)})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
