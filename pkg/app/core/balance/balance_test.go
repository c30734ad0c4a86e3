package balance

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

type key struct{ account, asset common.Address }

type mapTable struct {
	m map[key]Balance

	writes  int
	failAt  int // 1-based write index that fails; 0 disables
	errFail error
}

func newMapTable() *mapTable {
	return &mapTable{m: make(map[key]Balance), errFail: errors.New("injected write failure")}
}

func (t *mapTable) Balance(account, asset common.Address) (Balance, error) {
	return t.m[key{account, asset}], nil
}

func (t *mapTable) PutBalance(account, asset common.Address, b Balance) error {
	t.writes++
	if t.failAt != 0 && t.writes == t.failAt {
		return t.errFail
	}
	t.m[key{account, asset}] = b
	return nil
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	token = common.HexToAddress("0x000000000000000000000000000000000000700c")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestLockUnlock(t *testing.T) {
	tbl := newMapTable()

	require.NoError(t, Lock(tbl, alice, token, u(100)))
	require.NoError(t, Unlock(tbl, alice, token, u(40)))

	b, _ := tbl.Balance(alice, token)
	assert.Equal(t, uint64(60), b.Locked.Uint64())
	assert.Equal(t, uint64(40), b.Unlocked.Uint64())

	err := Unlock(tbl, alice, token, u(61))
	require.ErrorIs(t, err, ErrInsufficientLocked)

	b2, _ := tbl.Balance(alice, token)
	assert.Equal(t, b, b2, "failed unlock must not mutate")
}

func TestLockOverflow(t *testing.T) {
	tbl := newMapTable()
	require.NoError(t, Lock(tbl, alice, token, order.MaxU128))

	err := Lock(tbl, alice, token, u(1))
	require.ErrorIs(t, err, ErrOverflow)

	b, _ := tbl.Balance(alice, token)
	assert.True(t, b.Locked.Eq(order.MaxU128))
}

func TestCreditDebit(t *testing.T) {
	tbl := newMapTable()
	require.NoError(t, Credit(tbl, bob, token, u(10)))
	require.ErrorIs(t, Debit(tbl, bob, token, u(11)), ErrInsufficientUnlocked)
	require.NoError(t, Debit(tbl, bob, token, u(10)))

	b, _ := tbl.Balance(bob, token)
	assert.True(t, b.Unlocked.IsZero())
}

func TestNoRevertVariants(t *testing.T) {
	tbl := newMapTable()
	assert.False(t, DecreaseLockedNoRevert(tbl, alice, token, u(1)))

	require.NoError(t, Lock(tbl, alice, token, u(5)))
	assert.True(t, DecreaseLockedNoRevert(tbl, alice, token, u(5)))

	require.NoError(t, Credit(tbl, bob, token, order.MaxU128))
	assert.False(t, IncreaseUnlockedNoRevert(tbl, bob, token, u(1)))
}

func TestTransferLockedToUnlocked(t *testing.T) {
	tbl := newMapTable()
	require.NoError(t, Lock(tbl, alice, token, u(100)))

	require.True(t, TransferLockedToUnlocked(tbl, alice, bob, token, u(100)))

	a, _ := tbl.Balance(alice, token)
	b, _ := tbl.Balance(bob, token)
	assert.True(t, a.Locked.IsZero())
	assert.Equal(t, uint64(100), b.Unlocked.Uint64())
}

func TestTransferLockedToUnlockedSameAccount(t *testing.T) {
	tbl := newMapTable()
	require.NoError(t, Lock(tbl, alice, token, u(7)))
	require.True(t, TransferLockedToUnlocked(tbl, alice, alice, token, u(7)))

	a, _ := tbl.Balance(alice, token)
	assert.True(t, a.Locked.IsZero())
	assert.Equal(t, uint64(7), a.Unlocked.Uint64())
}

// A failure between the debit and the credit leaves both records untouched.
func TestTransferLockedToUnlockedRollback(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, tbl *mapTable)
	}{
		{
			name: "credit overflow",
			setup: func(t *testing.T, tbl *mapTable) {
				require.NoError(t, Credit(tbl, bob, token, order.MaxU128))
			},
		},
		{
			name: "credit write refused",
			setup: func(t *testing.T, tbl *mapTable) {
				// next two writes: debit (ok), credit (fails)
				tbl.failAt = tbl.writes + 2
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tbl := newMapTable()
			require.NoError(t, Lock(tbl, alice, token, u(100)))
			tc.setup(t, tbl)

			beforeA, _ := tbl.Balance(alice, token)
			beforeB, _ := tbl.Balance(bob, token)

			ok := TransferLockedToUnlocked(tbl, alice, bob, token, u(100))
			require.False(t, ok)

			afterA, _ := tbl.Balance(alice, token)
			afterB, _ := tbl.Balance(bob, token)
			assert.Equal(t, beforeA, afterA)
			assert.Equal(t, beforeB, afterB)
		})
	}
}

func TestTransferLockedToUnlockedInsufficient(t *testing.T) {
	tbl := newMapTable()
	require.NoError(t, Lock(tbl, alice, token, u(99)))
	assert.False(t, TransferLockedToUnlocked(tbl, alice, bob, token, u(100)))

	a, _ := tbl.Balance(alice, token)
	assert.Equal(t, uint64(99), a.Locked.Uint64())
	b, _ := tbl.Balance(bob, token)
	assert.True(t, b.Unlocked.IsZero())
}
