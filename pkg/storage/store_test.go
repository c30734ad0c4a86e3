package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/crossledger/pkg/app/core/balance"
	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	ps, err := NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })
	return map[string]Store{"memory": NewMemory(), "pebble": ps}
}

func testOrder() order.Order {
	return order.Order{
		InputAmount:  *uint256.NewInt(100),
		OutputAmount: *uint256.NewInt(100),
		InputAsset:   common.HexToAddress("0xa1"),
		OutputAsset:  common.HexToAddress("0xb2"),
		StartTime:    10,
		EndTime:      20,
		OriginLedger: 1,
		DestLedger:   2,
		Offerer:      common.HexToAddress("0xc3"),
		Recipient:    common.HexToAddress("0xd4"),
	}
}

func TestCommitAndDiscard(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			o := testOrder()
			id := o.ID()
			acct, asset := o.Offerer, o.InputAsset

			tx := s.Begin()
			require.NoError(t, tx.PutOrder(&o))
			require.NoError(t, tx.SetOriginStatus(id, order.Active))
			require.NoError(t, tx.PutBalance(acct, asset, balance.Balance{Locked: *uint256.NewInt(100)}))

			// own writes visible before commit
			st, err := tx.OriginStatus(id)
			require.NoError(t, err)
			assert.Equal(t, order.Active, st)
			require.NoError(t, tx.Commit())
			require.ErrorIs(t, tx.Commit(), ErrTxClosed)

			// discarded writes never land
			tx = s.Begin()
			require.NoError(t, tx.SetOriginStatus(id, order.Settled))
			require.NoError(t, tx.PutBalance(acct, asset, balance.Balance{}))
			tx.Discard()

			tx = s.Begin()
			defer tx.Discard()
			got, ok, err := tx.Order(id)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, o, got)

			st, err = tx.OriginStatus(id)
			require.NoError(t, err)
			assert.Equal(t, order.Active, st)

			dst, err := tx.DestStatus(id)
			require.NoError(t, err)
			assert.Equal(t, order.Unknown, dst, "namespaces are independent")

			b, err := tx.Balance(acct, asset)
			require.NoError(t, err)
			assert.Equal(t, uint64(100), b.Locked.Uint64())
		})
	}
}

func TestFillQueues(t *testing.T) {
	f1 := common.HexToAddress("0xf1")
	f2 := common.HexToAddress("0xf2")
	ids := []order.ID{{1}, {2}, {3}}

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			tx := s.Begin()
			require.NoError(t, tx.SetFillQueue(1, f2, ids[:1]))
			require.NoError(t, tx.SetFillQueue(1, f1, ids))
			require.NoError(t, tx.SetFillQueue(7, f1, ids[:2]))
			require.NoError(t, tx.Commit())

			tx = s.Begin()
			q, err := tx.FillQueue(1, f1)
			require.NoError(t, err)
			assert.Equal(t, ids, q)

			fillers, err := tx.QueuedFillers(1)
			require.NoError(t, err)
			assert.Equal(t, []common.Address{f1, f2}, fillers)

			require.NoError(t, tx.SetFillQueue(1, f1, nil))
			fillers, err = tx.QueuedFillers(1)
			require.NoError(t, err)
			assert.Equal(t, []common.Address{f2}, fillers)
			require.NoError(t, tx.Commit())

			tx = s.Begin()
			defer tx.Discard()
			q, err = tx.FillQueue(1, f1)
			require.NoError(t, err)
			assert.Empty(t, q)
		})
	}
}

func TestPebbleReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	o := testOrder()

	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	tx := s.Begin()
	require.NoError(t, tx.PutOrder(&o))
	require.NoError(t, tx.SetDestStatus(o.ID(), order.Filled))
	require.NoError(t, tx.Commit())
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()
	tx = s.Begin()
	defer tx.Discard()
	st, err := tx.DestStatus(o.ID())
	require.NoError(t, err)
	assert.Equal(t, order.Filled, st)
}

func TestKeyUpperBound(t *testing.T) {
	assert.Equal(t, []byte("fq;"), keyUpperBound([]byte("fq:")))
	assert.Equal(t, []byte{0x01}, keyUpperBound([]byte{0x00, 0xff}))
	assert.Nil(t, keyUpperBound([]byte{0xff}))
}

func TestFileJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	j, err := NewFileJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Append("one"))
	require.NoError(t, j.Append("two"))
	require.NoError(t, j.Close())
	assert.Error(t, j.Append("three"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, strings.Fields(string(data)))
}
