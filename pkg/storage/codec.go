package storage

import (
	"fmt"

	"github.com/uhyunpark/crossledger/pkg/app/core/balance"
	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

const balanceSize = 64

func encodeBalance(b balance.Balance) []byte {
	out := make([]byte, 0, balanceSize)
	locked := b.Locked.Bytes32()
	unlocked := b.Unlocked.Bytes32()
	out = append(out, locked[:]...)
	return append(out, unlocked[:]...)
}

func decodeBalance(v []byte) (balance.Balance, error) {
	var b balance.Balance
	if len(v) != balanceSize {
		return b, fmt.Errorf("balance record: want %d bytes, got %d", balanceSize, len(v))
	}
	b.Locked.SetBytes(v[:32])
	b.Unlocked.SetBytes(v[32:])
	return b, nil
}

func decodeStatus(v []byte) (order.Status, error) {
	if len(v) != 1 || order.Status(v[0]) > order.Cancelled {
		return order.Unknown, fmt.Errorf("status record: invalid value %x", v)
	}
	return order.Status(v[0]), nil
}

func encodeQueue(ids []order.ID) []byte {
	out := make([]byte, 0, len(ids)*len(order.ID{}))
	for _, id := range ids {
		out = append(out, id[:]...)
	}
	return out
}

func decodeQueue(v []byte) ([]order.ID, error) {
	const n = len(order.ID{})
	if len(v)%n != 0 {
		return nil, fmt.Errorf("fill queue record: length %d not a multiple of %d", len(v), n)
	}
	ids := make([]order.ID, len(v)/n)
	for i := range ids {
		copy(ids[i][:], v[i*n:])
	}
	return ids, nil
}
