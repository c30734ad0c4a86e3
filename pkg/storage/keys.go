package storage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

// Key schema
//
//	ord:<id32>                    → order (order.EncodedSize bytes)
//	so:<id32>                     → origin status (1 byte)
//	sd:<id32>                     → destination status (1 byte)
//	bal:<account20><asset20>      → balance (locked32 ‖ unlocked32)
//	fq:<origin4><filler20>        → fill queue (concatenated ids)
//
// Origin and destination status live under separate prefixes because the two
// roles accept disjoint transitions for the same identifier.
const (
	prefixOrder      = "ord:"
	prefixOriginStat = "so:"
	prefixDestStat   = "sd:"
	prefixBalance    = "bal:"
	prefixFillQueue  = "fq:"
)

func orderKey(id order.ID) []byte { return append([]byte(prefixOrder), id[:]...) }

func originStatusKey(id order.ID) []byte { return append([]byte(prefixOriginStat), id[:]...) }

func destStatusKey(id order.ID) []byte { return append([]byte(prefixDestStat), id[:]...) }

func balanceKey(account, asset common.Address) []byte {
	k := make([]byte, 0, len(prefixBalance)+2*common.AddressLength)
	k = append(k, prefixBalance...)
	k = append(k, account.Bytes()...)
	return append(k, asset.Bytes()...)
}

// fillQueuePrefix covers every filler's queue towards one origin ledger.
func fillQueuePrefix(origin order.LedgerID) []byte {
	return binary.BigEndian.AppendUint32([]byte(prefixFillQueue), uint32(origin))
}

func fillQueueKey(origin order.LedgerID, filler common.Address) []byte {
	return append(fillQueuePrefix(origin), filler.Bytes()...)
}

// fillerFromQueueKey extracts the filler address from a fill queue key.
func fillerFromQueueKey(k []byte) common.Address {
	return common.BytesToAddress(k[len(prefixFillQueue)+4:])
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff; no upper bound
}
