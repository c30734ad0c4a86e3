package order

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// EncodedSize is the length of the fixed binary encoding of an Order.
//
//	inputAmount(16) outputAmount(16) inputAsset(20) outputAsset(20)
//	startTime(4) endTime(4) origin(4) dest(4) offerer(20) recipient(20)
const EncodedSize = 16 + 16 + 20 + 20 + 4 + 4 + 4 + 4 + 20 + 20

// MarshalBinary encodes the order in the fixed layout used by the store.
// Amounts must already fit 128 bits (see Validate).
func (o *Order) MarshalBinary() ([]byte, error) {
	if !FitsU128(&o.InputAmount) || !FitsU128(&o.OutputAmount) {
		return nil, ErrAmountTooLarge
	}
	buf := make([]byte, 0, EncodedSize)
	in := o.InputAmount.Bytes32()
	out := o.OutputAmount.Bytes32()
	buf = append(buf, in[16:]...)
	buf = append(buf, out[16:]...)
	buf = append(buf, o.InputAsset.Bytes()...)
	buf = append(buf, o.OutputAsset.Bytes()...)
	buf = binary.BigEndian.AppendUint32(buf, o.StartTime)
	buf = binary.BigEndian.AppendUint32(buf, o.EndTime)
	buf = binary.BigEndian.AppendUint32(buf, uint32(o.OriginLedger))
	buf = binary.BigEndian.AppendUint32(buf, uint32(o.DestLedger))
	buf = append(buf, o.Offerer.Bytes()...)
	buf = append(buf, o.Recipient.Bytes()...)
	return buf, nil
}

// UnmarshalBinary decodes an order produced by MarshalBinary.
func (o *Order) UnmarshalBinary(b []byte) error {
	if len(b) != EncodedSize {
		return fmt.Errorf("order encoding: want %d bytes, got %d", EncodedSize, len(b))
	}
	o.InputAmount.SetBytes(b[0:16])
	o.OutputAmount.SetBytes(b[16:32])
	o.InputAsset = common.BytesToAddress(b[32:52])
	o.OutputAsset = common.BytesToAddress(b[52:72])
	o.StartTime = binary.BigEndian.Uint32(b[72:76])
	o.EndTime = binary.BigEndian.Uint32(b[76:80])
	o.OriginLedger = LedgerID(binary.BigEndian.Uint32(b[80:84]))
	o.DestLedger = LedgerID(binary.BigEndian.Uint32(b[84:88]))
	o.Offerer = common.BytesToAddress(b[88:108])
	o.Recipient = common.BytesToAddress(b[108:128])
	return nil
}
