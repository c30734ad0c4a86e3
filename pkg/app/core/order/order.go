package order

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// LedgerID identifies one ledger instance (origin or destination of an order).
type LedgerID uint32

// ID is the content address of an order: keccak256 over its ABI-encoded fields.
// Two orders with identical fields share one ID.
type ID [32]byte

// Hex returns the 0x-prefixed hex form of the identifier.
func (id ID) Hex() string { return hexutil.Encode(id[:]) }

func (id ID) String() string { return id.Hex() }

// IsZero reports whether the identifier is all zero bytes.
func (id ID) IsZero() bool { return id == ID{} }

func (id ID) MarshalText() ([]byte, error) { return []byte(id.Hex()), nil }

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := HexToID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// HexToID parses a 0x-prefixed 32-byte hex identifier.
func HexToID(s string) (ID, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid order id %q: %w", s, err)
	}
	if len(b) != len(ID{}) {
		return ID{}, fmt.Errorf("invalid order id length: %d", len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// NativeAsset is the sentinel asset identifier for a ledger's native value.
var NativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Order is a signed exchange intent between an offerer and a recipient.
// Orders are immutable; every field participates in the ID.
type Order struct {
	InputAmount  uint256.Int // locked on the origin ledger (<= 2^128-1)
	OutputAmount uint256.Int // delivered on the destination ledger (<= 2^128-1)
	InputAsset   common.Address
	OutputAsset  common.Address
	StartTime    uint32 // Unix seconds, inclusive
	EndTime      uint32 // Unix seconds
	OriginLedger LedgerID
	DestLedger   LedgerID
	Offerer      common.Address
	Recipient    common.Address
}

// IsSingleLedger reports whether origin and destination are the same ledger.
func (o *Order) IsSingleLedger() bool {
	return o.OriginLedger == o.DestLedger
}

// ID computes the order identifier.
// Layout: ten 32-byte words in field order, matching abi.encode of the struct.
func (o *Order) ID() ID {
	return ID(crypto.Keccak256Hash(o.abiWords()))
}

func (o *Order) abiWords() []byte {
	buf := make([]byte, 0, 10*32)
	in := o.InputAmount.Bytes32()
	out := o.OutputAmount.Bytes32()
	buf = append(buf, in[:]...)
	buf = append(buf, out[:]...)
	buf = append(buf, common.LeftPadBytes(o.InputAsset.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(o.OutputAsset.Bytes(), 32)...)
	buf = append(buf, uint32Word(o.StartTime)...)
	buf = append(buf, uint32Word(o.EndTime)...)
	buf = append(buf, uint32Word(uint32(o.OriginLedger))...)
	buf = append(buf, uint32Word(uint32(o.DestLedger))...)
	buf = append(buf, common.LeftPadBytes(o.Offerer.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(o.Recipient.Bytes(), 32)...)
	return buf
}

func uint32Word(v uint32) []byte {
	var w [32]byte
	binary.BigEndian.PutUint32(w[28:], v)
	return w[:]
}

// Status is the lifecycle state of an order within one ledger role.
// Unknown is the implicit default and is never stored.
type Status uint8

const (
	Unknown Status = iota
	Active
	Filled
	Settled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Active:
		return "active"
	case Filled:
		return "filled"
	case Settled:
		return "settled"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// IsTerminal returns true once no further transition is accepted.
func (s Status) IsTerminal() bool {
	return s == Settled || s == Cancelled
}
