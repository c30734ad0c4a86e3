// Package message defines the binary payloads exchanged between ledgers.
//
// Settlement: 0x00 | filler(20) | N(u16 BE) | N x id(32)
// Cancel:     0x01 | id(32)
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

// Kind is the one-byte discriminator leading every payload.
type Kind uint8

const (
	KindSettlement Kind = 0x00
	KindCancel     Kind = 0x01
)

func (k Kind) String() string {
	switch k {
	case KindSettlement:
		return "settlement"
	case KindCancel:
		return "cancel"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	settlementHeader = 1 + common.AddressLength + 2
	idSize           = 32

	// CancelSize is the fixed length of a cancellation payload.
	CancelSize = 1 + idSize

	// MaxFillsPerSettle is the default batch cap used when a ledger does not
	// configure one.
	MaxFillsPerSettle = 100
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownMessage   = errors.New("unknown message kind")
	ErrTooManyFills     = errors.New("too many fills for one settlement")
)

// SettlementSize is the payload length of a settlement carrying n ids.
func SettlementSize(n int) int {
	return settlementHeader + idSize*n
}

// Message is a decoded payload. Filler and IDs are set for settlements,
// OrderID for cancellations.
type Message struct {
	Kind    Kind
	Filler  common.Address
	IDs     []order.ID
	OrderID order.ID
}

// EncodeCancel builds a cancellation payload.
func EncodeCancel(id order.ID) []byte {
	buf := make([]byte, 0, CancelSize)
	buf = append(buf, byte(KindCancel))
	return append(buf, id[:]...)
}

// EncodeSettlement builds a settlement payload.
func EncodeSettlement(filler common.Address, ids []order.ID) ([]byte, error) {
	if len(ids) > math.MaxUint16 {
		return nil, fmt.Errorf("%d ids: %w", len(ids), ErrTooManyFills)
	}
	buf := make([]byte, 0, SettlementSize(len(ids)))
	buf = append(buf, byte(KindSettlement))
	buf = append(buf, filler.Bytes()...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(ids)))
	for _, id := range ids {
		buf = append(buf, id[:]...)
	}
	return buf, nil
}

// Decode parses a payload. The length must match the declared shape exactly.
func Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return Message{}, fmt.Errorf("empty payload: %w", ErrMalformedPayload)
	}
	switch k := Kind(payload[0]); k {
	case KindCancel:
		if len(payload) != CancelSize {
			return Message{}, fmt.Errorf("cancel payload of %d bytes: %w", len(payload), ErrMalformedPayload)
		}
		var id order.ID
		copy(id[:], payload[1:])
		return Message{Kind: k, OrderID: id}, nil

	case KindSettlement:
		if len(payload) < settlementHeader {
			return Message{}, fmt.Errorf("settlement payload of %d bytes: %w", len(payload), ErrMalformedPayload)
		}
		n := int(binary.BigEndian.Uint16(payload[1+common.AddressLength:]))
		if len(payload) != SettlementSize(n) {
			return Message{}, fmt.Errorf("settlement declares %d ids in %d bytes: %w", n, len(payload), ErrMalformedPayload)
		}
		m := Message{
			Kind:   k,
			Filler: common.BytesToAddress(payload[1 : 1+common.AddressLength]),
			IDs:    make([]order.ID, n),
		}
		body := payload[settlementHeader:]
		for i := range m.IDs {
			copy(m.IDs[i][:], body[i*idSize:])
		}
		return m, nil

	default:
		return Message{}, fmt.Errorf("discriminator 0x%02x: %w", payload[0], ErrUnknownMessage)
	}
}
