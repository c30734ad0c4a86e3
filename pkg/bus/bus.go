// Package bus carries settlement and cancellation payloads between ledgers.
//
// The ledger treats the bus as reliable-eventually and unordered: a message
// may arrive late, twice, or after a later one. Adapters only move opaque
// payloads; they never interpret them.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

var (
	ErrFeeTooHigh    = errors.New("quoted fee exceeds max fee")
	ErrUnknownLedger = errors.New("no route to ledger")
	ErrMisrouted     = errors.New("envelope addressed to another ledger")
	ErrUnattested    = errors.New("envelope attestation invalid")
	ErrClosed        = errors.New("bus closed")
)

// Handler receives an inbound payload from sender.
type Handler func(ctx context.Context, sender order.LedgerID, payload []byte) error

// Bus sends payloads to other ledgers and quotes their cost.
type Bus interface {
	Send(ctx context.Context, dest order.LedgerID, payload []byte, opts DeliveryOptions) (Receipt, error)
	QuoteFee(dest order.LedgerID, size int, opts DeliveryOptions) (Fee, error)
}

// DeliveryOptions tune how a message is executed on the destination.
type DeliveryOptions struct {
	GasLimit   uint64
	NativeDrop uint256.Int  // value airdropped to the executor on arrival
	MaxFee     *uint256.Int // nil means no cap
}

// Fee is denominated in the sending ledger's native asset.
type Fee struct {
	Native uint256.Int
}

// Receipt identifies a message accepted by the bus.
type Receipt struct {
	MessageID common.Hash
	Fee       Fee
}

// FeeSchedule is a linear fee oracle:
// Base + PerByte*size + PerGas*GasLimit + NativeDrop.
type FeeSchedule struct {
	Base    uint64
	PerByte uint64
	PerGas  uint64
}

func (s FeeSchedule) Quote(size int, opts DeliveryOptions) (Fee, error) {
	var fee Fee
	fee.Native.SetUint64(s.Base)
	fee.Native.Add(&fee.Native, new(uint256.Int).Mul(uint256.NewInt(s.PerByte), uint256.NewInt(uint64(size))))
	fee.Native.Add(&fee.Native, new(uint256.Int).Mul(uint256.NewInt(s.PerGas), uint256.NewInt(opts.GasLimit)))
	fee.Native.Add(&fee.Native, &opts.NativeDrop)
	if opts.MaxFee != nil && fee.Native.Gt(opts.MaxFee) {
		return Fee{}, fmt.Errorf("fee %s > max %s: %w", fee.Native.Dec(), opts.MaxFee.Dec(), ErrFeeTooHigh)
	}
	return fee, nil
}

// Attester signs message ids on behalf of the local ledger.
type Attester interface {
	Attest(msg []byte) []byte
}

// Verifier checks that an attestation was made by the claimed sender.
type Verifier interface {
	Verify(sender order.LedgerID, msg, sig []byte) bool
}
