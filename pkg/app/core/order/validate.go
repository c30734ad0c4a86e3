package order

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MaxU128 is the largest magnitude an amount or balance counter may hold.
var MaxU128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)

// FitsU128 reports whether v is representable in 128 bits.
func FitsU128(v *uint256.Int) bool {
	return v.BitLen() <= 128
}

// Validate checks the static well-formedness of an order.
// Time windows, ledger routing and status are checked by the caller.
func Validate(o *Order) error {
	if o.InputAmount.IsZero() || o.OutputAmount.IsZero() {
		return ErrZeroAmount
	}
	if !FitsU128(&o.InputAmount) || !FitsU128(&o.OutputAmount) {
		return ErrAmountTooLarge
	}
	if o.Offerer == (common.Address{}) || o.Recipient == (common.Address{}) {
		return ErrZeroAddress
	}
	if o.InputAsset == (common.Address{}) || o.OutputAsset == (common.Address{}) {
		return ErrZeroAsset
	}
	if o.StartTime >= o.EndTime {
		return ErrInvalidTimeRange
	}
	return nil
}

// CheckDepositWindow requires StartTime <= now < EndTime.
func CheckDepositWindow(o *Order, now uint32) error {
	if now < o.StartTime {
		return ErrNotStarted
	}
	if now >= o.EndTime {
		return ErrExpired
	}
	return nil
}

// CheckFillWindow requires now <= EndTime. Fills may land before StartTime.
func CheckFillWindow(o *Order, now uint32) error {
	if now > o.EndTime {
		return ErrExpired
	}
	return nil
}
