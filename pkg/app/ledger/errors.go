package ledger

import (
	"errors"

	"github.com/uhyunpark/crossledger/pkg/app/core/asset"
	"github.com/uhyunpark/crossledger/pkg/app/core/balance"
	"github.com/uhyunpark/crossledger/pkg/app/core/hook"
	"github.com/uhyunpark/crossledger/pkg/app/core/message"
	"github.com/uhyunpark/crossledger/pkg/app/core/order"
	"github.com/uhyunpark/crossledger/pkg/bus"
)

var ErrMintUnsupported = errors.New("asset backend cannot mint")

var collaboratorClasses = []struct {
	err   error
	class order.Class
}{
	{asset.ErrInsufficientFunds, order.ClassRetryLater},
	{bus.ErrFeeTooHigh, order.ClassRetryLater},

	{hook.ErrInvalidHook, order.ClassNeverValid},
	{hook.ErrInsufficientHookOutput, order.ClassNeverValid},
	{balance.ErrOverflow, order.ClassNeverValid},
	{balance.ErrInsufficientUnlocked, order.ClassNeverValid},
	{message.ErrMalformedPayload, order.ClassNeverValid},
	{message.ErrUnknownMessage, order.ClassNeverValid},
	{message.ErrTooManyFills, order.ClassNeverValid},
	{bus.ErrUnknownLedger, order.ClassNeverValid},
	{asset.ErrOverflow, order.ClassNeverValid},
	{ErrMintUnsupported, order.ClassNeverValid},
}

// Classify maps any error returned by a Ledger operation to a retry class.
func Classify(err error) order.Class {
	if c := order.Classify(err); c != order.ClassInternal {
		return c
	}
	for _, c := range collaboratorClasses {
		if errors.Is(err, c.err) {
			return c.class
		}
	}
	return order.ClassInternal
}
