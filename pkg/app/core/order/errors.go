package order

import "errors"

// Rejection reasons. Each one is a distinct tag so callers (and the API) can
// tell timing failures from permanent ones from already-consumed orders.
var (
	// malformed
	ErrZeroAmount       = errors.New("amount must be non-zero")
	ErrAmountTooLarge   = errors.New("amount exceeds 128 bits")
	ErrZeroAddress      = errors.New("account must be non-zero")
	ErrZeroAsset        = errors.New("asset must be non-zero")
	ErrInvalidTimeRange = errors.New("start time must precede end time")

	// timing
	ErrNotStarted = errors.New("order not started")
	ErrExpired    = errors.New("order expired")

	// routing
	ErrWrongLedger       = errors.New("order is not for this ledger")
	ErrUnsupportedLedger = errors.New("ledger not supported")
	ErrLedgerMismatch    = errors.New("message sender does not match order destination")
	ErrCrossLedgerCancel = errors.New("cross-ledger orders can only be cancelled from the destination ledger")

	// status
	ErrOrderExists      = errors.New("order already exists")
	ErrOrderNotActive   = errors.New("order not active")
	ErrAlreadyFilled    = errors.New("order already filled or cancelled on this ledger")
	ErrNoOrdersToSettle = errors.New("no orders to settle")

	// authority
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNotPermitted     = errors.New("caller not permitted")
	ErrPaused           = errors.New("ledger paused")
	ErrReentrantCall    = errors.New("reentrant call")
	ErrHookRunning      = errors.New("hook in progress")

	// consistency
	ErrBalanceInvariant = errors.New("balance invariant violated")
)

// Class groups rejection reasons by what a caller can do about them.
type Class uint8

const (
	ClassInternal   Class = iota // unexpected; not a validation outcome
	ClassRetryLater              // timing or pause; the same request may succeed later
	ClassNeverValid              // malformed, forged or unauthorized; never succeeds
	ClassConsumed                // the order already moved past the requested transition
)

func (c Class) String() string {
	switch c {
	case ClassRetryLater:
		return "retry_later"
	case ClassNeverValid:
		return "never_valid"
	case ClassConsumed:
		return "consumed"
	default:
		return "internal"
	}
}

var classes = []struct {
	err   error
	class Class
}{
	{ErrNotStarted, ClassRetryLater},
	{ErrPaused, ClassRetryLater},
	{ErrNoOrdersToSettle, ClassRetryLater},
	{ErrHookRunning, ClassRetryLater},

	{ErrExpired, ClassNeverValid},
	{ErrZeroAmount, ClassNeverValid},
	{ErrAmountTooLarge, ClassNeverValid},
	{ErrZeroAddress, ClassNeverValid},
	{ErrZeroAsset, ClassNeverValid},
	{ErrInvalidTimeRange, ClassNeverValid},
	{ErrWrongLedger, ClassNeverValid},
	{ErrUnsupportedLedger, ClassNeverValid},
	{ErrLedgerMismatch, ClassNeverValid},
	{ErrCrossLedgerCancel, ClassNeverValid},
	{ErrInvalidSignature, ClassNeverValid},
	{ErrNotPermitted, ClassNeverValid},
	{ErrReentrantCall, ClassNeverValid},

	{ErrOrderExists, ClassConsumed},
	{ErrOrderNotActive, ClassConsumed},
	{ErrAlreadyFilled, ClassConsumed},
}

// Classify maps an error returned by a ledger operation to its Class.
func Classify(err error) Class {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.class
		}
	}
	return ClassInternal
}
