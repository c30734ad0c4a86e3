// Package balance implements the per-(account, asset) locked/unlocked ledger.
//
// Locked value is reserved against an order and not yet earned; unlocked value
// is free to withdraw. Every operation reads one record, checks it, and writes
// it back in full, so no counter is ever observed negative or wrapped.
package balance

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

var (
	ErrOverflow             = errors.New("balance overflow")
	ErrInsufficientLocked   = errors.New("insufficient locked balance")
	ErrInsufficientUnlocked = errors.New("insufficient unlocked balance")
)

// Balance holds both counters of one (account, asset) pair.
type Balance struct {
	Locked   uint256.Int
	Unlocked uint256.Int
}

// Table is the storage seam the ledger operates on.
type Table interface {
	Balance(account, asset common.Address) (Balance, error)
	PutBalance(account, asset common.Address, b Balance) error
}

// add returns a+b, failing when the result leaves the 128-bit range.
func add(a, b *uint256.Int) (uint256.Int, error) {
	var out uint256.Int
	if _, overflow := out.AddOverflow(a, b); overflow || !order.FitsU128(&out) {
		return uint256.Int{}, ErrOverflow
	}
	return out, nil
}

// Lock increases the locked counter. Overflow is a hard failure.
func Lock(t Table, account, asset common.Address, amount *uint256.Int) error {
	b, err := t.Balance(account, asset)
	if err != nil {
		return err
	}
	locked, err := add(&b.Locked, amount)
	if err != nil {
		return fmt.Errorf("lock %s of %s for %s: %w", amount.Dec(), asset.Hex(), account.Hex(), err)
	}
	b.Locked = locked
	return t.PutBalance(account, asset, b)
}

// Unlock moves amount from locked to unlocked.
func Unlock(t Table, account, asset common.Address, amount *uint256.Int) error {
	b, err := t.Balance(account, asset)
	if err != nil {
		return err
	}
	if b.Locked.Lt(amount) {
		return fmt.Errorf("unlock %s of %s for %s (locked %s): %w",
			amount.Dec(), asset.Hex(), account.Hex(), b.Locked.Dec(), ErrInsufficientLocked)
	}
	unlocked, err := add(&b.Unlocked, amount)
	if err != nil {
		return err
	}
	b.Locked.Sub(&b.Locked, amount)
	b.Unlocked = unlocked
	return t.PutBalance(account, asset, b)
}

// Credit increases the unlocked counter.
func Credit(t Table, account, asset common.Address, amount *uint256.Int) error {
	b, err := t.Balance(account, asset)
	if err != nil {
		return err
	}
	unlocked, err := add(&b.Unlocked, amount)
	if err != nil {
		return fmt.Errorf("credit %s of %s to %s: %w", amount.Dec(), asset.Hex(), account.Hex(), err)
	}
	b.Unlocked = unlocked
	return t.PutBalance(account, asset, b)
}

// Debit decreases the unlocked counter.
func Debit(t Table, account, asset common.Address, amount *uint256.Int) error {
	b, err := t.Balance(account, asset)
	if err != nil {
		return err
	}
	if b.Unlocked.Lt(amount) {
		return fmt.Errorf("debit %s of %s from %s (unlocked %s): %w",
			amount.Dec(), asset.Hex(), account.Hex(), b.Unlocked.Dec(), ErrInsufficientUnlocked)
	}
	b.Unlocked.Sub(&b.Unlocked, amount)
	return t.PutBalance(account, asset, b)
}

// DecreaseLockedNoRevert is the checked variant of a locked debit used inside
// batch application. It reports success instead of returning an error.
func DecreaseLockedNoRevert(t Table, account, asset common.Address, amount *uint256.Int) bool {
	b, err := t.Balance(account, asset)
	if err != nil || b.Locked.Lt(amount) {
		return false
	}
	b.Locked.Sub(&b.Locked, amount)
	return t.PutBalance(account, asset, b) == nil
}

// IncreaseUnlockedNoRevert is the checked variant of Credit.
func IncreaseUnlockedNoRevert(t Table, account, asset common.Address, amount *uint256.Int) bool {
	return Credit(t, account, asset, amount) == nil
}

// TransferLockedToUnlocked debits from's locked counter and credits to's
// unlocked counter as one unit. If the credit fails, from is restored to its
// pre-call record before returning false.
func TransferLockedToUnlocked(t Table, from, to, asset common.Address, amount *uint256.Int) bool {
	before, err := t.Balance(from, asset)
	if err != nil {
		return false
	}
	if !DecreaseLockedNoRevert(t, from, asset, amount) {
		return false
	}
	if !IncreaseUnlockedNoRevert(t, to, asset, amount) {
		// restore the debit; the table accepted a write for this key a moment ago
		_ = t.PutBalance(from, asset, before)
		return false
	}
	return true
}
