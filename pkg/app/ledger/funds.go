package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/crossledger/pkg/app/core/asset"
	"github.com/uhyunpark/crossledger/pkg/app/core/balance"
	"github.com/uhyunpark/crossledger/pkg/app/core/order"
	"github.com/uhyunpark/crossledger/pkg/storage"
)

// Withdraw pays amount of account's unlocked balance out of custody.
func (l *Ledger) Withdraw(ctx context.Context, account, asset common.Address, amount *uint256.Int) error {
	return l.exec(ctx, "withdraw", true, func(ctx context.Context, tx storage.Tx, ev *[]Event) error {
		if amount.IsZero() {
			return order.ErrZeroAmount
		}
		if err := balance.Debit(tx, account, asset, amount); err != nil {
			return err
		}
		if err := l.assets.TransferFrom(asset, l.custody, account, amount); err != nil {
			return fmt.Errorf("pay out: %w", err)
		}
		*ev = append(*ev, Event{
			Kind:    EventWithdrawn,
			Account: account,
			Asset:   asset,
			Amount:  amount.Dec(),
		})
		return nil
	})
}

// Mint funds an account on a devnet asset backend and returns its new
// holding. It is serialized with every other operation.
func (l *Ledger) Mint(ctx context.Context, tok, to common.Address, amount *uint256.Int) (uint256.Int, error) {
	m, ok := l.assets.(asset.Minter)
	if !ok {
		return uint256.Int{}, l.reject("mint", ErrMintUnsupported)
	}
	var holding uint256.Int
	err := l.exec(ctx, "mint", true, func(ctx context.Context, tx storage.Tx, ev *[]Event) error {
		if amount.IsZero() {
			return order.ErrZeroAmount
		}
		if err := m.Mint(tok, to, amount); err != nil {
			return err
		}
		holding = l.assets.BalanceOf(tok, to)
		*ev = append(*ev, Event{
			Kind:    EventMinted,
			Account: to,
			Asset:   tok,
			Amount:  amount.Dec(),
		})
		return nil
	})
	return holding, err
}

// OrderView is an order as both of this ledger's roles see it. Order is nil
// when the order was never deposited here.
type OrderView struct {
	ID           order.ID
	Order        *order.Order
	OriginStatus order.Status
	DestStatus   order.Status
}

func (l *Ledger) OrderState(_ context.Context, id order.ID) (OrderView, error) {
	v := OrderView{ID: id}
	err := l.view(func(tx storage.Tx) error {
		o, ok, err := tx.Order(id)
		if err != nil {
			return err
		}
		if ok {
			v.Order = &o
		}
		if v.OriginStatus, err = tx.OriginStatus(id); err != nil {
			return err
		}
		v.DestStatus, err = tx.DestStatus(id)
		return err
	})
	return v, err
}

func (l *Ledger) Balance(_ context.Context, account, asset common.Address) (balance.Balance, error) {
	var b balance.Balance
	err := l.view(func(tx storage.Tx) error {
		var err error
		b, err = tx.Balance(account, asset)
		return err
	})
	return b, err
}

// PendingFills lists filler's fills awaiting settlement toward origin, oldest
// first.
func (l *Ledger) PendingFills(_ context.Context, origin order.LedgerID, filler common.Address) ([]order.ID, error) {
	var ids []order.ID
	err := l.view(func(tx storage.Tx) error {
		var err error
		ids, err = tx.FillQueue(origin, filler)
		return err
	})
	return ids, err
}

// QueuedFillers lists fillers with a non-empty queue toward origin.
func (l *Ledger) QueuedFillers(_ context.Context, origin order.LedgerID) ([]common.Address, error) {
	var fillers []common.Address
	err := l.view(func(tx storage.Tx) error {
		var err error
		fillers, err = tx.QueuedFillers(origin)
		return err
	})
	return fillers, err
}
