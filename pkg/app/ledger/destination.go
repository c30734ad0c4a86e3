package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/crossledger/pkg/app/core/balance"
	"github.com/uhyunpark/crossledger/pkg/app/core/hook"
	"github.com/uhyunpark/crossledger/pkg/app/core/message"
	"github.com/uhyunpark/crossledger/pkg/app/core/order"
	"github.com/uhyunpark/crossledger/pkg/bus"
	"github.com/uhyunpark/crossledger/pkg/storage"
)

// FillRequest delivers an order's output on its destination ledger.
type FillRequest struct {
	Filler common.Address
	Order  order.Order
	// DstHook, when set, converts the filler's FillAsset into the order's
	// output asset before delivery.
	DstHook *hook.DstHook
}

// SettleResult reports a settlement batch handed to the bus.
type SettleResult struct {
	Receipt bus.Receipt
	IDs     []order.ID
}

// Fill delivers OutputAmount of OutputAsset to the recipient.
//
// A single-ledger order settles on the spot: the offerer's locked input moves
// to the filler's unlocked balance. A cross-ledger fill is recorded as Filled
// and queued for the filler's next settlement batch to the origin.
func (l *Ledger) Fill(ctx context.Context, req FillRequest) error {
	o := req.Order
	id := o.ID()
	return l.exec(ctx, "fill", true, func(ctx context.Context, tx storage.Tx, ev *[]Event) error {
		if err := order.Validate(&o); err != nil {
			return err
		}
		if err := order.CheckFillWindow(&o, l.now()); err != nil {
			return err
		}
		if o.DestLedger != l.id {
			return fmt.Errorf("destination %d: %w", o.DestLedger, order.ErrWrongLedger)
		}
		if !l.policy.IsAllowedSolver(req.Filler) {
			return fmt.Errorf("filler %s: %w", req.Filler.Hex(), order.ErrNotPermitted)
		}
		st, err := tx.DestStatus(id)
		if err != nil {
			return err
		}
		if st != order.Unknown {
			return fmt.Errorf("order %s is %s: %w", id, st, order.ErrAlreadyFilled)
		}

		single := o.IsSingleLedger()
		if single {
			ost, err := tx.OriginStatus(id)
			if err != nil {
				return err
			}
			if ost != order.Active {
				return fmt.Errorf("order %s is %s: %w", id, ost, order.ErrOrderNotActive)
			}
		} else if !l.policy.IsSupportedLedger(o.OriginLedger) {
			return fmt.Errorf("origin %d: %w", o.OriginLedger, order.ErrUnsupportedLedger)
		}

		if err := l.deliver(ctx, req.Filler, &o, req.DstHook); err != nil {
			return err
		}

		*ev = append(*ev, Event{
			Kind:    EventFilled,
			OrderID: id,
			Account: req.Filler,
			Asset:   o.OutputAsset,
			Amount:  o.OutputAmount.Dec(),
			Peer:    o.OriginLedger,
		})

		if single {
			if err := l.settleLocal(tx, req.Filler, &o); err != nil {
				return err
			}
			if err := tx.SetOriginStatus(id, order.Settled); err != nil {
				return err
			}
			if err := tx.SetDestStatus(id, order.Settled); err != nil {
				return err
			}
			*ev = append(*ev, Event{
				Kind:    EventOrderSettled,
				OrderID: id,
				Account: req.Filler,
				Asset:   o.InputAsset,
				Amount:  o.InputAmount.Dec(),
				Peer:    l.id,
			})
			return nil
		}

		if err := tx.SetDestStatus(id, order.Filled); err != nil {
			return err
		}
		queue, err := tx.FillQueue(o.OriginLedger, req.Filler)
		if err != nil {
			return err
		}
		return tx.SetFillQueue(o.OriginLedger, req.Filler, append(queue, id))
	})
}

// deliver moves the order's output to its recipient, through the destination
// hook when one is given. Hook output above OutputAmount goes back to the
// filler.
func (l *Ledger) deliver(ctx context.Context, filler common.Address, o *order.Order, h *hook.DstHook) error {
	if h == nil {
		if err := l.assets.TransferFrom(o.OutputAsset, filler, o.Recipient, &o.OutputAmount); err != nil {
			return fmt.Errorf("deliver output: %w", err)
		}
		return nil
	}

	if err := l.assets.TransferFrom(h.FillAsset, filler, l.custody, &h.FillAmount); err != nil {
		return fmt.Errorf("pull fill asset: %w", err)
	}
	out, err := l.runHook(ctx, h.Target, hook.Call{
		InputAsset:   h.FillAsset,
		InputAmount:  h.FillAmount,
		OutputAsset:  o.OutputAsset,
		Instructions: h.Instructions,
	}, &o.OutputAmount)
	if err != nil {
		return err
	}
	if err := l.assets.TransferFrom(o.OutputAsset, l.custody, o.Recipient, &o.OutputAmount); err != nil {
		return fmt.Errorf("deliver output: %w", err)
	}
	var surplus uint256.Int
	surplus.Sub(&out, &o.OutputAmount)
	if surplus.IsZero() {
		return nil
	}
	if err := l.assets.TransferFrom(o.OutputAsset, l.custody, filler, &surplus); err != nil {
		return fmt.Errorf("return hook surplus: %w", err)
	}
	return nil
}

// settleLocal releases a single-ledger order's input to the filler and checks
// that both sides moved by exactly InputAmount.
func (l *Ledger) settleLocal(tx storage.Tx, filler common.Address, o *order.Order) error {
	offBefore, err := tx.Balance(o.Offerer, o.InputAsset)
	if err != nil {
		return err
	}
	fillBefore, err := tx.Balance(filler, o.InputAsset)
	if err != nil {
		return err
	}
	if !balance.TransferLockedToUnlocked(tx, o.Offerer, filler, o.InputAsset, &o.InputAmount) {
		return fmt.Errorf("release %s to filler: %w", o.InputAmount.Dec(), order.ErrBalanceInvariant)
	}
	offAfter, err := tx.Balance(o.Offerer, o.InputAsset)
	if err != nil {
		return err
	}
	fillAfter, err := tx.Balance(filler, o.InputAsset)
	if err != nil {
		return err
	}

	var locked, unlocked uint256.Int
	locked.Sub(&offBefore.Locked, &offAfter.Locked)
	unlocked.Sub(&fillAfter.Unlocked, &fillBefore.Unlocked)
	if !locked.Eq(&o.InputAmount) || !unlocked.Eq(&o.InputAmount) {
		return fmt.Errorf("locked -%s unlocked +%s for %s: %w",
			locked.Dec(), unlocked.Dec(), o.InputAmount.Dec(), order.ErrBalanceInvariant)
	}
	return nil
}

// CancelDest cancels an order from its destination ledger. For a cross-ledger
// order the destination is marked Cancelled, which forecloses any fill, and a
// cancellation message is sent to the origin to release the deposit there.
// Single-ledger orders are cancelled in place as by Cancel.
func (l *Ledger) CancelDest(ctx context.Context, caller common.Address, o order.Order, opts bus.DeliveryOptions) (bus.Receipt, error) {
	if o.IsSingleLedger() {
		return bus.Receipt{}, l.Cancel(ctx, caller, o)
	}

	id := o.ID()
	var rcpt bus.Receipt
	err := l.exec(ctx, "cancel_dest", true, func(ctx context.Context, tx storage.Tx, ev *[]Event) error {
		if o.DestLedger != l.id {
			return fmt.Errorf("destination %d: %w", o.DestLedger, order.ErrWrongLedger)
		}
		if !l.policy.IsSupportedLedger(o.OriginLedger) {
			return fmt.Errorf("origin %d: %w", o.OriginLedger, order.ErrUnsupportedLedger)
		}
		if err := l.mayCancel(caller, &o); err != nil {
			return err
		}
		st, err := tx.DestStatus(id)
		if err != nil {
			return err
		}
		if st != order.Unknown {
			return fmt.Errorf("order %s is %s: %w", id, st, order.ErrAlreadyFilled)
		}
		if err := tx.SetDestStatus(id, order.Cancelled); err != nil {
			return err
		}

		rcpt, err = l.bus.Send(ctx, o.OriginLedger, message.EncodeCancel(id), opts)
		if err != nil {
			return fmt.Errorf("send cancel: %w", err)
		}
		*ev = append(*ev,
			cancelledEvent(&o, id, PathDest),
			Event{
				Kind:      EventCancelSent,
				OrderID:   id,
				Account:   caller,
				Peer:      o.OriginLedger,
				MessageID: rcpt.MessageID,
			})
		return nil
	})
	if err != nil {
		return bus.Receipt{}, err
	}
	return rcpt, nil
}

// Settle sends one settlement batch for filler's queued fills toward origin.
// Up to MaxFillsPerSettle ids are taken, most recent first; the rest stay
// queued for the next call. The queue only shrinks once the bus accepted the
// message.
func (l *Ledger) Settle(ctx context.Context, filler common.Address, origin order.LedgerID, opts bus.DeliveryOptions) (SettleResult, error) {
	var res SettleResult
	err := l.exec(ctx, "settle", true, func(ctx context.Context, tx storage.Tx, ev *[]Event) error {
		if !l.policy.IsSupportedLedger(origin) {
			return fmt.Errorf("origin %d: %w", origin, order.ErrUnsupportedLedger)
		}
		queue, err := tx.FillQueue(origin, filler)
		if err != nil {
			return err
		}
		if len(queue) == 0 {
			return order.ErrNoOrdersToSettle
		}

		n := min(len(queue), l.maxFills)
		batch := make([]order.ID, 0, n)
		for i := len(queue) - 1; i >= len(queue)-n; i-- {
			batch = append(batch, queue[i])
		}
		payload, err := message.EncodeSettlement(filler, batch)
		if err != nil {
			return err
		}
		rcpt, err := l.bus.Send(ctx, origin, payload, opts)
		if err != nil {
			return fmt.Errorf("send settlement: %w", err)
		}
		if err := tx.SetFillQueue(origin, filler, queue[:len(queue)-n]); err != nil {
			return err
		}

		res = SettleResult{Receipt: rcpt, IDs: batch}
		*ev = append(*ev, Event{
			Kind:      EventSettlementSent,
			Account:   filler,
			Peer:      origin,
			MessageID: rcpt.MessageID,
			Count:     n,
		})
		return nil
	})
	if err != nil {
		return SettleResult{}, err
	}
	return res, nil
}

// QuoteSettle prices the batch the next Settle for filler would send.
func (l *Ledger) QuoteSettle(ctx context.Context, filler common.Address, origin order.LedgerID, opts bus.DeliveryOptions) (bus.Fee, error) {
	queued, err := l.PendingFills(ctx, origin, filler)
	if err != nil {
		return bus.Fee{}, err
	}
	if len(queued) == 0 {
		return bus.Fee{}, order.ErrNoOrdersToSettle
	}
	return l.bus.QuoteFee(origin, message.SettlementSize(min(len(queued), l.maxFills)), opts)
}

// QuoteCancel prices the cancellation message CancelDest would send for o.
func (l *Ledger) QuoteCancel(o *order.Order, opts bus.DeliveryOptions) (bus.Fee, error) {
	return l.bus.QuoteFee(o.OriginLedger, message.CancelSize, opts)
}
