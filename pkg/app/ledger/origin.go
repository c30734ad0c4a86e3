package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/crossledger/pkg/app/core/balance"
	"github.com/uhyunpark/crossledger/pkg/app/core/hook"
	"github.com/uhyunpark/crossledger/pkg/app/core/message"
	"github.com/uhyunpark/crossledger/pkg/app/core/order"
	"github.com/uhyunpark/crossledger/pkg/storage"
)

// DepositRequest opens an order on its origin ledger.
type DepositRequest struct {
	Caller    common.Address
	Order     order.Order
	Signature []byte
	// SrcHook, when set, converts the offerer's DepositAsset into the order's
	// input asset first. Only the offerer may deposit through a hook.
	SrcHook *hook.SrcHook
}

// Deposit validates and signs off an order, pulls its input value into
// custody and locks it under the offerer: Unknown → Active.
func (l *Ledger) Deposit(ctx context.Context, req DepositRequest) (order.ID, error) {
	o := req.Order
	id := o.ID()
	err := l.exec(ctx, "deposit", true, func(ctx context.Context, tx storage.Tx, ev *[]Event) error {
		if err := order.Validate(&o); err != nil {
			return err
		}
		if o.OriginLedger != l.id {
			return fmt.Errorf("origin %d: %w", o.OriginLedger, order.ErrWrongLedger)
		}
		if !o.IsSingleLedger() && !l.policy.IsSupportedLedger(o.DestLedger) {
			return fmt.Errorf("destination %d: %w", o.DestLedger, order.ErrUnsupportedLedger)
		}
		if err := order.CheckDepositWindow(&o, l.now()); err != nil {
			return err
		}
		if err := l.signer.VerifyOrderSignature(&o, req.Signature); err != nil {
			return err
		}
		st, err := tx.OriginStatus(id)
		if err != nil {
			return err
		}
		if st != order.Unknown {
			return fmt.Errorf("order %s is %s: %w", id, st, order.ErrOrderExists)
		}

		if req.SrcHook != nil {
			if err := l.depositThroughHook(ctx, tx, req.Caller, &o, req.SrcHook); err != nil {
				return err
			}
		} else if err := l.assets.TransferFrom(o.InputAsset, o.Offerer, l.custody, &o.InputAmount); err != nil {
			return fmt.Errorf("pull input: %w", err)
		}

		if err := balance.Lock(tx, o.Offerer, o.InputAsset, &o.InputAmount); err != nil {
			return err
		}
		if err := tx.PutOrder(&o); err != nil {
			return err
		}
		if err := tx.SetOriginStatus(id, order.Active); err != nil {
			return err
		}
		*ev = append(*ev, Event{
			Kind:    EventDeposited,
			OrderID: id,
			Account: o.Offerer,
			Asset:   o.InputAsset,
			Amount:  o.InputAmount.Dec(),
			Peer:    o.DestLedger,
		})
		return nil
	})
	if err != nil {
		return order.ID{}, err
	}
	return id, nil
}

// depositThroughHook converts the offerer's deposit asset into the order's
// input asset. Anything above InputAmount is credited to the offerer as
// unlocked balance.
func (l *Ledger) depositThroughHook(ctx context.Context, tx storage.Tx, caller common.Address, o *order.Order, h *hook.SrcHook) error {
	if caller != o.Offerer {
		return fmt.Errorf("hooked deposit by %s for offerer %s: %w", caller.Hex(), o.Offerer.Hex(), order.ErrNotPermitted)
	}
	if err := l.assets.TransferFrom(h.DepositAsset, o.Offerer, l.custody, &h.DepositAmount); err != nil {
		return fmt.Errorf("pull deposit asset: %w", err)
	}
	out, err := l.runHook(ctx, h.Target, hook.Call{
		InputAsset:   h.DepositAsset,
		InputAmount:  h.DepositAmount,
		OutputAsset:  o.InputAsset,
		Instructions: h.Instructions,
	}, &o.InputAmount)
	if err != nil {
		return err
	}
	var surplus uint256.Int
	surplus.Sub(&out, &o.InputAmount)
	if surplus.IsZero() {
		return nil
	}
	return balance.Credit(tx, o.Offerer, o.InputAsset, &surplus)
}

// mayCancel: allow-listed solvers at any time, offerer or recipient once the
// order expired.
func (l *Ledger) mayCancel(caller common.Address, o *order.Order) error {
	if l.policy.IsAllowedSolver(caller) {
		return nil
	}
	if (caller == o.Offerer || caller == o.Recipient) && l.now() > o.EndTime {
		return nil
	}
	return fmt.Errorf("cancel by %s: %w", caller.Hex(), order.ErrNotPermitted)
}

// refund unlocks the order's input and pays it straight back to the offerer.
func (l *Ledger) refund(tx storage.Tx, o *order.Order) error {
	if err := balance.Unlock(tx, o.Offerer, o.InputAsset, &o.InputAmount); err != nil {
		return err
	}
	if err := balance.Debit(tx, o.Offerer, o.InputAsset, &o.InputAmount); err != nil {
		return err
	}
	if err := l.assets.TransferFrom(o.InputAsset, l.custody, o.Offerer, &o.InputAmount); err != nil {
		return fmt.Errorf("return input: %w", err)
	}
	return nil
}

func cancelledEvent(o *order.Order, id order.ID, path string) Event {
	return Event{
		Kind:    EventCancelled,
		OrderID: id,
		Account: o.Offerer,
		Asset:   o.InputAsset,
		Amount:  o.InputAmount.Dec(),
		Peer:    o.DestLedger,
		Path:    path,
	}
}

// Cancel cancels a single-ledger order directly. Cross-ledger orders can only
// be cancelled from their destination (see CancelDest), since a local cancel
// could race an in-flight settlement.
func (l *Ledger) Cancel(ctx context.Context, caller common.Address, o order.Order) error {
	id := o.ID()
	return l.exec(ctx, "cancel", true, func(ctx context.Context, tx storage.Tx, ev *[]Event) error {
		if !o.IsSingleLedger() {
			return order.ErrCrossLedgerCancel
		}
		if o.OriginLedger != l.id {
			return fmt.Errorf("origin %d: %w", o.OriginLedger, order.ErrWrongLedger)
		}
		if err := l.mayCancel(caller, &o); err != nil {
			return err
		}
		st, err := tx.OriginStatus(id)
		if err != nil {
			return err
		}
		if st != order.Active {
			return fmt.Errorf("order %s is %s: %w", id, st, order.ErrOrderNotActive)
		}
		if err := l.refund(tx, &o); err != nil {
			return err
		}
		if err := tx.SetOriginStatus(id, order.Cancelled); err != nil {
			return err
		}
		if err := tx.SetDestStatus(id, order.Cancelled); err != nil {
			return err
		}
		*ev = append(*ev, cancelledEvent(&o, id, PathLocal))
		return nil
	})
}

// EmergencyCancel is the administrative override: Unknown|Active → Cancelled
// on the origin role. An active order's input is returned to the offerer.
// It is not subject to the pause switch.
func (l *Ledger) EmergencyCancel(ctx context.Context, admin common.Address, o order.Order) error {
	id := o.ID()
	return l.exec(ctx, "emergency_cancel", false, func(ctx context.Context, tx storage.Tx, ev *[]Event) error {
		if !l.policy.IsAdmin(admin) {
			return fmt.Errorf("emergency cancel by %s: %w", admin.Hex(), order.ErrNotPermitted)
		}
		st, err := tx.OriginStatus(id)
		if err != nil {
			return err
		}
		switch st {
		case order.Unknown:
		case order.Active:
			stored, ok, err := tx.Order(id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("active order %s has no record", id)
			}
			o = stored
			if err := l.refund(tx, &o); err != nil {
				return err
			}
		default:
			return fmt.Errorf("order %s is %s: %w", id, st, order.ErrOrderNotActive)
		}
		if err := tx.SetOriginStatus(id, order.Cancelled); err != nil {
			return err
		}
		*ev = append(*ev, cancelledEvent(&o, id, PathEmergency))
		return nil
	})
}

// OnMessage applies an inbound payload from sender. It is the bus handler.
func (l *Ledger) OnMessage(ctx context.Context, sender order.LedgerID, payload []byte) error {
	return l.exec(ctx, "on_message", true, func(ctx context.Context, tx storage.Tx, ev *[]Event) error {
		if !l.policy.IsSupportedLedger(sender) {
			return fmt.Errorf("sender %d: %w", sender, order.ErrUnsupportedLedger)
		}
		msg, err := message.Decode(payload)
		if err != nil {
			return err
		}
		switch msg.Kind {
		case message.KindSettlement:
			return l.applySettlement(tx, sender, msg, ev)
		case message.KindCancel:
			return l.applyCancel(tx, sender, msg.OrderID, ev)
		}
		return fmt.Errorf("kind %s: %w", msg.Kind, message.ErrUnknownMessage)
	})
}

// applySettlement releases each entry's locked input to the filler. Entries
// that cannot be applied are skipped; they never fail the batch.
func (l *Ledger) applySettlement(tx storage.Tx, sender order.LedgerID, msg message.Message, ev *[]Event) error {
	skip := func(id order.ID, reason string) {
		*ev = append(*ev, Event{
			Kind:    EventSettlementSkipped,
			OrderID: id,
			Account: msg.Filler,
			Peer:    sender,
			Reason:  reason,
		})
	}

	for _, id := range msg.IDs {
		st, err := tx.OriginStatus(id)
		if err != nil {
			return err
		}
		if st != order.Active {
			skip(id, SkipNotActive)
			continue
		}
		o, ok, err := tx.Order(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("active order %s has no record", id)
		}
		if o.DestLedger != sender {
			skip(id, SkipLedgerMismatch)
			continue
		}
		if !balance.TransferLockedToUnlocked(tx, o.Offerer, msg.Filler, o.InputAsset, &o.InputAmount) {
			skip(id, SkipTransferFailed)
			continue
		}
		if err := tx.SetOriginStatus(id, order.Settled); err != nil {
			return err
		}
		*ev = append(*ev, Event{
			Kind:    EventOrderSettled,
			OrderID: id,
			Account: msg.Filler,
			Asset:   o.InputAsset,
			Amount:  o.InputAmount.Dec(),
			Peer:    sender,
		})
	}
	l.log.Debug("settlement applied", zap.Uint32("origin_sender", uint32(sender)),
		zap.String("filler", msg.Filler.Hex()), zap.Int("entries", len(msg.IDs)))
	return nil
}

// applyCancel refunds one order. Unlike settlement this is all-or-nothing:
// a cancellation for an order that is not active is reported, not skipped.
func (l *Ledger) applyCancel(tx storage.Tx, sender order.LedgerID, id order.ID, ev *[]Event) error {
	st, err := tx.OriginStatus(id)
	if err != nil {
		return err
	}
	if st != order.Active {
		return fmt.Errorf("cancel for order %s which is %s: %w", id, st, order.ErrOrderNotActive)
	}
	o, ok, err := tx.Order(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("active order %s has no record", id)
	}
	if o.DestLedger != sender {
		return fmt.Errorf("cancel for order %s from ledger %d, destination is %d: %w",
			id, sender, o.DestLedger, order.ErrLedgerMismatch)
	}
	if err := l.refund(tx, &o); err != nil {
		return err
	}
	if err := tx.SetOriginStatus(id, order.Cancelled); err != nil {
		return err
	}
	*ev = append(*ev, cancelledEvent(&o, id, PathMessage))
	return nil
}
