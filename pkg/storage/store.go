// Package storage persists ledger state: orders, both status namespaces,
// balances and fill queues.
//
// All writes go through a Tx. A Tx sees its own writes and becomes visible to
// others only on Commit; Discard drops it. The ledger runs one Tx per
// operation, so a rejected operation leaves no trace.
package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/crossledger/pkg/app/core/balance"
	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

var ErrTxClosed = errors.New("transaction already committed or discarded")

// Store opens transactions over the persisted state.
type Store interface {
	Begin() Tx
	Close() error
}

// Tx is a read-write view. It satisfies balance.Table.
type Tx interface {
	Order(id order.ID) (order.Order, bool, error)
	PutOrder(o *order.Order) error

	OriginStatus(id order.ID) (order.Status, error)
	SetOriginStatus(id order.ID, s order.Status) error
	DestStatus(id order.ID) (order.Status, error)
	SetDestStatus(id order.ID, s order.Status) error

	Balance(account, asset common.Address) (balance.Balance, error)
	PutBalance(account, asset common.Address, b balance.Balance) error

	FillQueue(origin order.LedgerID, filler common.Address) ([]order.ID, error)
	SetFillQueue(origin order.LedgerID, filler common.Address, ids []order.ID) error
	// QueuedFillers lists fillers with a non-empty queue towards origin.
	QueuedFillers(origin order.LedgerID) ([]common.Address, error)

	Commit() error
	Discard()
}

// kv is the raw key/value surface each backend provides.
type kv interface {
	get(key []byte) ([]byte, bool, error)
	set(key, val []byte) error
	del(key []byte) error
	// scan returns the keys under prefix in ascending order.
	scan(prefix []byte) ([][]byte, error)
	commit() error
	discard()
}

// tx implements the typed Tx surface over a kv backend.
type tx struct {
	kv   kv
	done bool
}

var _ balance.Table = (*tx)(nil)

func (t *tx) check() error {
	if t.done {
		return ErrTxClosed
	}
	return nil
}

func (t *tx) Order(id order.ID) (order.Order, bool, error) {
	if err := t.check(); err != nil {
		return order.Order{}, false, err
	}
	v, ok, err := t.kv.get(orderKey(id))
	if err != nil || !ok {
		return order.Order{}, false, err
	}
	var o order.Order
	if err := o.UnmarshalBinary(v); err != nil {
		return order.Order{}, false, fmt.Errorf("order %s: %w", id, err)
	}
	return o, true, nil
}

func (t *tx) PutOrder(o *order.Order) error {
	if err := t.check(); err != nil {
		return err
	}
	v, err := o.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	return t.kv.set(orderKey(o.ID()), v)
}

func (t *tx) status(key []byte) (order.Status, error) {
	if err := t.check(); err != nil {
		return order.Unknown, err
	}
	v, ok, err := t.kv.get(key)
	if err != nil || !ok {
		return order.Unknown, err
	}
	return decodeStatus(v)
}

func (t *tx) setStatus(key []byte, s order.Status) error {
	if err := t.check(); err != nil {
		return err
	}
	// Unknown is the implicit default and never stored
	if s == order.Unknown {
		return t.kv.del(key)
	}
	return t.kv.set(key, []byte{byte(s)})
}

func (t *tx) OriginStatus(id order.ID) (order.Status, error) { return t.status(originStatusKey(id)) }

func (t *tx) SetOriginStatus(id order.ID, s order.Status) error {
	return t.setStatus(originStatusKey(id), s)
}

func (t *tx) DestStatus(id order.ID) (order.Status, error) { return t.status(destStatusKey(id)) }

func (t *tx) SetDestStatus(id order.ID, s order.Status) error {
	return t.setStatus(destStatusKey(id), s)
}

func (t *tx) Balance(account, asset common.Address) (balance.Balance, error) {
	if err := t.check(); err != nil {
		return balance.Balance{}, err
	}
	v, ok, err := t.kv.get(balanceKey(account, asset))
	if err != nil || !ok {
		return balance.Balance{}, err
	}
	return decodeBalance(v)
}

func (t *tx) PutBalance(account, asset common.Address, b balance.Balance) error {
	if err := t.check(); err != nil {
		return err
	}
	if b.Locked.IsZero() && b.Unlocked.IsZero() {
		return t.kv.del(balanceKey(account, asset))
	}
	return t.kv.set(balanceKey(account, asset), encodeBalance(b))
}

func (t *tx) FillQueue(origin order.LedgerID, filler common.Address) ([]order.ID, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	v, ok, err := t.kv.get(fillQueueKey(origin, filler))
	if err != nil || !ok {
		return nil, err
	}
	return decodeQueue(v)
}

func (t *tx) SetFillQueue(origin order.LedgerID, filler common.Address, ids []order.ID) error {
	if err := t.check(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return t.kv.del(fillQueueKey(origin, filler))
	}
	return t.kv.set(fillQueueKey(origin, filler), encodeQueue(ids))
}

func (t *tx) QueuedFillers(origin order.LedgerID) ([]common.Address, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	keys, err := t.kv.scan(fillQueuePrefix(origin))
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(keys))
	for _, k := range keys {
		out = append(out, fillerFromQueueKey(k))
	}
	return out, nil
}

func (t *tx) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.done = true
	return t.kv.commit()
}

func (t *tx) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.kv.discard()
}
