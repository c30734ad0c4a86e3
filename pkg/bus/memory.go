package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

// MemoryNetwork is an in-process bus shared by several ledgers. Sent messages
// wait in flight until the test or devnet driver delivers them, so delivery
// order, duplication and loss are all under the caller's control.
type MemoryNetwork struct {
	fees FeeSchedule

	mu        sync.Mutex
	endpoints map[order.LedgerID]*Memory
	inflight  []*Envelope
}

func NewMemoryNetwork(fees FeeSchedule) *MemoryNetwork {
	return &MemoryNetwork{fees: fees, endpoints: make(map[order.LedgerID]*Memory)}
}

// Memory is one ledger's attachment to a MemoryNetwork.
type Memory struct {
	endpoint
	net *MemoryNetwork
}

var _ Bus = (*Memory)(nil)

// Join attaches ledger self to the network.
func (n *MemoryNetwork) Join(self order.LedgerID) *Memory {
	n.mu.Lock()
	defer n.mu.Unlock()
	m := &Memory{net: n}
	m.init(self, n.fees, nil, nil)
	n.endpoints[self] = m
	return m
}

func (m *Memory) Send(_ context.Context, dest order.LedgerID, payload []byte, opts DeliveryOptions) (Receipt, error) {
	m.net.mu.Lock()
	_, ok := m.net.endpoints[dest]
	m.net.mu.Unlock()
	if !ok {
		return Receipt{}, fmt.Errorf("ledger %d: %w", dest, ErrUnknownLedger)
	}

	env, rcpt, err := m.seal(dest, payload, opts)
	if err != nil {
		return Receipt{}, err
	}
	m.net.mu.Lock()
	m.net.inflight = append(m.net.inflight, env)
	m.net.mu.Unlock()
	return rcpt, nil
}

// Pending returns copies of the in-flight envelopes in send order.
func (n *MemoryNetwork) Pending() []Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Envelope, len(n.inflight))
	for i, e := range n.inflight {
		out[i] = *e
	}
	return out
}

func (n *MemoryNetwork) take(i int) (*Envelope, *Memory, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i < 0 || i >= len(n.inflight) {
		return nil, nil, fmt.Errorf("no in-flight message at %d", i)
	}
	env := n.inflight[i]
	n.inflight = append(n.inflight[:i], n.inflight[i+1:]...)
	return env, n.endpoints[env.Dest], nil
}

// Deliver removes the i-th in-flight message and runs the destination handler.
func (n *MemoryNetwork) Deliver(ctx context.Context, i int) error {
	env, dst, err := n.take(i)
	if err != nil {
		return err
	}
	return dst.accept(ctx, env)
}

// Drop discards the i-th in-flight message.
func (n *MemoryNetwork) Drop(i int) error {
	_, _, err := n.take(i)
	return err
}

// Redeliver hands a copy of a previously seen envelope to its destination
// again, as an at-least-once transport may.
func (n *MemoryNetwork) Redeliver(ctx context.Context, env Envelope) error {
	n.mu.Lock()
	dst, ok := n.endpoints[env.Dest]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("ledger %d: %w", env.Dest, ErrUnknownLedger)
	}
	return dst.accept(ctx, &env)
}

// DeliverAll delivers everything in flight, oldest first, including messages
// sent by handlers along the way. Handler errors are collected, not fatal.
func (n *MemoryNetwork) DeliverAll(ctx context.Context) error {
	var errs []error
	for {
		n.mu.Lock()
		empty := len(n.inflight) == 0
		n.mu.Unlock()
		if empty {
			return errors.Join(errs...)
		}
		if err := n.Deliver(ctx, 0); err != nil {
			errs = append(errs, err)
		}
	}
}
