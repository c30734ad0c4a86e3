package ledger

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
	"github.com/uhyunpark/crossledger/pkg/storage"
)

type EventKind string

const (
	EventDeposited         EventKind = "deposited"
	EventFilled            EventKind = "filled"
	EventOrderSettled      EventKind = "order_settled"
	EventSettlementSkipped EventKind = "settlement_skipped"
	EventCancelled         EventKind = "cancelled"
	EventCancelSent        EventKind = "cancel_sent"
	EventSettlementSent    EventKind = "settlement_sent"
	EventWithdrawn         EventKind = "withdrawn"
	EventMinted            EventKind = "minted"
)

// Skip reasons for settlement entries.
const (
	SkipNotActive      = "not_active"
	SkipLedgerMismatch = "ledger_mismatch"
	SkipTransferFailed = "transfer_failed"
)

// Cancellation paths.
const (
	PathLocal     = "local"     // single-ledger cancel
	PathDest      = "dest"      // destination side of a cross-ledger cancel
	PathMessage   = "message"   // origin side, applied from an inbound message
	PathEmergency = "emergency" // administrative override
)

// Event is emitted after the operation that produced it committed.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Ledger    order.LedgerID `json:"ledger"`
	OrderID   order.ID       `json:"orderId,omitzero"`
	Account   common.Address `json:"account,omitzero"` // offerer, filler or withdrawer
	Asset     common.Address `json:"asset,omitzero"`
	Amount    string         `json:"amount,omitempty"`
	Peer      order.LedgerID `json:"peer,omitzero"` // remote ledger involved
	Path      string         `json:"path,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	MessageID common.Hash    `json:"messageId,omitzero"`
	Count     int            `json:"count,omitempty"`
}

// Sink consumes committed events. Publish must not call back into the ledger.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// JournalSink appends each event to an audit journal as one JSON line.
// Events that cannot be recorded are logged in full at error level.
type JournalSink struct {
	Journal storage.Journal
	Log     *zap.Logger
}

func (s JournalSink) Publish(e Event) {
	b, err := json.Marshal(e)
	if err == nil {
		err = s.Journal.Append(string(b))
	}
	if err != nil && s.Log != nil {
		s.Log.Error("audit journal append failed",
			zap.String("event", string(e.Kind)),
			zap.Uint32("ledger", uint32(e.Ledger)),
			zap.String("order_id", e.OrderID.Hex()),
			zap.Any("entry", e),
			zap.Error(err))
	}
}

func (l *Ledger) emit(events []Event) {
	l.sinksMu.RLock()
	sinks := l.sinks
	l.sinksMu.RUnlock()

	for _, e := range events {
		e.Ledger = l.id
		l.record(e)
		for _, s := range sinks {
			s.Publish(e)
		}
	}
}

// record logs the event and updates counters.
func (l *Ledger) record(e Event) {
	fields := []zap.Field{zap.String("event", string(e.Kind))}
	if !e.OrderID.IsZero() {
		fields = append(fields, zap.String("order_id", e.OrderID.Hex()))
	}
	if e.Account != (common.Address{}) {
		fields = append(fields, zap.String("account", e.Account.Hex()))
	}
	if e.Peer != 0 {
		fields = append(fields, zap.Uint32("peer", uint32(e.Peer)))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}

	switch e.Kind {
	case EventDeposited:
		l.metrics.Deposits.Inc()
	case EventFilled:
		kind := "cross"
		if e.Peer == l.id {
			kind = "single"
		}
		l.metrics.Fills.WithLabelValues(kind).Inc()
	case EventOrderSettled:
		l.metrics.Settlements.WithLabelValues("settled").Inc()
	case EventSettlementSkipped:
		l.metrics.Settlements.WithLabelValues("skipped").Inc()
		l.log.Warn("settlement entry skipped", fields...)
		return
	case EventCancelled:
		l.metrics.Cancellations.WithLabelValues(e.Path).Inc()
		fields = append(fields, zap.String("path", e.Path))
	case EventCancelSent:
		l.metrics.MessagesSent.WithLabelValues("cancel").Inc()
	case EventSettlementSent:
		l.metrics.MessagesSent.WithLabelValues("settlement").Inc()
		l.metrics.BatchSize.Observe(float64(e.Count))
		fields = append(fields, zap.Int("count", e.Count))
	case EventWithdrawn:
		l.metrics.Withdrawals.Inc()
	}
	l.log.Info("ledger event", fields...)
}
