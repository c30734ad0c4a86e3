// Package ledger is one ledger instance of the cross-ledger order protocol.
//
// A Ledger plays two roles for every order. As origin it locks the offerer's
// input and later releases it to the filler (settlement) or back to the
// offerer (cancellation). As destination it records fills and cancellations
// and tells the origin about them over the bus. The two roles keep separate
// status namespaces keyed by the same order id.
//
// Every mutating operation runs to completion under one mutex inside one
// storage transaction and one asset snapshot; a rejected operation leaves
// neither stored state nor asset movements behind.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/crossledger/pkg/app/core/asset"
	"github.com/uhyunpark/crossledger/pkg/app/core/hook"
	"github.com/uhyunpark/crossledger/pkg/app/core/message"
	"github.com/uhyunpark/crossledger/pkg/app/core/order"
	"github.com/uhyunpark/crossledger/pkg/app/core/policy"
	"github.com/uhyunpark/crossledger/pkg/bus"
	"github.com/uhyunpark/crossledger/pkg/crypto"
	"github.com/uhyunpark/crossledger/pkg/metrics"
	"github.com/uhyunpark/crossledger/pkg/storage"
	"github.com/uhyunpark/crossledger/pkg/util"
)

// Config identifies the instance.
type Config struct {
	ID                order.LedgerID
	Custody           common.Address // account holding all deposited value
	MaxFillsPerSettle int
}

// Deps are the collaborators a Ledger runs against. Store, Assets, Policy,
// Bus and Signer are required.
type Deps struct {
	Store   storage.Store
	Assets  asset.Bank
	Policy  policy.Policy
	Bus     bus.Bus
	Signer  *crypto.OrderSigner
	Hooks   *hook.Registry
	Clock   util.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Sinks   []Sink
}

type Ledger struct {
	id       order.LedgerID
	custody  common.Address
	maxFills int
	store    storage.Store
	assets   asset.Bank
	policy   policy.Policy
	bus      bus.Bus
	signer   *crypto.OrderSigner
	hooks    *hook.Executor
	clock    util.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics

	sinksMu sync.RWMutex
	sinks   []Sink

	mu sync.RWMutex
	// inHook is set while an external hook runs under mu.
	inHook atomic.Bool
}

func New(cfg Config, deps Deps) (*Ledger, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("ledger: store is required")
	case deps.Assets == nil:
		return nil, errors.New("ledger: assets are required")
	case deps.Policy == nil:
		return nil, errors.New("ledger: policy is required")
	case deps.Bus == nil:
		return nil, errors.New("ledger: bus is required")
	case deps.Signer == nil:
		return nil, errors.New("ledger: order signer is required")
	case cfg.Custody == (common.Address{}):
		return nil, errors.New("ledger: custody address is required")
	}

	l := &Ledger{
		id:       cfg.ID,
		custody:  cfg.Custody,
		maxFills: cfg.MaxFillsPerSettle,
		store:    deps.Store,
		assets:   deps.Assets,
		policy:   deps.Policy,
		bus:      deps.Bus,
		signer:   deps.Signer,
		clock:    deps.Clock,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		sinks:    deps.Sinks,
	}
	if l.maxFills <= 0 {
		l.maxFills = message.MaxFillsPerSettle
	}
	if l.clock == nil {
		l.clock = util.RealClock{}
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	l.log = l.log.Named("ledger").With(zap.Uint32("ledger_id", uint32(cfg.ID)))
	if l.metrics == nil {
		l.metrics = metrics.New(nil)
	}
	registry := deps.Hooks
	if registry == nil {
		registry = hook.NewRegistry()
	}
	l.hooks = &hook.Executor{
		Allow:    deps.Policy,
		Registry: registry,
		Assets:   deps.Assets,
		Custody:  cfg.Custody,
	}
	return l, nil
}

func (l *Ledger) ID() order.LedgerID          { return l.id }
func (l *Ledger) Custody() common.Address     { return l.custody }
func (l *Ledger) MaxFillsPerSettle() int      { return l.maxFills }
func (l *Ledger) Signer() *crypto.OrderSigner { return l.signer }

// AddSink subscribes an event consumer.
func (l *Ledger) AddSink(s Sink) {
	l.sinksMu.Lock()
	l.sinks = append(l.sinks, s)
	l.sinksMu.Unlock()
}

func (l *Ledger) now() uint32 {
	return uint32(l.clock.Now().Unix())
}

type transitionKey struct{}

// inTransition reports whether ctx belongs to a running transition, i.e. the
// call comes from inside a hook.
func inTransition(ctx context.Context) bool {
	v, _ := ctx.Value(transitionKey{}).(bool)
	return v
}

// errHookBusy refuses a call that arrives while a hook holds the ledger. The
// ledger cannot tell a hook calling back with a fresh context from an
// unrelated caller, so both are refused without waiting on mu.
var errHookBusy = fmt.Errorf("%w: %w", order.ErrHookRunning, order.ErrReentrantCall)

// enter refuses calls made from inside a hook.
func (l *Ledger) enter(ctx context.Context) error {
	if inTransition(ctx) {
		return order.ErrReentrantCall
	}
	if l.inHook.Load() {
		return errHookBusy
	}
	return nil
}

// runHook invokes an external hook. Must be called with mu held.
func (l *Ledger) runHook(ctx context.Context, target common.Address, call hook.Call, minOut *uint256.Int) (uint256.Int, error) {
	l.inHook.Store(true)
	defer l.inHook.Store(false)
	return l.hooks.Run(ctx, target, call, minOut)
}

// op is the body of a mutating operation.
type op func(ctx context.Context, tx storage.Tx, ev *[]Event) error

// exec runs fn as one atomic operation. gated operations honour the pause
// switch; only administrative overrides are ungated.
func (l *Ledger) exec(ctx context.Context, name string, gated bool, fn op) error {
	if err := l.enter(ctx); err != nil {
		return l.reject(name, err)
	}
	if gated && l.policy.IsPaused() {
		return l.reject(name, order.ErrPaused)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := l.store.Begin()
	snap := l.assets.Snapshot()
	var events []Event

	if err := fn(context.WithValue(ctx, transitionKey{}, true), tx, &events); err != nil {
		tx.Discard()
		l.assets.RevertToSnapshot(snap)
		return l.reject(name, err)
	}
	if err := tx.Commit(); err != nil {
		l.assets.RevertToSnapshot(snap)
		return l.reject(name, fmt.Errorf("commit: %w", err))
	}
	l.assets.Finalise()
	l.emit(events)
	return nil
}

func (l *Ledger) reject(name string, err error) error {
	class := Classify(err)
	l.metrics.Rejections.WithLabelValues(class.String()).Inc()
	if class == order.ClassInternal {
		l.log.Error("operation failed", zap.String("op", name), zap.Error(err))
	} else {
		l.log.Debug("operation rejected", zap.String("op", name), zap.String("class", class.String()), zap.Error(err))
	}
	return err
}

// view runs a read-only function against a throwaway transaction.
func (l *Ledger) view(fn func(tx storage.Tx) error) error {
	if l.inHook.Load() {
		return errHookBusy
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx := l.store.Begin()
	defer tx.Discard()
	return fn(tx)
}
