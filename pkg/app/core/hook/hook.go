// Package hook runs untrusted conversion adapters.
//
// The ledger hands an adapter some input value, lets it run, and then trusts
// only what it can observe: the net increase of the output asset held by the
// custody account. Whatever the adapter claims about its own result is ignored.
package hook

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/crossledger/pkg/app/core/asset"
)

var (
	ErrInvalidHook            = errors.New("invalid hook")
	ErrInsufficientHookOutput = errors.New("insufficient hook output")
)

// Call is what an adapter receives. InputAmount of InputAsset has already been
// moved to the adapter's address when Execute runs; it is expected to leave
// OutputAsset with Caller.
type Call struct {
	Caller       common.Address
	InputAsset   common.Address
	InputAmount  uint256.Int
	OutputAsset  common.Address
	Instructions []byte
}

// Hook is a conversion adapter.
type Hook interface {
	Execute(ctx context.Context, call Call) error
}

// HookFunc adapts a plain function to Hook.
type HookFunc func(ctx context.Context, call Call) error

func (f HookFunc) Execute(ctx context.Context, call Call) error { return f(ctx, call) }

// SrcHook converts the offerer's DepositAsset into the order's input asset at
// deposit time.
type SrcHook struct {
	Target        common.Address
	Instructions  []byte
	DepositAsset  common.Address
	DepositAmount uint256.Int
}

// DstHook converts the filler's FillAsset into the order's output asset at
// fill time.
type DstHook struct {
	Target       common.Address
	Instructions []byte
	FillAsset    common.Address
	FillAmount   uint256.Int
}

// Registry maps capability addresses to adapters.
type Registry struct {
	mu    sync.RWMutex
	hooks map[common.Address]Hook
}

func NewRegistry() *Registry {
	return &Registry{hooks: make(map[common.Address]Hook)}
}

func (r *Registry) Register(target common.Address, h Hook) {
	r.mu.Lock()
	r.hooks[target] = h
	r.mu.Unlock()
}

func (r *Registry) Lookup(target common.Address) (Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[target]
	return h, ok
}

// AllowList is the policy predicate consulted before any adapter runs.
type AllowList interface {
	IsAllowedHook(target common.Address) bool
}

// Executor drives one adapter call on behalf of the custody account.
type Executor struct {
	Allow    AllowList
	Registry *Registry
	Assets   asset.Transferer
	Custody  common.Address
}

// Run moves call.InputAmount of call.InputAsset from custody to target, runs
// the adapter, and returns the observed increase of call.OutputAsset held by
// custody. An increase below minOut fails with ErrInsufficientHookOutput.
func (e *Executor) Run(ctx context.Context, target common.Address, call Call, minOut *uint256.Int) (uint256.Int, error) {
	if !e.Allow.IsAllowedHook(target) {
		return uint256.Int{}, fmt.Errorf("hook %s not allow-listed: %w", target.Hex(), ErrInvalidHook)
	}
	h, ok := e.Registry.Lookup(target)
	if !ok {
		return uint256.Int{}, fmt.Errorf("hook %s not registered: %w", target.Hex(), ErrInvalidHook)
	}

	if err := e.Assets.TransferFrom(call.InputAsset, e.Custody, target, &call.InputAmount); err != nil {
		return uint256.Int{}, fmt.Errorf("fund hook %s: %w", target.Hex(), err)
	}

	call.Caller = e.Custody
	before := e.Assets.BalanceOf(call.OutputAsset, e.Custody)
	if err := h.Execute(ctx, call); err != nil {
		return uint256.Int{}, fmt.Errorf("hook %s: %w", target.Hex(), err)
	}
	after := e.Assets.BalanceOf(call.OutputAsset, e.Custody)

	if after.Lt(&before) {
		return uint256.Int{}, fmt.Errorf("hook %s reduced custody holdings: %w", target.Hex(), ErrInsufficientHookOutput)
	}
	var delta uint256.Int
	delta.Sub(&after, &before)
	if delta.Lt(minOut) {
		return uint256.Int{}, fmt.Errorf("hook %s produced %s, want >= %s: %w",
			target.Hex(), delta.Dec(), minOut.Dec(), ErrInsufficientHookOutput)
	}
	return delta, nil
}
