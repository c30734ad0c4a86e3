// Package policy holds the administrative predicates consulted by the ledger:
// solver and hook allow-lists, supported ledgers, admins, and the pause gate.
package policy

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

// Policy is the read side the ledger depends on.
type Policy interface {
	IsAllowedSolver(account common.Address) bool
	IsAllowedHook(target common.Address) bool
	IsSupportedLedger(id order.LedgerID) bool
	IsAdmin(account common.Address) bool
	IsPaused() bool
}

// Static is an in-memory Policy that can be edited at runtime.
type Static struct {
	mu      sync.RWMutex
	solvers map[common.Address]struct{}
	hooks   map[common.Address]struct{}
	ledgers map[order.LedgerID]struct{}
	admins  map[common.Address]struct{}
	paused  bool
}

// Config seeds a Static policy.
type Config struct {
	Solvers []common.Address
	Hooks   []common.Address
	Ledgers []order.LedgerID
	Admins  []common.Address
}

func NewStatic(cfg Config) *Static {
	s := &Static{
		solvers: make(map[common.Address]struct{}),
		hooks:   make(map[common.Address]struct{}),
		ledgers: make(map[order.LedgerID]struct{}),
		admins:  make(map[common.Address]struct{}),
	}
	for _, a := range cfg.Solvers {
		s.solvers[a] = struct{}{}
	}
	for _, h := range cfg.Hooks {
		s.hooks[h] = struct{}{}
	}
	for _, l := range cfg.Ledgers {
		s.ledgers[l] = struct{}{}
	}
	for _, a := range cfg.Admins {
		s.admins[a] = struct{}{}
	}
	return s
}

func (s *Static) IsAllowedSolver(account common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.solvers[account]
	return ok
}

func (s *Static) IsAllowedHook(target common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hooks[target]
	return ok
}

func (s *Static) IsSupportedLedger(id order.LedgerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ledgers[id]
	return ok
}

func (s *Static) IsAdmin(account common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[account]
	return ok
}

func (s *Static) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// SetPaused flips the pause gate.
func (s *Static) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// SetSolver adds or removes an allow-listed solver.
func (s *Static) SetSolver(account common.Address, allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setMember(s.solvers, account, allowed)
}

// SetHook adds or removes an allow-listed hook target.
func (s *Static) SetHook(target common.Address, allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setMember(s.hooks, target, allowed)
}

// SetLedger adds or removes a supported ledger.
func (s *Static) SetLedger(id order.LedgerID, supported bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setMember(s.ledgers, id, supported)
}

func setMember[K comparable](m map[K]struct{}, k K, on bool) {
	if on {
		m[k] = struct{}{}
	} else {
		delete(m, k)
	}
}
