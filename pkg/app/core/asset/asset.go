// Package asset is the value-movement primitive the ledger consumes.
// Native value and tokens are handled alike; the native asset is just
// order.NativeAsset.
package asset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverflow          = errors.New("holding overflows 256 bits")
)

// Transferer moves value between accounts and reports holdings.
type Transferer interface {
	TransferFrom(asset, from, to common.Address, amount *uint256.Int) error
	BalanceOf(asset, account common.Address) uint256.Int
}

// Minter creates value. Only devnet backends implement it.
type Minter interface {
	Mint(asset, to common.Address, amount *uint256.Int) error
}

// Bank is a Transferer whose movements can be rolled back to a snapshot.
// The ledger snapshots before each operation and reverts when it rejects.
type Bank interface {
	Transferer
	Snapshot() int
	RevertToSnapshot(id int)
	Finalise()
}

type transfer struct {
	asset, from, to common.Address
	amount          uint256.Int
	mint            bool
}

// Vault is an in-memory Bank. Every movement is journaled until Finalise so a
// rejected operation can be undone, including movements made by hooks.
type Vault struct {
	mu       sync.Mutex
	holdings map[common.Address]map[common.Address]*uint256.Int
	journal  []transfer
}

func NewVault() *Vault {
	return &Vault{holdings: make(map[common.Address]map[common.Address]*uint256.Int)}
}

func (v *Vault) slot(asset, account common.Address) *uint256.Int {
	accts, ok := v.holdings[asset]
	if !ok {
		accts = make(map[common.Address]*uint256.Int)
		v.holdings[asset] = accts
	}
	bal, ok := accts[account]
	if !ok {
		bal = new(uint256.Int)
		accts[account] = bal
	}
	return bal
}

// Mint creates value out of thin air. Used for genesis funding and tests.
// Once a ledger owns the vault, mint through Ledger.Mint so the entry cannot
// land inside another operation's snapshot.
func (v *Vault) Mint(asset, to common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.slot(asset, to)
	if _, overflow := new(uint256.Int).AddOverflow(bal, amount); overflow {
		return fmt.Errorf("mint %s to %s: %w", amount.Dec(), to.Hex(), ErrOverflow)
	}
	bal.Add(bal, amount)
	v.journal = append(v.journal, transfer{asset: asset, to: to, amount: *amount, mint: true})
	return nil
}

func (v *Vault) TransferFrom(asset, from, to common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	src := v.slot(asset, from)
	if src.Lt(amount) {
		return fmt.Errorf("transfer %s of %s from %s (have %s): %w",
			amount.Dec(), asset.Hex(), from.Hex(), src.Dec(), ErrInsufficientFunds)
	}
	dst := v.slot(asset, to)
	if _, overflow := new(uint256.Int).AddOverflow(dst, amount); overflow {
		return fmt.Errorf("transfer %s of %s to %s: overflow", amount.Dec(), asset.Hex(), to.Hex())
	}
	src.Sub(src, amount)
	dst.Add(dst, amount)
	v.journal = append(v.journal, transfer{asset: asset, from: from, to: to, amount: *amount})
	return nil
}

func (v *Vault) BalanceOf(asset, account common.Address) uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if accts, ok := v.holdings[asset]; ok {
		if bal, ok := accts[account]; ok {
			return *bal
		}
	}
	return uint256.Int{}
}

// Snapshot returns an identifier for the current journal position.
func (v *Vault) Snapshot() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.journal)
}

// RevertToSnapshot undoes every movement recorded after id.
func (v *Vault) RevertToSnapshot(id int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id < 0 || id > len(v.journal) {
		return
	}
	for i := len(v.journal) - 1; i >= id; i-- {
		t := v.journal[i]
		dst := v.slot(t.asset, t.to)
		dst.Sub(dst, &t.amount)
		if !t.mint {
			src := v.slot(t.asset, t.from)
			src.Add(src, &t.amount)
		}
	}
	v.journal = v.journal[:id]
}

// Finalise drops the journal; earlier snapshots become invalid.
func (v *Vault) Finalise() {
	v.mu.Lock()
	v.journal = v.journal[:0]
	v.mu.Unlock()
}
