package policy

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
)

func TestStatic(t *testing.T) {
	solver := common.HexToAddress("0x1")
	hook := common.HexToAddress("0x2")
	admin := common.HexToAddress("0x3")

	p := NewStatic(Config{
		Solvers: []common.Address{solver},
		Hooks:   []common.Address{hook},
		Ledgers: []order.LedgerID{1, 2},
		Admins:  []common.Address{admin},
	})

	assert.True(t, p.IsAllowedSolver(solver))
	assert.False(t, p.IsAllowedSolver(hook))
	assert.True(t, p.IsAllowedHook(hook))
	assert.True(t, p.IsSupportedLedger(2))
	assert.False(t, p.IsSupportedLedger(3))
	assert.True(t, p.IsAdmin(admin))
	assert.False(t, p.IsPaused())

	p.SetPaused(true)
	assert.True(t, p.IsPaused())

	p.SetSolver(solver, false)
	assert.False(t, p.IsAllowedSolver(solver))
	p.SetHook(hook, false)
	assert.False(t, p.IsAllowedHook(hook))
	p.SetLedger(3, true)
	assert.True(t, p.IsSupportedLedger(3))
}
