package hook

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/crossledger/pkg/app/core/asset"
)

// FixedRate is a reserve-backed converter paying Num/Den units of the output
// asset per unit of input. It pays out of the holdings of its own address, so
// it must be funded before use.
type FixedRate struct {
	Self   common.Address
	Assets asset.Transferer
	Num    uint64
	Den    uint64
}

// Par returns a 1:1 converter.
func Par(self common.Address, assets asset.Transferer) *FixedRate {
	return &FixedRate{Self: self, Assets: assets, Num: 1, Den: 1}
}

func (f *FixedRate) Execute(_ context.Context, call Call) error {
	if f.Den == 0 {
		return fmt.Errorf("fixed rate %s: zero denominator", f.Self.Hex())
	}
	out := new(uint256.Int).Mul(&call.InputAmount, uint256.NewInt(f.Num))
	out.Div(out, uint256.NewInt(f.Den))
	return f.Assets.TransferFrom(call.OutputAsset, f.Self, call.Caller, out)
}
