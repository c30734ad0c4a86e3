package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/crossledger/pkg/app/core/order"
	"github.com/uhyunpark/crossledger/pkg/bus"
)

// Keeper periodically flushes every queued filler's fills toward their
// origins. It stands in for solvers that do not call Settle themselves.
type Keeper struct {
	Ledger   *Ledger
	Origins  []order.LedgerID
	Interval time.Duration
	Options  bus.DeliveryOptions
}

// Run ticks until ctx is done.
func (k *Keeper) Run(ctx context.Context) {
	log := k.Ledger.log.Named("keeper")
	log.Info("keeper started", zap.Duration("interval", k.Interval), zap.Int("origins", len(k.Origins)))
	for {
		select {
		case <-ctx.Done():
			log.Info("keeper stopped")
			return
		case <-k.Ledger.clock.After(k.Interval):
			if n := k.Tick(ctx); n > 0 {
				log.Debug("settlement batches sent", zap.Int("batches", n))
			}
		}
	}
}

// Tick sends one batch per (origin, filler) with pending fills and returns
// how many were sent. Failures are logged and retried on the next tick.
func (k *Keeper) Tick(ctx context.Context) int {
	sent := 0
	for _, origin := range k.Origins {
		fillers, err := k.Ledger.QueuedFillers(ctx, origin)
		if err != nil {
			k.Ledger.log.Error("list queued fillers", zap.Uint32("origin", uint32(origin)), zap.Error(err))
			continue
		}
		for _, filler := range fillers {
			_, err := k.Ledger.Settle(ctx, filler, origin, k.Options)
			switch {
			case err == nil:
				sent++
			case errors.Is(err, order.ErrNoOrdersToSettle):
			default:
				k.Ledger.log.Warn("keeper settle failed",
					zap.Uint32("origin", uint32(origin)),
					zap.String("filler", filler.Hex()),
					zap.Error(err))
			}
		}
	}
	return sent
}
