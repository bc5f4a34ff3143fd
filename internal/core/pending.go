package core

import (
	"github.com/yanun0323/logs"

	"reconciler/internal/schema"
)

// checkForPending expires orders pending longer than PendingTimeout. An
// expired cancel is purged, an expired create or change is canceled.
func (a *Algorithm) checkForPending() error {
	now := a.now()
	t := a.book.BeginTransaction()
	orders := t.ActiveOrders(a.cfg.Symbol)
	t.EndTransaction()

	for _, o := range orders {
		if !o.IsPending() || now.Sub(o.LastModifyTime) < a.cfg.PendingTimeout {
			continue
		}
		a.metrics.IncExpired()
		logs.Warnf("pending order expired, symbol: %s, order: %s", a.cfg.Symbol, o)

		t := a.book.BeginTransaction()
		o.State = schema.OrderStateExpired
		o.Touch(now)
		if o.Action == schema.OrderActionCancel {
			t.RemoveOrder(o.BrokerOrder)
			t.EndTransaction()
			continue
		}
		err := t.SetOrder(o)
		t.EndTransaction()
		if err != nil {
			return err
		}
		if _, err := a.tryCancel(o); err != nil {
			return err
		}
	}
	return nil
}

// TrySyncPosition sends an adjustment market order when the actual position
// drifted from the desired one and nothing is pending.
func (a *Algorithm) TrySyncPosition() error {
	if a.halted != nil {
		return a.halted
	}
	if !a.cfg.SyncPositions {
		return nil
	}
	delta := a.desiredPosition - a.book.Positions().Actual(a.cfg.Symbol)
	if delta == 0 {
		return nil
	}

	t := a.book.BeginTransaction()
	for _, o := range t.ActiveOrders(a.cfg.Symbol) {
		if o.IsPending() || o.IsAdjustment() {
			t.EndTransaction()
			return nil
		}
	}
	t.EndTransaction()

	logs.Warnf("sync position, symbol: %s, desired: %d, delta: %d", a.cfg.Symbol, a.desiredPosition, delta)
	_, err := a.tryCreate(nil, a.sideFor(delta), schema.MarketType(delta), 0, delta.Abs(), schema.OrderFlagAdjustment)
	return err
}
