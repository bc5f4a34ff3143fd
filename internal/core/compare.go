package core

import (
	"slices"
	"time"

	"github.com/yanun0323/logs"

	"reconciler/internal/schema"
)

// performCompare runs compare passes until no request is left.
func (a *Algorithm) performCompare() error {
	if !a.scheduler.enter() {
		return nil
	}
	for {
		if err := a.comparePass(); err != nil {
			a.scheduler.reset()
			return err
		}
		if !a.scheduler.next() {
			break
		}
	}
	if s, ok := a.book.(snapshotter); ok {
		if _, err := s.TrySnapshot(); err != nil {
			logs.Errorf("try snapshot after compare, symbol: %s, err: %+v", a.cfg.Symbol, err)
		}
	}
	return nil
}

func (a *Algorithm) comparePass() error {
	start := time.Now()
	reconciled, err := a.performCompareInternal()
	if err != nil {
		return a.trip(err)
	}
	a.metrics.ObserveCompare(time.Since(start), reconciled)
	if reconciled {
		a.setWaitingForMatch(false)
	}
	return nil
}

// performCompareInternal is one diff of logical against physical orders. It
// reports true only when the physical book already matched every logical order.
func (a *Algorithm) performCompareInternal() (bool, error) {
	if err := a.checkForPending(); err != nil {
		return false, err
	}

	t := a.book.BeginTransaction()
	physicals := t.ActiveOrders(a.cfg.Symbol)
	t.EndTransaction()

	for _, o := range physicals {
		if o.IsPending() {
			logs.Debugf("compare blocked by pending order, symbol: %s, order: %s", a.cfg.Symbol, o)
			return false, nil
		}
	}

	a.cancelsIssued = 0
	reconciled := true
	var creates []func() (bool, error)

	extras := make([]*schema.PhysicalOrder, 0, len(physicals))
	for _, o := range physicals {
		if o.Action == schema.OrderActionCancel || o.ReplacedBy != nil || o.IsAdjustment() {
			continue
		}
		extras = append(extras, o)
	}

	var missing []schema.LogicalOrder
	for _, logical := range a.logicals {
		var matches []*schema.PhysicalOrder
		extras = slices.DeleteFunc(extras, func(o *schema.PhysicalOrder) bool {
			if o.LogicalSerialNumber != logical.SerialNumber || !matchable(o) {
				return false
			}
			matches = append(matches, o)
			return true
		})
		if len(matches) == 0 {
			missing = append(missing, logical)
			continue
		}

		var (
			acted bool
			err   error
		)
		if logical.IsMultiLevel() {
			acted, err = a.processMultiLevel(logical, matches, &creates)
		} else {
			acted, err = a.processMatch(logical, matches[0])
			for _, surplus := range matches[1:] {
				if _, err2 := a.tryCancel(surplus); err2 != nil {
					return false, err2
				}
				acted = true
			}
		}
		if err != nil {
			return false, err
		}
		if acted {
			reconciled = false
		}
	}

	for _, o := range extras {
		if _, err := a.tryCancel(o); err != nil {
			return false, err
		}
		reconciled = false
	}

	for _, logical := range missing {
		creates = append(creates, a.processMissingPhysical(logical)...)
	}
	if len(creates) > 0 {
		reconciled = false
		if a.cancelsIssued > 0 {
			logs.Debugf("defer %d creates until %d cancels complete, symbol: %s", len(creates), a.cancelsIssued, a.cfg.Symbol)
			return false, nil
		}
		for _, create := range creates {
			if _, err := create(); err != nil {
				return false, err
			}
		}
	}
	return reconciled, nil
}

// matchable excludes orders that can no longer represent a logical order.
func matchable(o *schema.PhysicalOrder) bool {
	switch o.State {
	case schema.OrderStateSuspended, schema.OrderStateFilled, schema.OrderStateExpired:
		return false
	}
	return o.ReplacedBy == nil && o.Action != schema.OrderActionCancel
}

// desired computes the physical order a logical order needs right now. ok is
// false when nothing should be working for it.
func (a *Algorithm) desired(logical schema.LogicalOrder) (side schema.OrderSide, size schema.Quantity, ok bool) {
	strategyPos := a.book.Positions().StrategyExpected(logical.StrategyID)
	target := logical.SignedPosition()

	var delta schema.Quantity
	switch logical.TradeDirection {
	case schema.TradeDirectionEntry:
		if strategyPos != 0 && sign(strategyPos) != sign(target) {
			return 0, 0, false
		}
		difference := logical.Position - strategyPos.Abs()
		if difference <= 0 {
			return 0, 0, false
		}
		delta = difference * sign(target)
	case schema.TradeDirectionExit, schema.TradeDirectionExitStrategy:
		if strategyPos == 0 || sign(strategyPos) == sign(target) {
			return 0, 0, false
		}
		delta = -strategyPos
	case schema.TradeDirectionReverse:
		delta = target - strategyPos
		if delta == 0 || sign(delta) != sign(target) {
			return 0, 0, false
		}
	case schema.TradeDirectionChange:
		delta = target - a.changeFills[logical.SerialNumber]
		if delta == 0 || sign(delta) != sign(target) {
			return 0, 0, false
		}
	default:
		logs.Warnf("unknown trade direction, symbol: %s, logical: %s", a.cfg.Symbol, logical)
		return 0, 0, false
	}
	return a.sideFor(delta), delta.Abs(), true
}

// sideFor picks Buy for a positive delta. Sells are Sell while the symbol is
// long and SellShort otherwise.
func (a *Algorithm) sideFor(delta schema.Quantity) schema.OrderSide {
	if delta > 0 {
		return schema.OrderSideBuy
	}
	if a.book.Positions().Actual(a.cfg.Symbol) > 0 {
		return schema.OrderSideSell
	}
	return schema.OrderSideSellShort
}

// processMatch reconciles a single-level logical order with its physical order.
func (a *Algorithm) processMatch(logical schema.LogicalOrder, physical *schema.PhysicalOrder) (bool, error) {
	side, size, ok := a.desired(logical)
	if !ok || physical.Side.Sign() != side.Sign() {
		_, err := a.tryCancel(physical)
		return true, err
	}
	if physical.Size != size || physical.Price != logical.Price {
		_, err := a.tryChange(logical, physical, side, size, logical.Price)
		return true, err
	}
	return false, nil
}

// processMultiLevel matches the planned levels against the physical orders by
// price, first match wins. Creates for missing levels are queued on creates.
func (a *Algorithm) processMultiLevel(logical schema.LogicalOrder, matches []*schema.PhysicalOrder, creates *[]func() (bool, error)) (bool, error) {
	side, total, ok := a.desired(logical)
	acted := false
	available := slices.Clone(matches)
	if ok {
		for _, level := range logical.PlanLevels(total, a.cfg.MinimumTick) {
			idx := slices.IndexFunc(available, func(o *schema.PhysicalOrder) bool {
				return o.Price == level.Price
			})
			if idx < 0 {
				*creates = append(*creates, a.createFunc(logical, side, level.Price, level.Size))
				continue
			}
			physical := available[idx]
			available = slices.Delete(available, idx, idx+1)
			switch {
			case physical.Side.Sign() != side.Sign():
				if _, err := a.tryCancel(physical); err != nil {
					return true, err
				}
				acted = true
			case physical.Size != level.Size:
				if _, err := a.tryChange(logical, physical, side, level.Size, level.Price); err != nil {
					return true, err
				}
				acted = true
			}
		}
	}
	for _, surplus := range available {
		if _, err := a.tryCancel(surplus); err != nil {
			return true, err
		}
		acted = true
	}
	return acted, nil
}

// processMissingPhysical returns the creates a logical order without physical
// orders needs.
func (a *Algorithm) processMissingPhysical(logical schema.LogicalOrder) []func() (bool, error) {
	side, size, ok := a.desired(logical)
	if !ok {
		return nil
	}
	var creates []func() (bool, error)
	for _, level := range logical.PlanLevels(size, a.cfg.MinimumTick) {
		creates = append(creates, a.createFunc(logical, side, level.Price, level.Size))
	}
	return creates
}

func (a *Algorithm) createFunc(logical schema.LogicalOrder, side schema.OrderSide, price schema.Price, size schema.Quantity) func() (bool, error) {
	return func() (bool, error) {
		return a.tryCreate(&logical, side, logical.Type, price, size, 0)
	}
}

func sign(q schema.Quantity) schema.Quantity {
	switch {
	case q > 0:
		return 1
	case q < 0:
		return -1
	default:
		return 0
	}
}
