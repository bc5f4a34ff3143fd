package core

import (
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"reconciler/internal/risk"
	"reconciler/internal/schema"
	"reconciler/internal/store"
	"reconciler/pkg/exception"
)

// throttled reports whether new orders are suppressed after repeated rejects.
func (a *Algorithm) throttled() bool {
	if a.rejectCounter > a.cfg.RejectThreshold {
		a.metrics.IncThrottled()
		logs.Debugf("ignore new order after %d rejects, symbol: %s", a.rejectCounter, a.cfg.Symbol)
		return true
	}
	return false
}

func (a *Algorithm) riskBlocked(order *schema.PhysicalOrder) bool {
	reason := a.risk.Check(order, risk.StateView{
		Position:       a.book.Positions().Actual(a.cfg.Symbol),
		ReferencePrice: a.referencePrice,
		Now:            a.now(),
	})
	if reason == schema.RiskReasonNone {
		return false
	}
	a.metrics.IncRiskReason(reason)
	logs.Warnf("risk blocked order, symbol: %s, reason: %s, order: %s", a.cfg.Symbol, reason, order)
	return true
}

// stamp assigns the next local sequence when the book keeps one.
func (a *Algorithm) stamp(order *schema.PhysicalOrder) {
	if s, ok := a.book.(sequencer); ok {
		order.Sequence = s.NextLocalSequence()
	}
}

// submit indexes order, sends it and rolls it back when the handler refuses it.
// The index guard is never held while the handler runs.
func (a *Algorithm) submit(t *store.Txn, order *schema.PhysicalOrder, send func(*schema.PhysicalOrder) bool) (bool, error) {
	a.stamp(order)
	if err := t.SetOrder(order); err != nil {
		t.EndTransaction()
		return false, err
	}
	t.EndTransaction()

	accepted := send(order)
	a.metrics.IncCommand(order.Action, accepted)
	if a.commands != nil {
		a.commands.OnCommand(order, accepted)
	}
	if accepted {
		return true, nil
	}

	logs.Warnf("broker command refused, symbol: %s, order: %s", a.cfg.Symbol, order)
	rollback := a.book.BeginTransaction()
	rollback.RemoveOrder(order.BrokerOrder)
	rollback.EndTransaction()
	return false, nil
}

// tryCreate sends a new order. logical is nil for adjustment orders.
func (a *Algorithm) tryCreate(logical *schema.LogicalOrder, side schema.OrderSide, typ schema.OrderType, price schema.Price, size schema.Quantity, flags schema.OrderFlags) (bool, error) {
	if a.throttled() {
		return false, nil
	}
	order, err := schema.NewPhysicalOrder(schema.PhysicalOrderConfig{
		Action:      schema.OrderActionCreate,
		State:       schema.OrderStatePendingNew,
		Symbol:      a.cfg.Symbol,
		Side:        side,
		Type:        typ,
		Price:       price,
		Size:        size,
		Logical:     logical,
		BrokerOrder: a.ids.Next(),
		Flags:       flags,
		Time:        a.now(),
	})
	if err != nil {
		return false, err
	}

	t := a.book.BeginTransaction()
	if t.HasCreateOrder(order) {
		t.EndTransaction()
		logs.Debugf("skip duplicate create, symbol: %s, order: %s", a.cfg.Symbol, order)
		return false, nil
	}
	if a.riskBlocked(order) {
		t.EndTransaction()
		return false, nil
	}
	return a.submit(t, order, a.handler.OnCreateBrokerOrder)
}

// tryChange replaces physical with an order of the new size and price.
func (a *Algorithm) tryChange(logical schema.LogicalOrder, physical *schema.PhysicalOrder, side schema.OrderSide, size schema.Quantity, price schema.Price) (bool, error) {
	if a.throttled() {
		return false, nil
	}

	t := a.book.BeginTransaction()
	if physical.ReplacedBy != nil {
		t.EndTransaction()
		logs.Debugf("skip change of replaced order, symbol: %s, order: %s", a.cfg.Symbol, physical)
		return false, nil
	}
	probe := &schema.PhysicalOrder{Side: side, Type: physical.Type, Price: price, Size: size}
	if a.riskBlocked(probe) {
		t.EndTransaction()
		return false, nil
	}
	order, err := schema.NewPhysicalOrder(schema.PhysicalOrderConfig{
		Action:        schema.OrderActionChange,
		State:         schema.OrderStatePending,
		Symbol:        a.cfg.Symbol,
		Side:          side,
		Type:          physical.Type,
		Price:         price,
		Size:          size,
		Logical:       &logical,
		BrokerOrder:   a.ids.Next(),
		OriginalOrder: physical,
		Flags:         physical.Flags &^ schema.OrderFlagOffsetTooLateToCancel,
		Time:          a.now(),
	})
	if err != nil {
		t.EndTransaction()
		return false, err
	}
	return a.submit(t, order, a.handler.OnChangeBrokerOrder)
}

// tryCancel cancels physical unless a cancel is already on its way. Canceling
// the same order more than CancelLimit times trips the breaker.
func (a *Algorithm) tryCancel(physical *schema.PhysicalOrder) (bool, error) {
	if physical.Action == schema.OrderActionCancel {
		return false, nil
	}
	if physical.Flags.Has(schema.OrderFlagOffsetTooLateToCancel) {
		logs.Debugf("skip cancel, too late to cancel, symbol: %s, order: %s", a.cfg.Symbol, physical)
		return false, nil
	}

	t := a.book.BeginTransaction()
	if physical.ReplacedBy != nil {
		t.EndTransaction()
		logs.Debugf("skip cancel of replaced order, symbol: %s, order: %s", a.cfg.Symbol, physical)
		return false, nil
	}
	if t.HasCancelOrder(&schema.PhysicalOrder{Action: schema.OrderActionCancel, OriginalOrder: physical}) {
		t.EndTransaction()
		logs.Debugf("skip duplicate cancel, symbol: %s, order: %s", a.cfg.Symbol, physical)
		return false, nil
	}

	physical.CancelCount++
	if physical.CancelCount > a.cfg.CancelLimit {
		t.EndTransaction()
		return false, errors.Wrapf(exception.ErrRunawayCancel, "canceled %d times, order: %s", physical.CancelCount, physical)
	}
	if err := t.SetOrder(physical); err != nil {
		t.EndTransaction()
		return false, err
	}

	order, err := schema.NewPhysicalOrder(schema.PhysicalOrderConfig{
		Action:        schema.OrderActionCancel,
		State:         schema.OrderStatePending,
		Symbol:        a.cfg.Symbol,
		BrokerOrder:   a.ids.Next(),
		OriginalOrder: physical,
		Time:          a.now(),
	})
	if err != nil {
		t.EndTransaction()
		return false, err
	}
	a.cancelsIssued++
	return a.submit(t, order, a.handler.OnCancelBrokerOrder)
}
