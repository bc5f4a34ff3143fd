package core

import (
	"github.com/yanun0323/logs"

	"reconciler/internal/schema"
	"reconciler/internal/store"
)

// ConfirmActive marks an order active at the broker.
func (a *Algorithm) ConfirmActive(brokerOrder int64, isRecovered bool) error {
	return a.confirm(brokerOrder, isRecovered, func(t *store.Txn, o *schema.PhysicalOrder) error {
		o.State = schema.OrderStateActive
		return t.SetOrder(o)
	})
}

// ConfirmCreate marks a new order accepted by the broker.
func (a *Algorithm) ConfirmCreate(brokerOrder int64, isRecovered bool) error {
	return a.ConfirmActive(brokerOrder, isRecovered)
}

// ConfirmChange makes the change order the working order and purges the order
// it replaced.
func (a *Algorithm) ConfirmChange(brokerOrder int64, isRecovered bool) error {
	return a.confirm(brokerOrder, isRecovered, func(t *store.Txn, o *schema.PhysicalOrder) error {
		o.State = schema.OrderStateActive
		if original := o.OriginalOrder; original != nil {
			t.RemoveOrder(original.BrokerOrder)
			original.OriginalOrder = nil
		}
		return t.SetOrder(o)
	})
}

// ConfirmCancel removes the cancel order and the order it canceled. The broker
// may report either id.
func (a *Algorithm) ConfirmCancel(brokerOrder int64, isRecovered bool) error {
	return a.confirm(brokerOrder, isRecovered, func(t *store.Txn, o *schema.PhysicalOrder) error {
		if o.Action == schema.OrderActionCancel {
			t.RemoveOrder(o.BrokerOrder)
			if original := o.OriginalOrder; original != nil {
				t.RemoveOrder(original.BrokerOrder)
			}
			return nil
		}
		t.RemoveOrder(o.BrokerOrder)
		if cancel := o.ReplacedBy; cancel != nil && cancel.Action == schema.OrderActionCancel {
			t.RemoveOrder(cancel.BrokerOrder)
		}
		return nil
	})
}

func (a *Algorithm) confirm(brokerOrder int64, isRecovered bool, apply func(*store.Txn, *schema.PhysicalOrder) error) error {
	if a.halted != nil {
		return a.halted
	}
	t := a.book.BeginTransaction()
	o, ok := t.OrderByID(brokerOrder)
	if !ok {
		t.EndTransaction()
		logs.Debugf("ignore confirm of unknown order, symbol: %s, broker order: %d", a.cfg.Symbol, brokerOrder)
		return nil
	}
	o.Touch(a.now())
	err := apply(t, o)
	t.EndTransaction()
	if err != nil {
		return err
	}

	a.rejectCounter = 0
	if !isRecovered {
		return nil
	}
	return a.performCompare()
}

// RejectOrder drops a rejected order. Real-time rejects count towards the
// reject throttle until the next confirm.
func (a *Algorithm) RejectOrder(brokerOrder int64, removeOriginal, isRealTime, retryImmediately bool) error {
	if a.halted != nil {
		return a.halted
	}
	a.metrics.IncBrokerReject()

	t := a.book.BeginTransaction()
	o := t.RemoveOrder(brokerOrder)
	if o != nil && removeOriginal && o.OriginalOrder != nil {
		t.RemoveOrder(o.OriginalOrder.BrokerOrder)
	}
	t.EndTransaction()

	if o == nil {
		logs.Debugf("ignore reject of unknown order, symbol: %s, broker order: %d", a.cfg.Symbol, brokerOrder)
		return nil
	}
	if isRealTime {
		a.rejectCounter++
	}
	logs.Warnf("order rejected, symbol: %s, rejects: %d, order: %s", a.cfg.Symbol, a.rejectCounter, o)
	if !retryImmediately {
		return nil
	}
	return a.performCompare()
}
