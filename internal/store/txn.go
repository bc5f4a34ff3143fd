package store

import (
	"slices"
	"sort"

	"github.com/yanun0323/errors"

	"reconciler/internal/schema"
	"reconciler/pkg/exception"
)

// Txn is the exclusive guard over the order indices. Every index read or
// mutation goes through a Txn obtained from Cache.BeginTransaction and must be
// released with EndTransaction.
type Txn struct {
	c       *Cache
	updates int
	done    bool
}

// EndTransaction releases the guard. Calling it twice is a no-op.
func (t *Txn) EndTransaction() {
	if t.done {
		return
	}
	t.done = true
	updates := t.updates
	t.c.mu.Unlock()
	if updates > 0 && t.c.onCommit != nil {
		t.c.onCommit(updates)
	}
}

// SetOrder indexes the order by broker id, by sequence when non-zero and by
// serial number when non-zero, and links its original back to it. Setting an
// already indexed order refreshes its keys.
func (t *Txn) SetOrder(order *schema.PhysicalOrder) error {
	if order == nil {
		return exception.ErrNilInstance
	}
	if order.BrokerOrder == 0 {
		return errors.Wrapf(exception.ErrOrderZeroBrokerID, "order: %s", order)
	}
	if order.Action != schema.OrderActionCreate && order.OriginalOrder == nil {
		return errors.Wrapf(exception.ErrMissingOriginalOrder, "order: %s", order)
	}

	if prev, ok := t.c.byBroker[order.BrokerOrder]; ok {
		t.unindex(prev)
	}
	entry := indexEntry{
		order:    order,
		sequence: order.Sequence,
		serial:   order.LogicalSerialNumber,
	}
	t.c.byBroker[order.BrokerOrder] = entry
	if entry.sequence != 0 {
		t.c.bySequence[entry.sequence] = order
	}
	if entry.serial != 0 {
		t.c.bySerial[entry.serial] = append(t.c.bySerial[entry.serial], order)
	}
	schema.LinkReplacement(order.OriginalOrder, order)
	t.updates++
	return nil
}

// RemoveOrder purges the order from every index and cuts the ReplacedBy link
// its original order holds. It returns nil for an unknown or zero id.
func (t *Txn) RemoveOrder(brokerOrder int64) *schema.PhysicalOrder {
	if brokerOrder == 0 {
		return nil
	}
	entry, ok := t.c.byBroker[brokerOrder]
	if !ok {
		return nil
	}
	t.unindex(entry)
	schema.Unlink(entry.order.OriginalOrder, entry.order)
	t.updates++
	return entry.order
}

func (t *Txn) unindex(entry indexEntry) {
	delete(t.c.byBroker, entry.order.BrokerOrder)
	if entry.sequence != 0 && t.c.bySequence[entry.sequence] == entry.order {
		delete(t.c.bySequence, entry.sequence)
	}
	if entry.serial != 0 {
		slot := slices.DeleteFunc(t.c.bySerial[entry.serial], func(o *schema.PhysicalOrder) bool {
			return o == entry.order
		})
		if len(slot) == 0 {
			delete(t.c.bySerial, entry.serial)
		} else {
			t.c.bySerial[entry.serial] = slot
		}
	}
}

// Clear drops every order from the indices.
func (t *Txn) Clear() {
	if len(t.c.byBroker) > 0 {
		t.updates++
	}
	clear(t.c.byBroker)
	clear(t.c.bySequence)
	clear(t.c.bySerial)
}

// Len returns the number of orders indexed by broker id.
func (t *Txn) Len() int {
	return len(t.c.byBroker)
}

// Orders returns every indexed order sorted by broker id.
func (t *Txn) Orders() []*schema.PhysicalOrder {
	orders := make([]*schema.PhysicalOrder, 0, len(t.c.byBroker))
	for _, entry := range t.c.byBroker {
		orders = append(orders, entry.order)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].BrokerOrder < orders[j].BrokerOrder
	})
	return orders
}

// ActiveOrders returns the orders of a symbol that are not filled, sorted by broker id.
func (t *Txn) ActiveOrders(symbol string) []*schema.PhysicalOrder {
	var orders []*schema.PhysicalOrder
	for _, entry := range t.c.byBroker {
		o := entry.order
		if o.Symbol == symbol && o.State != schema.OrderStateFilled {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].BrokerOrder < orders[j].BrokerOrder
	})
	return orders
}

// OrderByID looks up an order by broker id.
func (t *Txn) OrderByID(brokerOrder int64) (*schema.PhysicalOrder, bool) {
	entry, ok := t.c.byBroker[brokerOrder]
	return entry.order, ok
}

// OrderBySequence looks up an order by sequence.
func (t *Txn) OrderBySequence(sequence int64) (*schema.PhysicalOrder, bool) {
	o, ok := t.c.bySequence[sequence]
	return o, ok
}

// OrderBySerial returns the newest order of the serial number slot.
func (t *Txn) OrderBySerial(serial int64) (*schema.PhysicalOrder, bool) {
	slot := t.c.bySerial[serial]
	if len(slot) == 0 {
		return nil, false
	}
	return slot[len(slot)-1], true
}

// SerialOrders returns a copy of the serial number slot in insertion order.
func (t *Txn) SerialOrders(serial int64) []*schema.PhysicalOrder {
	return slices.Clone(t.c.bySerial[serial])
}

// Serials returns the serial numbers with at least one order, ascending.
func (t *Txn) Serials() []int64 {
	serials := make([]int64, 0, len(t.c.bySerial))
	for serial := range t.c.bySerial {
		serials = append(serials, serial)
	}
	slices.Sort(serials)
	return serials
}

// HasCreateOrder reports whether a pending create for the same symbol, serial,
// side and price is already in flight.
func (t *Txn) HasCreateOrder(order *schema.PhysicalOrder) bool {
	match := func(o *schema.PhysicalOrder) bool {
		return o != order &&
			o.Action == schema.OrderActionCreate &&
			o.IsPending() &&
			o.Symbol == order.Symbol &&
			o.LogicalSerialNumber == order.LogicalSerialNumber &&
			o.Side.Sign() == order.Side.Sign() &&
			o.Price == order.Price
	}
	if order.LogicalSerialNumber != 0 {
		return slices.ContainsFunc(t.c.bySerial[order.LogicalSerialNumber], match)
	}
	for _, entry := range t.c.byBroker {
		if match(entry.order) {
			return true
		}
	}
	return false
}

// HasCancelOrder reports whether a cancel for the same original order is already indexed.
func (t *Txn) HasCancelOrder(order *schema.PhysicalOrder) bool {
	if order.OriginalOrder == nil {
		return false
	}
	target := order.OriginalOrder.BrokerOrder
	for _, entry := range t.c.byBroker {
		o := entry.order
		if o != order && o.Action == schema.OrderActionCancel && o.OriginalOrder != nil && o.OriginalOrder.BrokerOrder == target {
			return true
		}
	}
	return false
}
