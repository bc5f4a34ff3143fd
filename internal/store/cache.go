package store

import (
	"iter"
	"sync"

	"github.com/yanun0323/errors"

	"reconciler/internal/schema"
	"reconciler/internal/state"
	"reconciler/pkg/exception"
)

// Cache is the in-memory multi-index over physical orders plus the position book.
//
// The order indices are guarded by an exclusive lock taken through
// BeginTransaction. Positions have their own lock inside state.Positions, so
// position reads never wait on an order transaction.
type Cache struct {
	mu         sync.Mutex
	byBroker   map[int64]indexEntry
	bySequence map[int64]*schema.PhysicalOrder
	bySerial   map[int64][]*schema.PhysicalOrder

	positions *state.Positions
	onCommit  func(updates int)
}

// indexEntry remembers the keys an order was indexed under, so a later
// mutation of the order's fields cannot leave stale keys behind.
type indexEntry struct {
	order    *schema.PhysicalOrder
	sequence int64
	serial   int64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		byBroker:   make(map[int64]indexEntry),
		bySequence: make(map[int64]*schema.PhysicalOrder),
		bySerial:   make(map[int64][]*schema.PhysicalOrder),
		positions:  state.NewPositions(),
	}
}

// BeginTransaction takes the exclusive guard over the order indices.
func (c *Cache) BeginTransaction() *Txn {
	c.mu.Lock()
	return &Txn{c: c}
}

func (c *Cache) view(fn func(t *Txn)) {
	t := c.BeginTransaction()
	defer t.EndTransaction()
	fn(t)
}

// SetOrder indexes the order in a one-shot transaction.
func (c *Cache) SetOrder(order *schema.PhysicalOrder) (err error) {
	c.view(func(t *Txn) { err = t.SetOrder(order) })
	return err
}

// RemoveOrder purges the order in a one-shot transaction.
func (c *Cache) RemoveOrder(brokerOrder int64) (order *schema.PhysicalOrder) {
	c.view(func(t *Txn) { order = t.RemoveOrder(brokerOrder) })
	return order
}

// GetActiveOrders yields the non-filled orders of a symbol. Every iteration
// takes a fresh copy of the index.
func (c *Cache) GetActiveOrders(symbol string) iter.Seq[*schema.PhysicalOrder] {
	return func(yield func(*schema.PhysicalOrder) bool) {
		var orders []*schema.PhysicalOrder
		c.view(func(t *Txn) { orders = t.ActiveOrders(symbol) })
		for _, o := range orders {
			if !yield(o) {
				return
			}
		}
	}
}

// HasUnsettledOrders reports whether symbol has orders that are pending or
// expired, which only a later compare pass resolves.
func (c *Cache) HasUnsettledOrders(symbol string) (ok bool) {
	c.view(func(t *Txn) {
		for _, o := range t.ActiveOrders(symbol) {
			if o.IsPending() || o.State == schema.OrderStateExpired {
				ok = true
				return
			}
		}
	})
	return ok
}

// GetOrders returns every indexed order sorted by broker id.
func (c *Cache) GetOrders() (orders []*schema.PhysicalOrder) {
	c.view(func(t *Txn) { orders = t.Orders() })
	return orders
}

// TryGetOrderByID looks up an order by broker id.
func (c *Cache) TryGetOrderByID(brokerOrder int64) (order *schema.PhysicalOrder, ok bool) {
	c.view(func(t *Txn) { order, ok = t.OrderByID(brokerOrder) })
	return order, ok
}

// TryGetOrderBySerial returns the newest order with the serial number.
func (c *Cache) TryGetOrderBySerial(serial int64) (order *schema.PhysicalOrder, ok bool) {
	c.view(func(t *Txn) { order, ok = t.OrderBySerial(serial) })
	return order, ok
}

// TryGetOrderBySequence looks up an order by sequence.
func (c *Cache) TryGetOrderBySequence(sequence int64) (order *schema.PhysicalOrder, ok bool) {
	c.view(func(t *Txn) { order, ok = t.OrderBySequence(sequence) })
	return order, ok
}

// GetOrderByID is TryGetOrderByID returning exception.ErrOrderNotFound on a miss.
func (c *Cache) GetOrderByID(brokerOrder int64) (*schema.PhysicalOrder, error) {
	order, ok := c.TryGetOrderByID(brokerOrder)
	if !ok {
		return nil, errors.Wrapf(exception.ErrOrderNotFound, "broker order: %d", brokerOrder)
	}
	return order, nil
}

// GetOrderBySerial is TryGetOrderBySerial returning exception.ErrOrderNotFound on a miss.
func (c *Cache) GetOrderBySerial(serial int64) (*schema.PhysicalOrder, error) {
	order, ok := c.TryGetOrderBySerial(serial)
	if !ok {
		return nil, errors.Wrapf(exception.ErrOrderNotFound, "serial: %d", serial)
	}
	return order, nil
}

// HasCreateOrder reports whether an equivalent create is already in flight.
func (c *Cache) HasCreateOrder(order *schema.PhysicalOrder) (ok bool) {
	c.view(func(t *Txn) { ok = t.HasCreateOrder(order) })
	return ok
}

// HasCancelOrder reports whether a cancel for the same original is already indexed.
func (c *Cache) HasCancelOrder(order *schema.PhysicalOrder) (ok bool) {
	c.view(func(t *Txn) { ok = t.HasCancelOrder(order) })
	return ok
}

// Positions exposes the position book.
func (c *Cache) Positions() *state.Positions {
	return c.positions
}

// SetActualPosition replaces the actual position of a symbol.
func (c *Cache) SetActualPosition(symbol string, qty schema.Quantity) {
	c.positions.SetActual(symbol, qty)
}

// GetActualPosition returns the actual position of a symbol.
func (c *Cache) GetActualPosition(symbol string) schema.Quantity {
	return c.positions.Actual(symbol)
}

// IncreaseActualPosition adds delta and returns the new position.
func (c *Cache) IncreaseActualPosition(symbol string, delta schema.Quantity) schema.Quantity {
	return c.positions.IncreaseActual(symbol, delta)
}

// SetStrategyPosition merges a strategy position using the recency rule.
func (c *Cache) SetStrategyPosition(id int64, symbol string, qty schema.Quantity, recency int64) (bool, error) {
	return c.positions.SetStrategy(id, symbol, qty, recency)
}

// GetStrategyPosition returns the strategy position, if known.
func (c *Cache) GetStrategyPosition(id int64) (state.StrategyPosition, bool) {
	return c.positions.Strategy(id)
}

// SyncPositions merges externally supplied strategy positions.
func (c *Cache) SyncPositions(positions iter.Seq[state.StrategyPosition]) error {
	return c.positions.Sync(positions)
}
