package og

import (
	"sort"

	"github.com/yanun0323/errors"

	"reconciler/internal/schema"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidFill       = errors.New("invalid fill quantity")
)

// OrderState tracks the lifecycle of an order at the venue.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStateAcked
	OrderStatePartFilled
	OrderStateFilled
	OrderStateCanceled
	OrderStateReplaced
)

func (s OrderState) String() string {
	switch s {
	case OrderStateAcked:
		return "acked"
	case OrderStatePartFilled:
		return "part_filled"
	case OrderStateFilled:
		return "filled"
	case OrderStateCanceled:
		return "canceled"
	case OrderStateReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Order holds the venue's view of an order.
type Order struct {
	ID        int64
	Symbol    string
	Side      schema.OrderSide
	Type      schema.OrderType
	Price     schema.Price
	Qty       schema.Quantity
	LeavesQty schema.Quantity
	State     OrderState
}

// Working reports whether the order can still trade.
func (o *Order) Working() bool {
	return o.State == OrderStateAcked || o.State == OrderStatePartFilled
}

// Crosses reports whether the order trades at the given market price.
func (o *Order) Crosses(price schema.Price) bool {
	switch o.Type {
	case schema.OrderTypeBuyMarket, schema.OrderTypeSellMarket:
		return price > 0
	case schema.OrderTypeBuyLimit:
		return price <= o.Price
	case schema.OrderTypeSellLimit:
		return price >= o.Price
	case schema.OrderTypeBuyStop:
		return price >= o.Price
	case schema.OrderTypeSellStop:
		return price <= o.Price
	default:
		return false
	}
}

// FillPrice returns the execution price for a fill at the given market price.
func (o *Order) FillPrice(market schema.Price) schema.Price {
	switch o.Type {
	case schema.OrderTypeBuyLimit, schema.OrderTypeSellLimit:
		return o.Price
	default:
		return market
	}
}

// StateMachine updates venue orders from broker commands and fills.
type StateMachine struct {
	orders map[int64]*Order
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[int64]*Order)}
}

// Order returns the current order state.
func (m *StateMachine) Order(id int64) (*Order, bool) {
	o, ok := m.orders[id]
	return o, ok
}

// Working returns the tradable orders of a symbol sorted by id.
func (m *StateMachine) Working(symbol string) []*Order {
	var out []*Order
	for _, o := range m.orders {
		if o.Symbol == symbol && o.Working() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyCreate acknowledges a new order.
func (m *StateMachine) ApplyCreate(order *schema.PhysicalOrder) (*Order, error) {
	if order.BrokerOrder == 0 {
		return nil, ErrUnknownOrder
	}
	if _, ok := m.orders[order.BrokerOrder]; ok {
		return nil, errors.Wrapf(ErrDuplicateOrder, "id: %d", order.BrokerOrder)
	}
	if order.Size <= 0 {
		return nil, errors.Wrapf(ErrInvalidFill, "id: %d, size: %d", order.BrokerOrder, order.Size)
	}
	o := &Order{
		ID:        order.BrokerOrder,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Type:      order.Type,
		Price:     order.Price,
		Qty:       order.Size,
		LeavesQty: order.Size,
		State:     OrderStateAcked,
	}
	m.orders[o.ID] = o
	return o, nil
}

// ApplyChange replaces the working original of change with a new order.
func (m *StateMachine) ApplyChange(change *schema.PhysicalOrder) (*Order, error) {
	if change.OriginalOrder == nil {
		return nil, ErrUnknownOrder
	}
	original, ok := m.orders[change.OriginalOrder.BrokerOrder]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownOrder, "id: %d", change.OriginalOrder.BrokerOrder)
	}
	if !original.Working() {
		return original, errors.Wrapf(ErrInvalidTransition, "change %s order %d", original.State, original.ID)
	}
	o, err := m.ApplyCreate(change)
	if err != nil {
		return nil, err
	}
	original.State = OrderStateReplaced
	original.LeavesQty = 0
	return o, nil
}

// ApplyCancel cancels a working order.
func (m *StateMachine) ApplyCancel(id int64) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownOrder, "id: %d", id)
	}
	if !o.Working() {
		return o, errors.Wrapf(ErrInvalidTransition, "cancel %s order %d", o.State, o.ID)
	}
	o.State = OrderStateCanceled
	o.LeavesQty = 0
	return o, nil
}

// ApplyFill updates an order from a fill.
func (m *StateMachine) ApplyFill(id int64, qty schema.Quantity) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownOrder, "id: %d", id)
	}
	if !o.Working() {
		return o, errors.Wrapf(ErrInvalidTransition, "fill %s order %d", o.State, o.ID)
	}
	if qty <= 0 || qty > o.LeavesQty {
		return o, errors.Wrapf(ErrInvalidFill, "id: %d, qty: %d, leaves: %d", o.ID, qty, o.LeavesQty)
	}
	o.LeavesQty -= qty
	if o.LeavesQty == 0 {
		o.State = OrderStateFilled
	} else {
		o.State = OrderStatePartFilled
	}
	return o, nil
}

// Prune drops orders that can no longer trade.
func (m *StateMachine) Prune() int {
	n := 0
	for id, o := range m.orders {
		if !o.Working() {
			delete(m.orders, id)
			n++
		}
	}
	return n
}
