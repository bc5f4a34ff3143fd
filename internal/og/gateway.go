package og

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"reconciler/internal/schema"
)

var ErrGatewayDisconnected = errors.New("order gateway disconnected")

// Sink receives the broker events of one symbol.
type Sink interface {
	OnConfirm(typ schema.EventType, brokerOrder int64) error
	OnReject(brokerOrder int64, removeOriginal, retryImmediately bool) error
	OnFill(fill schema.PhysicalFill) error
}

// Injector rewrites broker events before delivery.
type Injector interface {
	Process(ev BrokerEvent) []BrokerEvent
	Flush() []BrokerEvent
}

// BrokerEvent is an acknowledgment, reject or fill on its way to a Sink.
type BrokerEvent struct {
	Type        schema.EventType
	Symbol      string
	BrokerOrder int64
	Fill        schema.PhysicalFill

	RemoveOriginal   bool
	RetryImmediately bool
}

func (ev BrokerEvent) deliver(sink Sink) error {
	switch ev.Type {
	case schema.EventFill:
		return sink.OnFill(ev.Fill)
	case schema.EventReject:
		return sink.OnReject(ev.BrokerOrder, ev.RemoveOriginal, ev.RetryImmediately)
	default:
		return sink.OnConfirm(ev.Type, ev.BrokerOrder)
	}
}

// GatewayConfig controls the simulated venue.
type GatewayConfig struct {
	Session string
	// PruneEvery drops finished venue orders after this many commands. Zero keeps them.
	PruneEvery int
}

// Gateway is a simulated venue. It accepts broker commands from the
// reconciliation engines, acknowledges them and fills working orders when a
// market price crosses them.
type Gateway struct {
	mu        sync.Mutex
	cfg       GatewayConfig
	state     *StateMachine
	sinks     map[string]Sink
	prices    map[string]schema.Price
	injector  Injector
	connected bool
	commands  int
	now       func() time.Time
}

// NewGateway creates a new simulated venue.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	return &Gateway{
		cfg:       cfg,
		state:     NewStateMachine(),
		sinks:     make(map[string]Sink),
		prices:    make(map[string]schema.Price),
		connected: true,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithInjector routes every event through inj before delivery.
func (g *Gateway) WithInjector(inj Injector) *Gateway {
	g.injector = inj
	return g
}

// Register sets the receiver of the symbol's broker events.
func (g *Gateway) Register(symbol string, sink Sink) {
	g.mu.Lock()
	g.sinks[symbol] = sink
	g.mu.Unlock()
}

// State returns the underlying order state machine. Callers must not use it
// while the gateway is in use.
func (g *Gateway) State() *StateMachine {
	return g.state
}

// LastPrice returns the last market price seen for symbol.
func (g *Gateway) LastPrice(symbol string) schema.Price {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prices[symbol]
}

// Disconnect makes the venue refuse every command.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
}

// Reconnect makes the venue accept commands again.
func (g *Gateway) Reconnect() {
	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()
}

// Connected reports whether the venue accepts commands.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// OnCreateBrokerOrder acknowledges a new order. Market orders fill at the last
// price right away.
func (g *Gateway) OnCreateBrokerOrder(order *schema.PhysicalOrder) bool {
	events, ok := g.command(order, func() []BrokerEvent {
		o, err := g.state.ApplyCreate(order)
		if err != nil {
			logs.Warnf("reject create, session: %s, order: %s, err: %+v", g.cfg.Session, order, err)
			return []BrokerEvent{g.reject(order)}
		}
		events := []BrokerEvent{{Type: schema.EventConfirmCreate, Symbol: order.Symbol, BrokerOrder: order.BrokerOrder}}
		return append(events, g.match(o, g.prices[o.Symbol])...)
	})
	g.deliver(events)
	return ok
}

// OnChangeBrokerOrder replaces the original order with the change order.
func (g *Gateway) OnChangeBrokerOrder(order *schema.PhysicalOrder) bool {
	events, ok := g.command(order, func() []BrokerEvent {
		o, err := g.state.ApplyChange(order)
		if err != nil {
			logs.Warnf("reject change, session: %s, order: %s, err: %+v", g.cfg.Session, order, err)
			return []BrokerEvent{g.reject(order)}
		}
		events := []BrokerEvent{{Type: schema.EventConfirmChange, Symbol: order.Symbol, BrokerOrder: order.BrokerOrder}}
		return append(events, g.match(o, g.prices[o.Symbol])...)
	})
	g.deliver(events)
	return ok
}

// OnCancelBrokerOrder cancels the original order of the cancel order.
func (g *Gateway) OnCancelBrokerOrder(order *schema.PhysicalOrder) bool {
	events, ok := g.command(order, func() []BrokerEvent {
		if order.OriginalOrder == nil {
			return []BrokerEvent{g.reject(order)}
		}
		if _, err := g.state.ApplyCancel(order.OriginalOrder.BrokerOrder); err != nil {
			logs.Warnf("reject cancel, session: %s, order: %s, err: %+v", g.cfg.Session, order, err)
			return []BrokerEvent{g.reject(order)}
		}
		return []BrokerEvent{{Type: schema.EventConfirmCancel, Symbol: order.Symbol, BrokerOrder: order.BrokerOrder}}
	})
	g.deliver(events)
	return ok
}

// Restore adopts orders recovered from a snapshot so the venue knows them
// after a restart. Pending orders are acknowledged as if the venue had
// received them before the restart. It returns the number of adopted orders.
func (g *Gateway) Restore(orders []*schema.PhysicalOrder) int {
	orders = slices.Clone(orders)
	slices.SortFunc(orders, func(a, b *schema.PhysicalOrder) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})

	g.mu.Lock()
	var (
		events   []BrokerEvent
		restored int
	)
	for _, o := range orders {
		typ, err := g.restore(o)
		if err != nil {
			logs.Warnf("skip restored order, session: %s, order: %s, err: %+v", g.cfg.Session, o, err)
			continue
		}
		if typ == schema.EventUnknown {
			continue
		}
		restored++
		if o.IsPending() {
			events = append(events, BrokerEvent{Type: typ, Symbol: o.Symbol, BrokerOrder: o.BrokerOrder})
		}
	}
	g.mu.Unlock()

	g.send(events)
	return restored
}

// restore applies one recovered order. Must hold mu.
func (g *Gateway) restore(o *schema.PhysicalOrder) (schema.EventType, error) {
	switch {
	case o.Action == schema.OrderActionCancel:
		if !o.IsPending() || o.OriginalOrder == nil {
			return schema.EventUnknown, nil
		}
		_, err := g.state.ApplyCancel(o.OriginalOrder.BrokerOrder)
		return schema.EventConfirmCancel, err
	case o.Action == schema.OrderActionChange && o.IsPending() && o.OriginalOrder != nil:
		_, err := g.state.ApplyChange(o)
		return schema.EventConfirmChange, err
	case o.Action == schema.OrderActionChange:
		_, err := g.state.ApplyCreate(o)
		return schema.EventConfirmChange, err
	default:
		_, err := g.state.ApplyCreate(o)
		return schema.EventConfirmCreate, err
	}
}

// OnTick records a market price and fills every working order it crosses.
func (g *Gateway) OnTick(symbol string, price schema.Price) {
	g.mu.Lock()
	g.prices[symbol] = price
	var events []BrokerEvent
	for _, o := range g.state.Working(symbol) {
		events = append(events, g.match(o, price)...)
	}
	g.mu.Unlock()
	g.deliver(events)
}

// Flush delivers events the injector still holds back.
func (g *Gateway) Flush() {
	if g.injector == nil {
		return
	}
	g.mu.Lock()
	events := g.injector.Flush()
	g.mu.Unlock()
	g.send(events)
}

func (g *Gateway) command(order *schema.PhysicalOrder, apply func() []BrokerEvent) ([]BrokerEvent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		logs.Warnf("refuse command, session: %s, order: %s, err: %+v", g.cfg.Session, order, ErrGatewayDisconnected)
		return nil, false
	}
	g.commands++
	if g.cfg.PruneEvery > 0 && g.commands%g.cfg.PruneEvery == 0 {
		g.state.Prune()
	}
	return apply(), true
}

func (g *Gateway) reject(order *schema.PhysicalOrder) BrokerEvent {
	return BrokerEvent{Type: schema.EventReject, Symbol: order.Symbol, BrokerOrder: order.BrokerOrder}
}

// match fills o completely when price crosses it. Must hold mu.
func (g *Gateway) match(o *Order, price schema.Price) []BrokerEvent {
	if price <= 0 || !o.Crosses(price) {
		return nil
	}
	qty := o.LeavesQty
	if _, err := g.state.ApplyFill(o.ID, qty); err != nil {
		logs.Errorf("apply fill, session: %s, order: %d, err: %+v", g.cfg.Session, o.ID, err)
		return nil
	}
	return []BrokerEvent{{
		Type:        schema.EventFill,
		Symbol:      o.Symbol,
		BrokerOrder: o.ID,
		Fill: schema.PhysicalFill{
			BrokerOrder: o.ID,
			Symbol:      o.Symbol,
			Price:       o.FillPrice(price),
			Size:        qty,
			Time:        g.now(),
		},
	}}
}

func (g *Gateway) deliver(events []BrokerEvent) {
	if len(events) == 0 {
		return
	}
	if g.injector != nil {
		g.mu.Lock()
		var out []BrokerEvent
		for _, ev := range events {
			out = append(out, g.injector.Process(ev)...)
		}
		g.mu.Unlock()
		events = out
	}
	g.send(events)
}

func (g *Gateway) send(events []BrokerEvent) {
	for _, ev := range events {
		g.mu.Lock()
		sink, ok := g.sinks[ev.Symbol]
		g.mu.Unlock()
		if !ok {
			logs.Warnf("drop broker event without sink, session: %s, symbol: %s, type: %s", g.cfg.Session, ev.Symbol, ev.Type)
			continue
		}
		if err := ev.deliver(sink); err != nil {
			logs.Errorf("deliver broker event, session: %s, symbol: %s, type: %s, order: %d, err: %+v", g.cfg.Session, ev.Symbol, ev.Type, ev.BrokerOrder, err)
		}
	}
}
