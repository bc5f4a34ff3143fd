package schema

import "time"

// Price is a scaled integer. The scale is defined by the symbol registry.
type Price int64

// Quantity is a scaled integer. Positions are signed, order sizes are positive.
type Quantity int64

// Abs returns the absolute quantity.
func (q Quantity) Abs() Quantity {
	if q < 0 {
		return -q
	}
	return q
}

// OrderAction describes what a physical order asks the broker to do.
type OrderAction uint8

const (
	OrderActionCreate OrderAction = iota
	OrderActionChange
	OrderActionCancel
)

func (a OrderAction) String() string {
	switch a {
	case OrderActionCreate:
		return "create"
	case OrderActionChange:
		return "change"
	case OrderActionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// OrderState tracks the broker-side lifecycle of a physical order.
type OrderState uint8

const (
	OrderStatePending OrderState = iota
	OrderStatePendingNew
	OrderStateActive
	OrderStateSuspended
	OrderStateFilled
	OrderStateLost
	OrderStateExpired
)

func (s OrderState) String() string {
	switch s {
	case OrderStatePending:
		return "pending"
	case OrderStatePendingNew:
		return "pending_new"
	case OrderStateActive:
		return "active"
	case OrderStateSuspended:
		return "suspended"
	case OrderStateFilled:
		return "filled"
	case OrderStateLost:
		return "lost"
	case OrderStateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsPending reports whether a broker round-trip is still outstanding.
func (s OrderState) IsPending() bool {
	return s == OrderStatePending || s == OrderStatePendingNew
}

// OrderSide describes order direction.
type OrderSide uint8

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
	OrderSideSellShort
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	case OrderSideSellShort:
		return "sell_short"
	default:
		return "unknown"
	}
}

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() Quantity {
	switch s {
	case OrderSideBuy:
		return 1
	case OrderSideSell, OrderSideSellShort:
		return -1
	default:
		return 0
	}
}

// OrderType combines the execution style with the direction.
type OrderType uint8

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeBuyLimit
	OrderTypeSellLimit
	OrderTypeBuyMarket
	OrderTypeSellMarket
	OrderTypeBuyStop
	OrderTypeSellStop
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeBuyLimit:
		return "buy_limit"
	case OrderTypeSellLimit:
		return "sell_limit"
	case OrderTypeBuyMarket:
		return "buy_market"
	case OrderTypeSellMarket:
		return "sell_market"
	case OrderTypeBuyStop:
		return "buy_stop"
	case OrderTypeSellStop:
		return "sell_stop"
	default:
		return "unknown"
	}
}

// IsBuy reports whether the order type buys.
func (t OrderType) IsBuy() bool {
	return t == OrderTypeBuyLimit || t == OrderTypeBuyMarket || t == OrderTypeBuyStop
}

// IsSell reports whether the order type sells.
func (t OrderType) IsSell() bool {
	return t == OrderTypeSellLimit || t == OrderTypeSellMarket || t == OrderTypeSellStop
}

// IsMarket reports whether the order executes at market.
func (t OrderType) IsMarket() bool {
	return t == OrderTypeBuyMarket || t == OrderTypeSellMarket
}

// MarketType returns the market order type for a signed quantity.
func MarketType(delta Quantity) OrderType {
	if delta > 0 {
		return OrderTypeBuyMarket
	}
	return OrderTypeSellMarket
}

// TradeDirection is the strategy intent behind a logical order.
type TradeDirection uint8

const (
	TradeDirectionUnknown TradeDirection = iota
	TradeDirectionEntry
	TradeDirectionExit
	TradeDirectionExitStrategy
	TradeDirectionReverse
	TradeDirectionChange
)

func (d TradeDirection) String() string {
	switch d {
	case TradeDirectionEntry:
		return "entry"
	case TradeDirectionExit:
		return "exit"
	case TradeDirectionExitStrategy:
		return "exit_strategy"
	case TradeDirectionReverse:
		return "reverse"
	case TradeDirectionChange:
		return "change"
	default:
		return "unknown"
	}
}

// OrderFlags is a bit set of broker handling hints.
type OrderFlags uint32

const (
	// OrderFlagOffsetTooLateToCancel marks orders the venue no longer accepts cancels for.
	OrderFlagOffsetTooLateToCancel OrderFlags = 1 << iota
	// OrderFlagAdjustment marks market orders that correct position drift.
	OrderFlagAdjustment
)

// Has reports whether all bits of f are set.
func (flags OrderFlags) Has(f OrderFlags) bool {
	return flags&f == f
}

// PhysicalFill is an execution reported by the broker for a physical order.
type PhysicalFill struct {
	BrokerOrder int64
	Symbol      string
	Price       Price
	Size        Quantity // always positive, direction comes from the order side
	Time        time.Time
}

// LogicalFill is the fill propagated upstream for a logical order.
type LogicalFill struct {
	StrategyID     int64
	Symbol         string
	OrderID        int64
	SerialNumber   int64
	Position       Quantity // strategy position after the fill
	PositionChange Quantity
	Price          Price
	Time           time.Time
	Recency        int64
	IsComplete     bool
}

// StrategyPositionUpdate is a strategy position as reported by the strategy layer.
type StrategyPositionUpdate struct {
	ID       int64
	Symbol   string
	Position Quantity
	Recency  int64
}

// PositionChangeDetail is the strategy-layer update consumed by the reconciliation engine.
type PositionChangeDetail struct {
	Symbol            string
	Position          Quantity // desired symbol position
	Orders            []LogicalOrder
	StrategyPositions []StrategyPositionUpdate
	Recency           int64
	Time              time.Time
}

// Notional is price times quantity in scaled units.
type Notional int64

// RiskReason is a coarse reason code for a blocked broker command.
type RiskReason uint16

const (
	RiskReasonNone RiskReason = iota
	RiskReasonKillSwitch
	RiskReasonMaxQty
	RiskReasonMaxNotional
	RiskReasonRateLimit
	RiskReasonPriceBand
	RiskReasonPositionLimit
)

// MaxRiskReason is the largest defined risk reason.
const MaxRiskReason = RiskReasonPositionLimit

var riskReasonNames = [...]string{
	RiskReasonNone:          "none",
	RiskReasonKillSwitch:    "kill_switch",
	RiskReasonMaxQty:        "max_qty",
	RiskReasonMaxNotional:   "max_notional",
	RiskReasonRateLimit:     "rate_limit",
	RiskReasonPriceBand:     "price_band",
	RiskReasonPositionLimit: "position_limit",
}

func (r RiskReason) String() string {
	if int(r) < len(riskReasonNames) {
		return riskReasonNames[r]
	}
	return "unknown"
}
