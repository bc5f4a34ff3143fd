package control

import (
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"reconciler/internal/core"
	"reconciler/internal/schema"
	"reconciler/pkg/exception"
)

// Ops understood by the control socket.
const (
	OpPosition = "position"
	OpTick     = "tick"
	OpSnapshot = "snapshot"
	OpStatus   = "status"
	OpKill     = "kill"
)

// Request is one line sent to the control socket. Prices and quantities are
// decimal strings in symbol units.
type Request struct {
	Op         string             `json:"op"`
	Symbol     string             `json:"symbol,omitempty"`
	Position   string             `json:"position,omitempty"`
	Recency    int64              `json:"recency,omitempty"`
	Orders     []LogicalOrder     `json:"orders,omitempty"`
	Strategies []StrategyPosition `json:"strategies,omitempty"`
	Price      string             `json:"price,omitempty"`
	On         bool               `json:"on,omitempty"`
}

// LogicalOrder is the wire form of schema.LogicalOrder.
type LogicalOrder struct {
	ID             int64  `json:"id"`
	SerialNumber   int64  `json:"serial"`
	StrategyID     int64  `json:"strategy"`
	Type           string `json:"type"`
	Direction      string `json:"direction"`
	Price          string `json:"price"`
	Position       string `json:"position"`
	Levels         int    `json:"levels,omitempty"`
	LevelSize      string `json:"levelSize,omitempty"`
	LevelIncrement int    `json:"levelIncrement,omitempty"`
	Tag            string `json:"tag,omitempty"`
}

// StrategyPosition is the wire form of schema.StrategyPositionUpdate.
type StrategyPosition struct {
	ID       int64  `json:"id"`
	Position string `json:"position"`
	Recency  int64  `json:"recency"`
}

// Response is the reply line for every request.
type Response struct {
	OK     bool         `json:"ok"`
	Error  string       `json:"error,omitempty"`
	Status []StatusView `json:"status,omitempty"`
}

// StatusView is the wire form of core.Status.
type StatusView struct {
	Symbol          string `json:"symbol"`
	Recency         int64  `json:"recency"`
	WaitingForMatch bool   `json:"waitingForMatch"`
	Logicals        int    `json:"logicals"`
	Pending         int    `json:"pending"`
	Halted          string `json:"halted,omitempty"`
}

// NewStatusView converts a runner status for the wire.
func NewStatusView(s core.Status, pending int) StatusView {
	v := StatusView{
		Symbol:          s.Symbol,
		Recency:         s.Recency,
		WaitingForMatch: s.WaitingForMatch,
		Logicals:        s.Logicals,
		Pending:         pending,
	}
	if s.Halted != nil {
		v.Halted = s.Halted.Error()
	}
	return v
}

var (
	orderTypes = lookup(schema.OrderTypeBuyLimit, schema.OrderTypeSellStop)
	directions = lookup(schema.TradeDirectionEntry, schema.TradeDirectionChange)
)

func lookup[T interface {
	~uint8
	String() string
}](first, last T) map[string]T {
	m := make(map[string]T, int(last-first)+1)
	for v := first; v <= last; v++ {
		m[v.String()] = v
	}
	return m
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, errors.Wrapf(exception.ErrMalformedLine, "%s %q", field, value)
	}
	return d, nil
}

// PositionChange converts a position request into the engine input.
func (r Request) PositionChange(sym schema.Symbol) (schema.PositionChangeDetail, error) {
	pos, err := parseDecimal("position", r.Position)
	if err != nil {
		return schema.PositionChangeDetail{}, err
	}
	detail := schema.PositionChangeDetail{
		Symbol:   sym.Name,
		Position: sym.Scale.Quantity(pos),
		Recency:  r.Recency,
		Orders:   make([]schema.LogicalOrder, 0, len(r.Orders)),
	}
	for _, o := range r.Orders {
		logical, err := o.toSchema(sym)
		if err != nil {
			return schema.PositionChangeDetail{}, err
		}
		detail.Orders = append(detail.Orders, logical)
	}
	for _, s := range r.Strategies {
		qty, err := parseDecimal("strategy position", s.Position)
		if err != nil {
			return schema.PositionChangeDetail{}, err
		}
		detail.StrategyPositions = append(detail.StrategyPositions, schema.StrategyPositionUpdate{
			ID:       s.ID,
			Symbol:   sym.Name,
			Position: sym.Scale.Quantity(qty),
			Recency:  s.Recency,
		})
	}
	return detail, nil
}

func (o LogicalOrder) toSchema(sym schema.Symbol) (schema.LogicalOrder, error) {
	typ, ok := orderTypes[o.Type]
	if !ok {
		return schema.LogicalOrder{}, errors.Wrapf(exception.ErrMalformedLine, "order type %q", o.Type)
	}
	dir, ok := directions[o.Direction]
	if !ok {
		return schema.LogicalOrder{}, errors.Wrapf(exception.ErrMalformedLine, "trade direction %q", o.Direction)
	}
	price, err := parseDecimal("price", o.Price)
	if err != nil {
		return schema.LogicalOrder{}, err
	}
	pos, err := parseDecimal("position", o.Position)
	if err != nil {
		return schema.LogicalOrder{}, err
	}
	levelSize, err := parseDecimal("level size", o.LevelSize)
	if err != nil {
		return schema.LogicalOrder{}, err
	}
	return schema.LogicalOrder{
		ID:             o.ID,
		SerialNumber:   o.SerialNumber,
		StrategyID:     o.StrategyID,
		Symbol:         sym.Name,
		Type:           typ,
		TradeDirection: dir,
		Price:          sym.Scale.Price(price),
		Position:       sym.Scale.Quantity(pos),
		Levels:         o.Levels,
		LevelSize:      sym.Scale.Quantity(levelSize),
		LevelIncrement: o.LevelIncrement,
		Tag:            o.Tag,
	}, nil
}
