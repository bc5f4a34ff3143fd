package schema

import (
	"fmt"
	"time"

	"github.com/yanun0323/errors"

	"reconciler/pkg/exception"
)

// PhysicalOrder is the broker-facing order tracked by the order store.
//
// OriginalOrder points at the order this one changes or cancels, ReplacedBy at
// the order that superseded this one. Both links are set together through
// LinkReplacement when the order is indexed.
type PhysicalOrder struct {
	Action              OrderAction
	State               OrderState
	Symbol              string
	Side                OrderSide
	Type                OrderType
	Price               Price
	Size                Quantity
	LogicalOrderID      int64
	LogicalSerialNumber int64
	BrokerOrder         int64
	Sequence            int64
	Tag                 string
	OriginalOrder       *PhysicalOrder
	ReplacedBy          *PhysicalOrder
	LastModifyTime      time.Time
	UTCCreateTime       time.Time
	CancelCount         int
	Flags               OrderFlags
}

// PhysicalOrderConfig holds everything needed to build a physical order.
// Zero values are valid defaults except for Symbol, Side and BrokerOrder.
type PhysicalOrderConfig struct {
	Action        OrderAction
	State         OrderState
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Price         Price
	Size          Quantity
	Logical       *LogicalOrder
	BrokerOrder   int64
	Tag           string
	OriginalOrder *PhysicalOrder
	Flags         OrderFlags
	Time          time.Time
}

// NewPhysicalOrder builds a physical order from the config. Change and cancel
// orders point at their original order; the back-link is set when the order
// is indexed.
func NewPhysicalOrder(cfg PhysicalOrderConfig) (*PhysicalOrder, error) {
	if cfg.BrokerOrder == 0 {
		return nil, exception.ErrOrderZeroBrokerID
	}
	if cfg.Symbol == "" {
		return nil, errors.Wrap(exception.ErrOrderInvalidConfig, "empty symbol")
	}
	if cfg.Action != OrderActionCreate && cfg.OriginalOrder == nil {
		return nil, errors.Wrapf(exception.ErrMissingOriginalOrder, "action: %s, broker order: %d", cfg.Action, cfg.BrokerOrder)
	}
	if cfg.Action != OrderActionCancel && cfg.Size <= 0 {
		return nil, errors.Wrapf(exception.ErrOrderInvalidConfig, "size must be > 0, got %d", cfg.Size)
	}

	now := cfg.Time
	if now.IsZero() {
		now = time.Now().UTC()
	}
	order := &PhysicalOrder{
		Action:         cfg.Action,
		State:          cfg.State,
		Symbol:         cfg.Symbol,
		Side:           cfg.Side,
		Type:           cfg.Type,
		Price:          cfg.Price,
		Size:           cfg.Size,
		BrokerOrder:    cfg.BrokerOrder,
		Tag:            cfg.Tag,
		Flags:          cfg.Flags,
		LastModifyTime: now,
		UTCCreateTime:  now,
	}
	if cfg.Logical != nil {
		order.LogicalOrderID = cfg.Logical.ID
		order.LogicalSerialNumber = cfg.Logical.SerialNumber
		if order.Tag == "" {
			order.Tag = cfg.Logical.Tag
		}
	}
	if cfg.OriginalOrder != nil {
		if cfg.Action == OrderActionCancel {
			order.Side = cfg.OriginalOrder.Side
			order.Type = cfg.OriginalOrder.Type
			order.Price = cfg.OriginalOrder.Price
			order.Size = cfg.OriginalOrder.Size
		}
		if order.LogicalOrderID == 0 {
			order.LogicalOrderID = cfg.OriginalOrder.LogicalOrderID
			order.LogicalSerialNumber = cfg.OriginalOrder.LogicalSerialNumber
		}
		order.OriginalOrder = cfg.OriginalOrder
	}
	return order, nil
}

// LinkReplacement records that replacement supersedes original.
func LinkReplacement(original, replacement *PhysicalOrder) {
	if original == nil || replacement == nil {
		return
	}
	original.ReplacedBy = replacement
	replacement.OriginalOrder = original
}

// Unlink drops the replacement link held by original, if it points at replacement.
func Unlink(original, replacement *PhysicalOrder) {
	if original == nil {
		return
	}
	if original.ReplacedBy == replacement {
		original.ReplacedBy = nil
	}
}

// IsPending reports whether the order waits for a broker answer.
func (o *PhysicalOrder) IsPending() bool {
	return o.State.IsPending()
}

// IsAdjustment reports whether the order has no logical order behind it.
func (o *PhysicalOrder) IsAdjustment() bool {
	return o.LogicalOrderID == 0
}

// SignedSize returns the size as a position change.
func (o *PhysicalOrder) SignedSize() Quantity {
	return o.Size * o.Side.Sign()
}

// Touch updates the modify time.
func (o *PhysicalOrder) Touch(now time.Time) {
	o.LastModifyTime = now
}

func (o *PhysicalOrder) String() string {
	if o == nil {
		return "<nil>"
	}
	s := fmt.Sprintf("%s %s %s %s %d@%d serial=%d broker=%d seq=%d",
		o.Action, o.State, o.Symbol, o.Side, o.Size, o.Price, o.LogicalSerialNumber, o.BrokerOrder, o.Sequence)
	if o.OriginalOrder != nil {
		s += fmt.Sprintf(" original=%d", o.OriginalOrder.BrokerOrder)
	}
	if o.ReplacedBy != nil {
		s += fmt.Sprintf(" replaced_by=%d", o.ReplacedBy.BrokerOrder)
	}
	return s
}
