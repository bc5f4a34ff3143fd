package core

import (
	"slices"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"reconciler/internal/schema"
	"reconciler/pkg/exception"
)

// ProcessFill applies a broker fill. A fill for an unknown broker order is
// fatal. Adjustment fills only move the actual position; fills of orders whose
// logical order is gone or moved are counted as filled after cancel.
func (a *Algorithm) ProcessFill(fill schema.PhysicalFill) error {
	if a.halted != nil {
		return a.halted
	}
	if fill.Size <= 0 {
		return errors.Wrapf(exception.ErrInvalidArgument, "fill size must be > 0, broker order: %d", fill.BrokerOrder)
	}

	t := a.book.BeginTransaction()
	order, ok := t.OrderByID(fill.BrokerOrder)
	if !ok {
		t.EndTransaction()
		return a.trip(errors.Wrapf(exception.ErrUnknownFillOrder, "symbol: %s, broker order: %d", a.cfg.Symbol, fill.BrokerOrder))
	}
	delta := fill.Size * order.Side.Sign()
	actual := a.book.Positions().IncreaseActual(order.Symbol, delta)
	if fill.Size >= order.Size {
		order.State = schema.OrderStateFilled
		order.Touch(a.now())
		t.RemoveOrder(order.BrokerOrder)
		if replacement := order.ReplacedBy; replacement != nil {
			t.RemoveOrder(replacement.BrokerOrder)
			schema.Unlink(order, replacement)
		}
	} else {
		order.Size -= fill.Size
		order.Touch(a.now())
		if err := t.SetOrder(order); err != nil {
			t.EndTransaction()
			return err
		}
	}
	t.EndTransaction()
	logs.Infof("fill, symbol: %s, broker order: %d, size: %d, price: %d, actual: %d", order.Symbol, order.BrokerOrder, fill.Size, fill.Price, actual)

	if order.IsAdjustment() {
		a.metrics.IncAdjustmentFill()
		return a.performCompare()
	}

	logical, ok := a.findLogical(order.LogicalSerialNumber)
	if !ok || !logical.MatchesPrice(order.Price, a.cfg.MinimumTick) {
		logs.Infof("filled after cancel, symbol: %s, order: %s", a.cfg.Symbol, order)
		return a.performCompare()
	}

	positions := a.book.Positions()
	current, _ := positions.Strategy(logical.StrategyID)
	a.recency = max(a.recency, current.Recency) + 1
	strategyPos := current.ExpectedPosition + delta
	applied, err := positions.SetStrategy(logical.StrategyID, a.cfg.Symbol, strategyPos, a.recency)
	if err != nil {
		return err
	}
	if !applied {
		return errors.Wrapf(exception.ErrInvalidRecency, "fill not merged, strategy: %d, recency: %d", logical.StrategyID, a.recency)
	}
	if logical.TradeDirection == schema.TradeDirectionChange {
		a.changeFills[logical.SerialNumber] += delta
	}

	complete := a.checkFilledOrder(logical, strategyPos)
	a.metrics.IncLogicalFill()
	if a.fills != nil {
		a.fills.OnLogicalFill(schema.LogicalFill{
			StrategyID:     logical.StrategyID,
			Symbol:         a.cfg.Symbol,
			OrderID:        logical.ID,
			SerialNumber:   logical.SerialNumber,
			Position:       strategyPos,
			PositionChange: delta,
			Price:          fill.Price,
			Time:           fill.Time,
			Recency:        a.recency,
			IsComplete:     complete,
		})
	}
	if complete {
		a.removeSiblings(logical)
		delete(a.changeFills, logical.SerialNumber)
	}
	return a.performCompare()
}

// checkFilledOrder reports whether the logical order reached its target.
func (a *Algorithm) checkFilledOrder(logical schema.LogicalOrder, strategyPos schema.Quantity) bool {
	switch logical.TradeDirection {
	case schema.TradeDirectionEntry:
		return strategyPos.Abs() >= logical.Position
	case schema.TradeDirectionExit, schema.TradeDirectionExitStrategy:
		return strategyPos == 0
	case schema.TradeDirectionReverse:
		return strategyPos == logical.SignedPosition()
	case schema.TradeDirectionChange:
		return a.changeFills[logical.SerialNumber].Abs() >= logical.Position
	default:
		return false
	}
}

// removeSiblings drops the logical orders a completed order supersedes.
func (a *Algorithm) removeSiblings(done schema.LogicalOrder) {
	a.logicals = slices.DeleteFunc(a.logicals, func(l schema.LogicalOrder) bool {
		if l.SerialNumber == done.SerialNumber {
			return true
		}
		if l.StrategyID != done.StrategyID {
			return false
		}
		switch done.TradeDirection {
		case schema.TradeDirectionEntry:
			return l.TradeDirection == schema.TradeDirectionEntry
		case schema.TradeDirectionExit, schema.TradeDirectionExitStrategy:
			return true
		case schema.TradeDirectionReverse:
			return l.TradeDirection != schema.TradeDirectionExitStrategy
		default:
			return false
		}
	})
}
