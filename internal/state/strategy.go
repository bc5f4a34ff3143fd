package state

import (
	"github.com/yanun0323/errors"

	"reconciler/internal/schema"
	"reconciler/pkg/exception"
)

// StrategyPosition is the position a strategy expects to hold on a symbol.
// Updates merge by recency: the highest recency wins.
type StrategyPosition struct {
	ID               int64
	Symbol           string
	ExpectedPosition schema.Quantity
	Recency          int64
}

// NewStrategyPosition creates a flat position for the strategy.
func NewStrategyPosition(id int64, symbol string) *StrategyPosition {
	return &StrategyPosition{ID: id, Symbol: symbol}
}

// TrySetPosition applies position if recency is not older than the current one.
func (p *StrategyPosition) TrySetPosition(position schema.Quantity, recency int64) (bool, error) {
	if recency == 0 {
		return false, errors.Wrapf(exception.ErrInvalidRecency, "strategy: %d, position: %d", p.ID, position)
	}
	if recency < p.Recency {
		return false, nil
	}
	p.ExpectedPosition = position
	p.Recency = recency
	return true, nil
}
