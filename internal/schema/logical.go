package schema

import "fmt"

// LogicalOrder is strategy intent. The reconciliation engine never mutates it.
type LogicalOrder struct {
	ID             int64
	SerialNumber   int64
	StrategyID     int64
	Symbol         string
	Type           OrderType
	TradeDirection TradeDirection
	Price          Price
	Position       Quantity // desired absolute size, relative for TradeDirectionChange
	Levels         int
	LevelSize      Quantity
	LevelIncrement int
	Tag            string
}

// Level is one price slot of a scaled logical order.
type Level struct {
	Price Price
	Size  Quantity
}

// IsMultiLevel reports whether the order fans out over several prices.
func (l LogicalOrder) IsMultiLevel() bool {
	return l.Levels > 1
}

// SignedPosition returns the position with the sign of the order type.
func (l LogicalOrder) SignedPosition() Quantity {
	if l.Type.IsSell() {
		return -l.Position
	}
	return l.Position
}

// levelStep is the direction deeper levels move away from the top price.
func (l LogicalOrder) levelStep() Price {
	switch l.Type {
	case OrderTypeBuyLimit, OrderTypeSellStop:
		return -1
	case OrderTypeSellLimit, OrderTypeBuyStop:
		return 1
	default:
		return 0
	}
}

// LevelPrice returns the price of level i, starting from zero.
func (l LogicalOrder) LevelPrice(i int, minimumTick Price) Price {
	return l.Price + l.levelStep()*Price(i)*Price(l.LevelIncrement)*minimumTick
}

// PlanLevels distributes total over the order levels. Every level but the last
// carries LevelSize, the last one absorbs the remainder.
func (l LogicalOrder) PlanLevels(total Quantity, minimumTick Price) []Level {
	if total <= 0 {
		return nil
	}
	if !l.IsMultiLevel() || l.LevelSize <= 0 {
		return []Level{{Price: l.Price, Size: total}}
	}
	levels := make([]Level, 0, l.Levels)
	remaining := total
	for i := 0; i < l.Levels && remaining > 0; i++ {
		size := l.LevelSize
		if i == l.Levels-1 || size > remaining {
			size = remaining
		}
		levels = append(levels, Level{Price: l.LevelPrice(i, minimumTick), Size: size})
		remaining -= size
	}
	return levels
}

// MatchesPrice reports whether price is one of the order's level prices.
func (l LogicalOrder) MatchesPrice(price Price, minimumTick Price) bool {
	if l.Type.IsMarket() {
		return true
	}
	levels := l.Levels
	if levels < 1 {
		levels = 1
	}
	for i := 0; i < levels; i++ {
		if l.LevelPrice(i, minimumTick) == price {
			return true
		}
	}
	return false
}

func (l LogicalOrder) String() string {
	return fmt.Sprintf("%s %s %s %d@%d serial=%d strategy=%d levels=%d",
		l.TradeDirection, l.Type, l.Symbol, l.Position, l.Price, l.SerialNumber, l.StrategyID, l.Levels)
}
