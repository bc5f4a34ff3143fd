package state

import (
	"iter"
	"sort"
	"sync"

	"reconciler/internal/schema"
)

// Positions holds the actual position per symbol and the expected position per strategy.
// All methods are safe for concurrent use.
type Positions struct {
	mu         sync.Mutex
	actual     map[string]schema.Quantity
	strategies map[int64]*StrategyPosition
}

// NewPositions creates an empty position book.
func NewPositions() *Positions {
	return &Positions{
		actual:     make(map[string]schema.Quantity),
		strategies: make(map[int64]*StrategyPosition),
	}
}

// SetActual replaces the actual position of a symbol.
func (p *Positions) SetActual(symbol string, qty schema.Quantity) {
	p.mu.Lock()
	p.actual[symbol] = qty
	p.mu.Unlock()
}

// Actual returns the actual position of a symbol.
func (p *Positions) Actual(symbol string) schema.Quantity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.actual[symbol]
}

// IncreaseActual adds delta to the actual position and returns the new quantity.
func (p *Positions) IncreaseActual(symbol string, delta schema.Quantity) schema.Quantity {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.actual[symbol] + delta
	p.actual[symbol] = next
	return next
}

// SetStrategy merges a strategy position using the recency rule.
func (p *Positions) SetStrategy(id int64, symbol string, qty schema.Quantity, recency int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.strategies[id]
	if !ok {
		sp = NewStrategyPosition(id, symbol)
	}
	applied, err := sp.TrySetPosition(qty, recency)
	if err != nil {
		return false, err
	}
	if !ok && applied {
		p.strategies[id] = sp
	}
	return applied, nil
}

// Strategy returns a copy of the strategy position.
func (p *Positions) Strategy(id int64) (StrategyPosition, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.strategies[id]
	if !ok {
		return StrategyPosition{}, false
	}
	return *sp, true
}

// StrategyExpected returns the expected position of a strategy, zero when unknown.
func (p *Positions) StrategyExpected(id int64) schema.Quantity {
	sp, _ := p.Strategy(id)
	return sp.ExpectedPosition
}

// Sync merges externally supplied strategy positions. It returns the first error
// and keeps applying the rest.
func (p *Positions) Sync(positions iter.Seq[StrategyPosition]) error {
	var first error
	for sp := range positions {
		if _, err := p.SetStrategy(sp.ID, sp.Symbol, sp.ExpectedPosition, sp.Recency); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PositionEntry is a single symbol position entry.
type PositionEntry struct {
	Symbol string
	Qty    schema.Quantity
}

// Entries returns the non-zero symbol positions sorted by symbol.
func (p *Positions) Entries() []PositionEntry {
	p.mu.Lock()
	entries := make([]PositionEntry, 0, len(p.actual))
	for symbol, qty := range p.actual {
		if qty == 0 {
			continue
		}
		entries = append(entries, PositionEntry{Symbol: symbol, Qty: qty})
	}
	p.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Symbol < entries[j].Symbol
	})
	return entries
}

// Strategies returns copies of all strategy positions sorted by id.
func (p *Positions) Strategies() []StrategyPosition {
	p.mu.Lock()
	out := make([]StrategyPosition, 0, len(p.strategies))
	for _, sp := range p.strategies {
		out = append(out, *sp)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Apply replaces the whole book, used when loading a snapshot.
func (p *Positions) Apply(entries []PositionEntry, strategies []StrategyPosition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.actual)
	clear(p.strategies)
	for _, entry := range entries {
		p.actual[entry.Symbol] = entry.Qty
	}
	for _, sp := range strategies {
		cp := sp
		p.strategies[sp.ID] = &cp
	}
}

// Reset drops every position.
func (p *Positions) Reset() {
	p.Apply(nil, nil)
}
