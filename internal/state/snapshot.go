package state

import (
	"github.com/yanun0323/errors"
)

// CompareEntries checks that two position lists match, ignoring order.
func CompareEntries(expected, actual []PositionEntry) error {
	if len(expected) != len(actual) {
		return errors.Errorf("position length mismatch: expected=%d actual=%d", len(expected), len(actual))
	}
	expectedMap := make(map[string]PositionEntry, len(expected))
	for _, entry := range expected {
		expectedMap[entry.Symbol] = entry
	}
	for _, entry := range actual {
		want, ok := expectedMap[entry.Symbol]
		if !ok {
			return errors.Errorf("position missing symbol: %s", entry.Symbol)
		}
		if want.Qty != entry.Qty {
			return errors.Errorf("position qty mismatch: symbol=%s expected=%d actual=%d", entry.Symbol, want.Qty, entry.Qty)
		}
	}
	return nil
}

// CompareStrategies checks that two strategy position lists match, ignoring order.
func CompareStrategies(expected, actual []StrategyPosition) error {
	if len(expected) != len(actual) {
		return errors.Errorf("strategy length mismatch: expected=%d actual=%d", len(expected), len(actual))
	}
	expectedMap := make(map[int64]StrategyPosition, len(expected))
	for _, sp := range expected {
		expectedMap[sp.ID] = sp
	}
	for _, sp := range actual {
		want, ok := expectedMap[sp.ID]
		if !ok {
			return errors.Errorf("strategy missing: %d", sp.ID)
		}
		if want != sp {
			return errors.Errorf("strategy mismatch: id=%d expected=%+v actual=%+v", sp.ID, want, sp)
		}
	}
	return nil
}
