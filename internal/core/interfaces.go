package core

import (
	"reconciler/internal/schema"
	"reconciler/internal/state"
	"reconciler/internal/store"
)

// PhysicalOrderHandler sends broker commands. Returning false means the command
// was not accepted for submission and the order is rolled back.
type PhysicalOrderHandler interface {
	OnCreateBrokerOrder(order *schema.PhysicalOrder) bool
	OnChangeBrokerOrder(order *schema.PhysicalOrder) bool
	OnCancelBrokerOrder(order *schema.PhysicalOrder) bool
}

// FillListener receives fills of logical orders.
type FillListener interface {
	OnLogicalFill(fill schema.LogicalFill)
}

// CommandListener observes every broker command the engine tried to send.
type CommandListener interface {
	OnCommand(order *schema.PhysicalOrder, accepted bool)
}

// TickSync is told whether a symbol still waits for a reconciliation after a
// position change arrived before the broker connection recovered.
type TickSync interface {
	SetWaitingForMatch(symbol string, waiting bool)
}

// OrderBook is the order store the engine reconciles against.
type OrderBook interface {
	BeginTransaction() *store.Txn
	Positions() *state.Positions
}

type snapshotter interface {
	TrySnapshot() (bool, error)
}

type sequencer interface {
	NextLocalSequence() int64
}
