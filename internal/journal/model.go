package journal

import (
	"time"

	"reconciler/internal/schema"
)

// CommandRow is one broker command the engine tried to send.
type CommandRow struct {
	ID            uint64 `gorm:"primaryKey"`
	RunID         string `gorm:"type:uuid;index"`
	Symbol        string `gorm:"size:32;index"`
	Action        string `gorm:"size:16"`
	Side          string `gorm:"size:16"`
	OrderType     string `gorm:"size:16"`
	Price         int64
	Size          int64
	BrokerOrder   int64 `gorm:"index"`
	OriginalOrder int64
	Serial        int64
	Sequence      int64
	Accepted      bool
	SentAt        time.Time
	CreatedAt     time.Time
}

func (CommandRow) TableName() string {
	return "journal_commands"
}

// FillRow is one logical fill sent upstream.
type FillRow struct {
	ID             uint64 `gorm:"primaryKey"`
	RunID          string `gorm:"type:uuid;index"`
	StrategyID     int64  `gorm:"index"`
	Symbol         string `gorm:"size:32;index"`
	OrderID        int64
	Serial         int64
	Position       int64
	PositionChange int64
	Price          int64
	Recency        int64
	Complete       bool
	FilledAt       time.Time
	CreatedAt      time.Time
}

func (FillRow) TableName() string {
	return "journal_fills"
}

func newCommandRow(runID string, order *schema.PhysicalOrder, accepted bool) CommandRow {
	row := CommandRow{
		RunID:       runID,
		Symbol:      order.Symbol,
		Action:      order.Action.String(),
		Side:        order.Side.String(),
		OrderType:   order.Type.String(),
		Price:       int64(order.Price),
		Size:        int64(order.Size),
		BrokerOrder: order.BrokerOrder,
		Serial:      order.LogicalSerialNumber,
		Sequence:    order.Sequence,
		Accepted:    accepted,
		SentAt:      order.LastModifyTime,
	}
	if order.OriginalOrder != nil {
		row.OriginalOrder = order.OriginalOrder.BrokerOrder
	}
	return row
}

func newFillRow(runID string, fill schema.LogicalFill) FillRow {
	return FillRow{
		RunID:          runID,
		StrategyID:     fill.StrategyID,
		Symbol:         fill.Symbol,
		OrderID:        fill.OrderID,
		Serial:         fill.SerialNumber,
		Position:       int64(fill.Position),
		PositionChange: int64(fill.PositionChange),
		Price:          int64(fill.Price),
		Recency:        fill.Recency,
		Complete:       fill.IsComplete,
		FilledAt:       fill.Time,
	}
}
