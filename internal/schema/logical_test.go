package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanLevels(t *testing.T) {
	testCases := []struct {
		desc     string
		order    LogicalOrder
		total    Quantity
		expected []Level
	}{
		{
			"single level",
			LogicalOrder{Type: OrderTypeBuyLimit, Price: 1000, Levels: 1},
			100,
			[]Level{{Price: 1000, Size: 100}},
		},
		{
			"buy limit steps down",
			LogicalOrder{Type: OrderTypeBuyLimit, Price: 1000, Levels: 3, LevelSize: 40, LevelIncrement: 2},
			100,
			[]Level{{Price: 1000, Size: 40}, {Price: 990, Size: 40}, {Price: 980, Size: 20}},
		},
		{
			"sell limit steps up",
			LogicalOrder{Type: OrderTypeSellLimit, Price: 1000, Levels: 2, LevelSize: 10, LevelIncrement: 1},
			20,
			[]Level{{Price: 1000, Size: 10}, {Price: 1005, Size: 10}},
		},
		{
			"last level absorbs remainder",
			LogicalOrder{Type: OrderTypeSellLimit, Price: 1000, Levels: 2, LevelSize: 10, LevelIncrement: 1},
			35,
			[]Level{{Price: 1000, Size: 10}, {Price: 1005, Size: 25}},
		},
		{
			"fewer levels than configured",
			LogicalOrder{Type: OrderTypeBuyLimit, Price: 1000, Levels: 5, LevelSize: 10, LevelIncrement: 1},
			15,
			[]Level{{Price: 1000, Size: 10}, {Price: 995, Size: 5}},
		},
		{
			"nothing to place",
			LogicalOrder{Type: OrderTypeBuyLimit, Price: 1000, Levels: 5, LevelSize: 10, LevelIncrement: 1},
			0,
			nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.order.PlanLevels(tc.total, 5))
		})
	}
}

func TestMatchesPrice(t *testing.T) {
	order := LogicalOrder{Type: OrderTypeBuyLimit, Price: 1000, Levels: 3, LevelSize: 10, LevelIncrement: 1}
	assert.True(t, order.MatchesPrice(1000, 5))
	assert.True(t, order.MatchesPrice(990, 5))
	assert.False(t, order.MatchesPrice(985, 5))

	market := LogicalOrder{Type: OrderTypeSellMarket}
	assert.True(t, market.MatchesPrice(123, 5))
}

func TestSignedPosition(t *testing.T) {
	assert.Equal(t, Quantity(-10), LogicalOrder{Type: OrderTypeSellStop, Position: 10}.SignedPosition())
	assert.Equal(t, Quantity(10), LogicalOrder{Type: OrderTypeBuyMarket, Position: 10}.SignedPosition())
}
