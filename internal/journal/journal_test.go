package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"reconciler/internal/schema"
)

type memorySink struct {
	mu       sync.Mutex
	calls    int
	fail     int
	commands []CommandRow
	fills    []FillRow
}

func (s *memorySink) Write(_ context.Context, commands []CommandRow, fills []FillRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.fail {
		return errors.New("database unavailable")
	}
	s.commands = append(s.commands, commands...)
	s.fills = append(s.fills, fills...)
	return nil
}

func testOrders(t *testing.T) (*schema.PhysicalOrder, *schema.PhysicalOrder) {
	t.Helper()
	original, err := schema.NewPhysicalOrder(schema.PhysicalOrderConfig{
		Action:      schema.OrderActionCreate,
		Symbol:      "ES",
		Side:        schema.OrderSideBuy,
		Type:        schema.OrderTypeBuyLimit,
		Price:       1000,
		Size:        100,
		Logical:     &schema.LogicalOrder{ID: 1, SerialNumber: 42},
		BrokerOrder: 11,
	})
	require.NoError(t, err)
	change, err := schema.NewPhysicalOrder(schema.PhysicalOrderConfig{
		Action:        schema.OrderActionChange,
		Symbol:        "ES",
		Side:          schema.OrderSideBuy,
		Type:          schema.OrderTypeBuyLimit,
		Price:         1000,
		Size:          50,
		BrokerOrder:   12,
		OriginalOrder: original,
	})
	require.NoError(t, err)
	return original, change
}

func TestCommandRowMapping(t *testing.T) {
	_, change := testOrders(t)
	change.Sequence = 9
	row := newCommandRow("run", change, true)

	assert.Equal(t, "run", row.RunID)
	assert.Equal(t, "change", row.Action)
	assert.Equal(t, "buy", row.Side)
	assert.Equal(t, "buy_limit", row.OrderType)
	assert.Equal(t, int64(50), row.Size)
	assert.Equal(t, int64(12), row.BrokerOrder)
	assert.Equal(t, int64(11), row.OriginalOrder)
	assert.Equal(t, int64(42), row.Serial)
	assert.Equal(t, int64(9), row.Sequence)
	assert.True(t, row.Accepted)
}

func TestJournalFlushesOnClose(t *testing.T) {
	sink := &memorySink{}
	j, err := New(Config{FlushInterval: time.Hour}, sink)
	require.NoError(t, err)
	_, err = uuid.Parse(j.RunID())
	require.NoError(t, err)
	j.Start(context.Background())

	original, change := testOrders(t)
	j.OnCommand(original, true)
	j.OnCommand(change, false)
	j.OnLogicalFill(schema.LogicalFill{StrategyID: 7, Symbol: "ES", SerialNumber: 42, Position: 50, PositionChange: 50, Price: 1000, Recency: 3, IsComplete: true})
	j.Close()

	require.Len(t, sink.commands, 2)
	require.Len(t, sink.fills, 1)
	assert.False(t, sink.commands[1].Accepted)
	assert.Equal(t, j.RunID(), sink.fills[0].RunID)
	assert.True(t, sink.fills[0].Complete)
	assert.Equal(t, uint64(3), j.Written())

	j.OnCommand(original, true)
	assert.Equal(t, uint64(1), j.Dropped())
}

func TestJournalFlushesFullBatch(t *testing.T) {
	sink := &memorySink{}
	j, err := New(Config{BatchSize: 2, FlushInterval: time.Hour}, sink)
	require.NoError(t, err)
	j.Start(context.Background())
	defer j.Close()

	original, change := testOrders(t)
	j.OnCommand(original, true)
	j.OnCommand(change, true)
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.commands) == 2
	}, time.Second, time.Millisecond)
}

func TestJournalRetriesSink(t *testing.T) {
	sink := &memorySink{fail: 2}
	j, err := New(Config{WriteAttempts: 3, WriteBackoff: time.Millisecond}, sink)
	require.NoError(t, err)
	j.Start(context.Background())

	original, _ := testOrders(t)
	j.OnCommand(original, true)
	j.Close()

	assert.Equal(t, 3, sink.calls)
	assert.Len(t, sink.commands, 1)
	assert.Zero(t, j.Failed())
}

func TestJournalGivesUp(t *testing.T) {
	sink := &memorySink{fail: 10}
	j, err := New(Config{WriteAttempts: 2, WriteBackoff: time.Millisecond}, sink)
	require.NoError(t, err)
	j.Start(context.Background())

	original, _ := testOrders(t)
	j.OnCommand(original, true)
	j.Close()

	assert.Equal(t, 2, sink.calls)
	assert.Equal(t, uint64(1), j.Failed())
}

func TestJournalBufferFull(t *testing.T) {
	j, err := New(Config{BufferSize: 1}, &memorySink{})
	require.NoError(t, err)
	original, _ := testOrders(t)
	j.OnCommand(original, true)
	j.OnCommand(original, true)
	assert.Equal(t, uint64(1), j.Dropped())
}

func TestNewRequiresSink(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
}
