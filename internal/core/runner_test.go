package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"reconciler/internal/bus"
	"reconciler/internal/schema"
	"reconciler/pkg/exception"
)

func TestRunnerAppliesEventsInOrder(t *testing.T) {
	f := newFixture(t, Config{})
	r := NewRunner(f.alg, 16).WithMetrics(f.metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, r.SubmitPositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100))))
	require.Eventually(t, func() bool {
		creates, _, _ := f.handler.counts()
		return creates == 1
	}, time.Second, time.Millisecond)

	f.handler.mu.Lock()
	id := f.handler.creates[0].BrokerOrder
	f.handler.mu.Unlock()
	require.NoError(t, r.OnConfirm(schema.EventConfirmCreate, id))
	require.NoError(t, r.OnFill(schema.PhysicalFill{BrokerOrder: id, Symbol: testSymbol, Price: 1000, Size: 100}))

	r.Close()
	require.NoError(t, <-done)
	assert.Equal(t, schema.Quantity(100), f.cache.GetActualPosition(testSymbol))
	require.Len(t, f.fills.fills, 1)
	assert.True(t, f.fills.fills[0].IsComplete)

	snap := f.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.EventCounts[schema.EventPositionChange])
	assert.Equal(t, uint64(1), snap.EventCounts[schema.EventFill])
	assert.True(t, errors.Is(r.SubmitProcessOrders(), bus.ErrQueueClosed))
}

func TestRunnerStopsOnHalt(t *testing.T) {
	f := newFixture(t, Config{})
	r := NewRunner(f.alg, 4)
	require.NoError(t, r.OnFill(schema.PhysicalFill{BrokerOrder: 5, Symbol: testSymbol, Size: 1}))
	require.NoError(t, r.SubmitProcessOrders())

	err := r.Run(context.Background())
	require.True(t, errors.Is(err, exception.ErrUnknownFillOrder))
	assert.Equal(t, 1, r.Pending())
	require.True(t, errors.Is(r.Status().Halted, exception.ErrUnknownFillOrder))
}

func TestRunnerKeepsRunningOnRecoverableError(t *testing.T) {
	f := newFixture(t, Config{})
	r := NewRunner(f.alg, 4)
	require.NoError(t, r.OnFill(schema.PhysicalFill{BrokerOrder: 5, Symbol: testSymbol, Size: 0}))
	require.NoError(t, r.SubmitPositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100))))
	r.Close()

	require.NoError(t, r.Run(context.Background()))
	assert.Nil(t, f.alg.Halted())
	assert.Len(t, f.handler.creates, 1)
}

func TestRunnerRejectsNonConfirmType(t *testing.T) {
	r := NewRunner(newFixture(t, Config{}).alg, 1)
	require.Error(t, r.OnConfirm(schema.EventFill, 1))
}

func TestRunnerQueueFull(t *testing.T) {
	f := newFixture(t, Config{})
	r := NewRunner(f.alg, 1).WithMetrics(f.metrics)
	require.NoError(t, r.SubmitProcessOrders())
	require.Error(t, r.SubmitProcessOrders())
	assert.Equal(t, uint64(1), f.metrics.Snapshot().QueueDrops)
}

func TestRunnerNotRecoveredMarksWaiting(t *testing.T) {
	f := newFixture(t, Config{})
	r := NewRunner(f.alg, 4)
	r.SetRecovered(false)
	require.NoError(t, r.SubmitPositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100))))
	r.Close()

	require.NoError(t, r.Run(context.Background()))
	assert.True(t, f.alg.WaitingForMatch())
	assert.Empty(t, f.handler.creates)
	status := r.Status()
	assert.True(t, status.WaitingForMatch)
	assert.Equal(t, int64(1), status.Recency)
	assert.Equal(t, 1, status.Logicals)
}

func TestRunnerTickComparesWaitingSymbol(t *testing.T) {
	f := newFixture(t, Config{})
	r := NewRunner(f.alg, 4)
	r.SetRecovered(false)
	require.NoError(t, r.SubmitPositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100))))
	require.NoError(t, r.OnTick(990))
	r.Close()
	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, f.handler.creates)

	r = NewRunner(f.alg, 4)
	require.NoError(t, r.OnTick(995))
	r.Close()
	require.NoError(t, r.Run(context.Background()))
	assert.Len(t, f.handler.creates, 1)
	assert.Equal(t, schema.Price(995), f.alg.referencePrice)
}
