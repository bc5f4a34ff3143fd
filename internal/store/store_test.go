package store

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"reconciler/internal/recorder"
	"reconciler/internal/schema"
	"reconciler/internal/state"
	"reconciler/pkg/exception"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	cfg := recorder.DefaultConfig(dir)
	cfg.Name = "orders"
	cfg.DisableSync = true
	cfg.OpenBackoff = time.Millisecond
	cfg.MoveBackoff = time.Millisecond
	s, err := New(Config{Recorder: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// populate builds a chain of depth k on serial 42 plus an unrelated order.
func populate(t *testing.T, s *Store, k int) {
	t.Helper()
	head := newOrder(t, 100, 42, nil, schema.OrderActionCreate)
	head.State = schema.OrderStateActive
	head.Sequence = 1
	require.NoError(t, s.SetOrder(head))

	prev := head
	for i := 1; i <= k; i++ {
		next := newOrder(t, int64(100+i), 42, prev, schema.OrderActionChange)
		next.Size = schema.Quantity(10 + i)
		next.Sequence = int64(1 + i)
		require.NoError(t, s.SetOrder(next))
		prev = next
	}

	other := newOrder(t, 7, 0, nil, schema.OrderActionCreate)
	other.Symbol = "NQ"
	other.CancelCount = 2
	other.Flags = schema.OrderFlagOffsetTooLateToCancel | schema.OrderFlagAdjustment
	require.NoError(t, s.SetOrder(other))

	s.SetActualPosition("ES", 25)
	_, err := s.SetStrategyPosition(1, "ES", 20, 3)
	require.NoError(t, err)
	s.SetSequences(11, 22)
}

func chainOf(o *schema.PhysicalOrder) []int64 {
	var ids []int64
	for o != nil {
		ids = append(ids, o.BrokerOrder)
		o = o.ReplacedBy
	}
	return ids
}

func TestSnapshotRoundTripWithChains(t *testing.T) {
	src := newTestStore(t, t.TempDir())
	populate(t, src, 5)

	// an order only reachable through its original
	head, ok := src.TryGetOrderByID(100)
	require.True(t, ok)
	src.RemoveOrder(105)
	hidden := newOrder(t, 105, 42, nil, schema.OrderActionCreate)
	hidden.Action = schema.OrderActionCancel
	schema.LinkReplacement(mustGet(t, src, 104), hidden)

	payload, err := src.SnapshotInMemory()
	require.NoError(t, err)

	dst := newTestStore(t, t.TempDir())
	require.NoError(t, dst.LoadSnapshot(payload))

	assert.Equal(t, orderIDs(src), orderIDs(dst))
	dstHead := mustGet(t, dst, 100)
	assert.Equal(t, chainOf(head), chainOf(dstHead))
	assert.Equal(t, []int64{100, 101, 102, 103, 104, 105}, chainOf(dstHead))

	last := mustGet(t, dst, 104).ReplacedBy
	require.NotNil(t, last)
	assert.Equal(t, int64(105), last.BrokerOrder)
	_, indexed := dst.TryGetOrderByID(105)
	assert.False(t, indexed)
	assert.Same(t, mustGet(t, dst, 104), last.OriginalOrder)

	bySeq, ok := dst.TryGetOrderBySequence(3)
	require.True(t, ok)
	assert.Equal(t, int64(102), bySeq.BrokerOrder)

	other := mustGet(t, dst, 7)
	assert.Equal(t, 2, other.CancelCount)
	assert.True(t, other.Flags.Has(schema.OrderFlagAdjustment))
	assert.Equal(t, mustGet(t, src, 100).UTCCreateTime.UnixNano(), dstHead.UTCCreateTime.UnixNano())

	assert.Equal(t, int64(11), dst.RemoteSequence())
	assert.Equal(t, int64(22), dst.LocalSequence())
	assert.Equal(t, schema.Quantity(25), dst.GetActualPosition("ES"))
	require.NoError(t, state.CompareStrategies(src.Positions().Strategies(), dst.Positions().Strategies()))

	dstTxn := dst.BeginTransaction()
	serial := dstTxn.SerialOrders(42)
	dstTxn.EndTransaction()
	require.Len(t, serial, 5)
	assert.Equal(t, int64(100), serial[0].BrokerOrder)
}

func TestLoadSnapshotCorruptKeepsState(t *testing.T) {
	src := newTestStore(t, t.TempDir())
	populate(t, src, 1)

	payload, err := src.SnapshotInMemory()
	require.NoError(t, err)

	dst := newTestStore(t, t.TempDir())
	require.NoError(t, dst.LoadSnapshot(payload))
	require.Error(t, dst.LoadSnapshot(payload[:len(payload)-1]))
	assert.Len(t, dst.GetOrders(), 3)
}

func TestRecoverFallsBackToPenultimate(t *testing.T) {
	dir := t.TempDir()
	src := newTestStore(t, dir)
	populate(t, src, 1)
	require.NoError(t, src.ForceSnapshot())

	src.RemoveOrder(7)
	require.NoError(t, src.ForceSnapshot())
	require.NoError(t, src.Close())

	path := recorder.ActivePath(src.writer.Config())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-5], 0o644))

	dst := newTestStore(t, dir)
	ok, err := dst.Recover()
	require.NoError(t, err)
	require.True(t, ok)
	_, found := dst.TryGetOrderByID(7)
	assert.True(t, found, "penultimate record still holds order 7")

	require.NoError(t, dst.ForceSnapshot())
	assert.Len(t, recorder.ExistingFiles(dst.writer.Config()), 2)
}

func TestRecoverEmpty(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	require.NoError(t, s.SetOrder(newOrder(t, 1, 1, nil, schema.OrderActionCreate)))
	ok, err := s.Recover()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.GetOrders())
	assert.False(t, s.LastSequenceReset().IsZero())
}

func TestRecoverAfterTornFirstWrite(t *testing.T) {
	dir := t.TempDir()
	src := newTestStore(t, dir)
	path := recorder.ActivePath(src.writer.Config())
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xff, 0, 0, 'O', 'S', 'N', 'P', 1, 0}, 0o644))

	ok, err := src.Recover()
	require.NoError(t, err)
	require.False(t, ok)

	populate(t, src, 1)
	require.NoError(t, src.ForceSnapshot())
	require.NoError(t, src.ForceSnapshot())
	require.NoError(t, src.Close())

	dst := newTestStore(t, dir)
	ok, err = dst.Recover()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, dst.GetOrders(), len(src.GetOrders()))
}

func TestAutoSnapshot(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	s.cfg.AutoSnapshotUpdates = 3

	ok, err := s.TrySnapshot()
	require.NoError(t, err)
	assert.False(t, ok)

	for i := int64(1); i <= 4; i++ {
		require.NoError(t, s.SetOrder(newOrder(t, i, i, nil, schema.OrderActionCreate)))
	}
	require.NoError(t, s.WaitForSnapshot())
	assert.Len(t, recorder.ExistingFiles(s.writer.Config()), 1)
	assert.Zero(t, s.updates.Load())

	s.RequestSnapshot()
	ok, err = s.TrySnapshot()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.WaitForSnapshot())
}

func TestSequences(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	s.SetSequences(5, 6)
	assert.True(t, s.LastSequenceReset().IsZero())
	assert.Equal(t, int64(7), s.NextLocalSequence())
	s.UpdateRemoteSequence(9)
	s.UpdateLocalSequence(1)
	assert.Equal(t, int64(9), s.RemoteSequence())
	assert.Equal(t, int64(1), s.LocalSequence())
	s.SetSequences(0, 0)
	assert.False(t, s.LastSequenceReset().IsZero())
}

func TestClosedStoreRejectsSnapshot(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	require.NoError(t, s.Close())
	require.True(t, errors.Is(s.ForceSnapshot(), exception.ErrStoreClosed))
}

func mustGet(t *testing.T, s *Store, id int64) *schema.PhysicalOrder {
	t.Helper()
	o, err := s.GetOrderByID(id)
	require.NoError(t, err)
	return o
}

func orderIDs(s *Store) []int64 {
	var ids []int64
	for _, o := range s.GetOrders() {
		ids = append(ids, o.BrokerOrder)
	}
	return ids
}

func TestOpenReadOnly(t *testing.T) {
	dir := t.TempDir()
	src := newTestStore(t, dir)
	populate(t, src, 2)
	require.NoError(t, src.ForceSnapshot())
	require.NoError(t, src.Close())

	ro, path, err := Open(src.writer.Config())
	require.NoError(t, err)
	assert.Equal(t, recorder.ActivePath(src.writer.Config()), path)
	assert.Len(t, ro.GetOrders(), len(src.GetOrders()))
	require.True(t, errors.Is(ro.ForceSnapshot(), exception.ErrStoreUnavailable))
	require.NoError(t, ro.Close())

	_, _, err = Open(recorder.DefaultConfig(t.TempDir()))
	require.True(t, errors.Is(err, exception.ErrSnapshotNotFound))
}
