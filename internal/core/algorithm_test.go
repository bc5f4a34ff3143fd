package core

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"reconciler/internal/obs"
	"reconciler/internal/risk"
	"reconciler/internal/schema"
	"reconciler/internal/store"
	"reconciler/pkg/exception"
)

const (
	testSymbol   = "ES"
	testStrategy = int64(7)
)

type recordingHandler struct {
	mu      sync.Mutex
	refuse  bool
	creates []*schema.PhysicalOrder
	changes []*schema.PhysicalOrder
	cancels []*schema.PhysicalOrder

	onCreate func(*schema.PhysicalOrder)
}

func (h *recordingHandler) OnCreateBrokerOrder(o *schema.PhysicalOrder) bool {
	h.mu.Lock()
	h.creates = append(h.creates, o)
	refuse, hook := h.refuse, h.onCreate
	h.mu.Unlock()
	if hook != nil {
		hook(o)
	}
	return !refuse
}

func (h *recordingHandler) OnChangeBrokerOrder(o *schema.PhysicalOrder) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, o)
	return !h.refuse
}

func (h *recordingHandler) OnCancelBrokerOrder(o *schema.PhysicalOrder) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancels = append(h.cancels, o)
	return !h.refuse
}

func (h *recordingHandler) counts() (int, int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.creates), len(h.changes), len(h.cancels)
}

type fillRecorder struct {
	fills []schema.LogicalFill
}

func (r *fillRecorder) OnLogicalFill(f schema.LogicalFill) {
	r.fills = append(r.fills, f)
}

type tickRecorder struct {
	states []bool
}

func (r *tickRecorder) SetWaitingForMatch(_ string, waiting bool) {
	r.states = append(r.states, waiting)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	alg     *Algorithm
	cache   *store.Cache
	handler *recordingHandler
	fills   *fillRecorder
	tick    *tickRecorder
	clock   *fakeClock
	metrics *obs.Metrics
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.Symbol == "" {
		cfg.Symbol = testSymbol
	}
	if cfg.MinimumTick == 0 {
		cfg.MinimumTick = 1
	}
	f := &fixture{
		cache:   store.NewCache(),
		handler: &recordingHandler{},
		fills:   &fillRecorder{},
		tick:    &tickRecorder{},
		clock:   &fakeClock{now: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)},
		metrics: obs.NewMetrics(),
	}
	alg, err := New(cfg, f.cache, f.handler)
	require.NoError(t, err)
	f.alg = alg.
		WithFillListener(f.fills).
		WithTickSync(f.tick).
		WithMetrics(f.metrics).
		WithIDGenerator(schema.NewIDGenerator(1000)).
		WithClock(f.clock.Now)
	return f
}

func entry(serial int64, typ schema.OrderType, price schema.Price, position schema.Quantity) schema.LogicalOrder {
	return schema.LogicalOrder{
		ID:             serial,
		SerialNumber:   serial,
		StrategyID:     testStrategy,
		Symbol:         testSymbol,
		Type:           typ,
		TradeDirection: schema.TradeDirectionEntry,
		Price:          price,
		Position:       position,
	}
}

func detail(recency int64, position schema.Quantity, orders ...schema.LogicalOrder) schema.PositionChangeDetail {
	return schema.PositionChangeDetail{
		Symbol:   testSymbol,
		Position: position,
		Orders:   orders,
		Recency:  recency,
	}
}

func (f *fixture) orders() []*schema.PhysicalOrder {
	return f.cache.GetOrders()
}

func (f *fixture) lastCreate(t *testing.T) *schema.PhysicalOrder {
	t.Helper()
	require.NotEmpty(t, f.handler.creates)
	return f.handler.creates[len(f.handler.creates)-1]
}

func TestCreateForMissingPhysical(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))

	require.Len(t, f.handler.creates, 1)
	o := f.handler.creates[0]
	assert.Equal(t, schema.OrderActionCreate, o.Action)
	assert.Equal(t, schema.OrderSideBuy, o.Side)
	assert.Equal(t, schema.Quantity(100), o.Size)
	assert.Equal(t, schema.Price(1000), o.Price)
	assert.Equal(t, int64(42), o.LogicalSerialNumber)
	assert.Equal(t, schema.OrderStatePendingNew, o.State)

	got, ok := f.cache.TryGetOrderBySerial(42)
	require.True(t, ok)
	assert.Same(t, o, got)
}

func TestCompareIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))
	require.NoError(t, f.alg.ConfirmCreate(f.lastCreate(t).BrokerOrder, true))

	before := len(f.orders())
	for range 3 {
		require.NoError(t, f.alg.ProcessOrders())
	}
	creates, changes, cancels := f.handler.counts()
	assert.Equal(t, 1, creates)
	assert.Zero(t, changes)
	assert.Zero(t, cancels)
	assert.Len(t, f.orders(), before)
	assert.NotZero(t, f.metrics.Snapshot().ReconciledPasses)
}

func TestChangeLinksOriginal(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))
	original := f.lastCreate(t)
	require.NoError(t, f.alg.ConfirmCreate(original.BrokerOrder, true))

	require.NoError(t, f.alg.PositionChange(detail(2, 50, entry(42, schema.OrderTypeBuyLimit, 1000, 50)), true))

	require.Len(t, f.handler.changes, 1)
	change := f.handler.changes[0]
	assert.Equal(t, schema.OrderActionChange, change.Action)
	assert.Equal(t, schema.Quantity(50), change.Size)
	require.NotNil(t, change.OriginalOrder)
	assert.Same(t, original, change.OriginalOrder)
	assert.Equal(t, schema.Quantity(100), change.OriginalOrder.Size)
	assert.Same(t, change, original.ReplacedBy)

	require.NoError(t, f.alg.ConfirmChange(change.BrokerOrder, true))
	orders := f.orders()
	require.Len(t, orders, 1)
	assert.Same(t, change, orders[0])
	assert.Equal(t, schema.OrderStateActive, change.State)
	_, ok := f.cache.TryGetOrderByID(original.BrokerOrder)
	assert.False(t, ok)
	assert.Len(t, f.handler.changes, 1)
}

func TestAdjustmentFillEmitsNoLogicalFill(t *testing.T) {
	f := newFixture(t, Config{})
	adj, err := schema.NewPhysicalOrder(schema.PhysicalOrderConfig{
		Action:      schema.OrderActionCreate,
		State:       schema.OrderStateActive,
		Symbol:      testSymbol,
		Side:        schema.OrderSideBuy,
		Type:        schema.OrderTypeBuyMarket,
		Size:        10,
		BrokerOrder: 77,
		Flags:       schema.OrderFlagAdjustment,
	})
	require.NoError(t, err)
	require.NoError(t, f.cache.SetOrder(adj))

	require.NoError(t, f.alg.ProcessFill(schema.PhysicalFill{BrokerOrder: 77, Symbol: testSymbol, Price: 1001, Size: 10}))

	assert.Equal(t, schema.Quantity(10), f.cache.GetActualPosition(testSymbol))
	assert.Empty(t, f.fills.fills)
	assert.Empty(t, f.orders())
	assert.Equal(t, uint64(1), f.metrics.Snapshot().AdjustmentFills)
}

func TestPendingBlocksProgress(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))
	require.NoError(t, f.alg.PositionChange(detail(2, 40, entry(42, schema.OrderTypeBuyLimit, 1000, 40)), true))
	require.NoError(t, f.alg.ProcessOrders())

	creates, changes, cancels := f.handler.counts()
	assert.Equal(t, 1, creates)
	assert.Zero(t, changes)
	assert.Zero(t, cancels)

	require.NoError(t, f.alg.ConfirmCreate(f.lastCreate(t).BrokerOrder, true))
	require.Len(t, f.handler.changes, 1)
	assert.Equal(t, schema.Quantity(40), f.handler.changes[0].Size)
}

func TestStalePositionChangeIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.alg.PositionChange(detail(5, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), false))
	require.NoError(t, f.alg.PositionChange(detail(3, 0), false))

	assert.Equal(t, int64(5), f.alg.Recency())
	require.Len(t, f.alg.LogicalOrders(), 1)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().StaleUpdates)
}

func TestWaitingForMatch(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), false))
	assert.True(t, f.alg.WaitingForMatch())
	assert.Empty(t, f.handler.creates)

	require.NoError(t, f.alg.ProcessOrders())
	assert.True(t, f.alg.WaitingForMatch())
	require.Len(t, f.handler.creates, 1)

	require.NoError(t, f.alg.ConfirmCreate(f.lastCreate(t).BrokerOrder, true))
	assert.False(t, f.alg.WaitingForMatch())
	assert.Equal(t, []bool{true, false}, f.tick.states)
}

func TestMultiLevelFanOut(t *testing.T) {
	f := newFixture(t, Config{})
	logical := entry(42, schema.OrderTypeBuyLimit, 1000, 100)
	logical.Levels = 3
	logical.LevelSize = 40
	logical.LevelIncrement = 1

	require.NoError(t, f.alg.PositionChange(detail(1, 100, logical), true))
	require.Len(t, f.handler.creates, 3)
	prices := map[schema.Price]schema.Quantity{}
	for _, o := range f.handler.creates {
		prices[o.Price] = o.Size
	}
	assert.Equal(t, map[schema.Price]schema.Quantity{1000: 40, 999: 40, 998: 20}, prices)

	for _, o := range slices.Clone(f.handler.creates) {
		require.NoError(t, f.alg.ConfirmCreate(o.BrokerOrder, true))
	}
	_, changes, cancels := f.handler.counts()
	require.Zero(t, changes)
	require.Zero(t, cancels)

	logical.Position = 60
	require.NoError(t, f.alg.PositionChange(detail(2, 60, logical), true))
	require.Len(t, f.handler.changes, 1)
	assert.Equal(t, schema.Price(999), f.handler.changes[0].Price)
	assert.Equal(t, schema.Quantity(20), f.handler.changes[0].Size)
	require.Len(t, f.handler.cancels, 1)
	assert.Equal(t, schema.Price(998), f.handler.cancels[0].OriginalOrder.Price)
	assert.Len(t, f.handler.creates, 3)
}

func TestCancelsBlockCreates(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))
	require.NoError(t, f.alg.ConfirmCreate(f.lastCreate(t).BrokerOrder, true))

	require.NoError(t, f.alg.PositionChange(detail(2, 100, entry(43, schema.OrderTypeBuyLimit, 995, 100)), true))
	creates, _, cancels := f.handler.counts()
	assert.Equal(t, 1, creates)
	require.Equal(t, 1, cancels)

	require.NoError(t, f.alg.ConfirmCancel(f.handler.cancels[0].BrokerOrder, true))
	require.Len(t, f.handler.creates, 2)
	assert.Equal(t, int64(43), f.lastCreate(t).LogicalSerialNumber)
	assert.Len(t, f.orders(), 1)
}

func TestRejectThrottle(t *testing.T) {
	f := newFixture(t, Config{RejectThreshold: 1})
	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))

	require.NoError(t, f.alg.RejectOrder(f.lastCreate(t).BrokerOrder, false, true, true))
	require.Len(t, f.handler.creates, 2)

	require.NoError(t, f.alg.RejectOrder(f.lastCreate(t).BrokerOrder, false, true, true))
	assert.Len(t, f.handler.creates, 2)
	assert.Empty(t, f.orders())
	snap := f.metrics.Snapshot()
	assert.Equal(t, uint64(2), snap.BrokerRejects)
	assert.NotZero(t, snap.ThrottledOrders)
}

func TestRefusedCommandRollsBack(t *testing.T) {
	f := newFixture(t, Config{})
	f.handler.refuse = true
	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))

	require.Len(t, f.handler.creates, 1)
	assert.Empty(t, f.orders())
	assert.Equal(t, uint64(1), f.metrics.Snapshot().CommandRejects[schema.OrderActionCreate])
}

func TestStalePendingExpires(t *testing.T) {
	f := newFixture(t, Config{PendingTimeout: 5 * time.Second})
	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))
	create := f.lastCreate(t)

	f.clock.Advance(time.Second)
	require.NoError(t, f.alg.ProcessOrders())
	assert.Empty(t, f.handler.cancels)

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.alg.ProcessOrders())
	assert.Equal(t, schema.OrderStateExpired, create.State)
	require.Len(t, f.handler.cancels, 1)
	assert.Same(t, create, f.handler.cancels[0].OriginalOrder)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().ExpiredOrders)

	require.NoError(t, f.alg.ConfirmCancel(f.handler.cancels[0].BrokerOrder, true))
	require.Len(t, f.handler.creates, 2)
	assert.Equal(t, schema.OrderStatePendingNew, f.lastCreate(t).State)
}

func TestRunawayCancelTripsBreaker(t *testing.T) {
	f := newFixture(t, Config{PendingTimeout: 5 * time.Second, CancelLimit: 2})
	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))

	var err error
	for range 5 {
		f.clock.Advance(6 * time.Second)
		if err = f.alg.ProcessOrders(); err != nil {
			break
		}
	}
	require.True(t, errors.Is(err, exception.ErrRunawayCancel))
	assert.Len(t, f.handler.cancels, 2)
	require.True(t, errors.Is(f.alg.Halted(), exception.ErrRunawayCancel))
	require.True(t, errors.Is(f.alg.ProcessOrders(), exception.ErrRunawayCancel))
	require.True(t, errors.Is(f.alg.PositionChange(detail(9, 0), true), exception.ErrRunawayCancel))
	assert.Equal(t, uint64(1), f.metrics.Snapshot().BreakerTrips)
}

func TestUnknownFillIsFatal(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.alg.ProcessFill(schema.PhysicalFill{BrokerOrder: 123, Symbol: testSymbol, Size: 1})
	require.True(t, errors.Is(err, exception.ErrUnknownFillOrder))
	require.True(t, errors.Is(f.alg.ConfirmActive(1, true), exception.ErrUnknownFillOrder))
}

func TestFillCompletesEntryAndRemovesSiblings(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.alg.PositionChange(detail(1, 100,
		entry(42, schema.OrderTypeBuyLimit, 1000, 100),
		entry(43, schema.OrderTypeBuyLimit, 990, 100),
	), true))
	require.Len(t, f.handler.creates, 2)
	first, second := f.handler.creates[0], f.handler.creates[1]
	require.NoError(t, f.alg.ConfirmCreate(first.BrokerOrder, true))
	require.NoError(t, f.alg.ConfirmCreate(second.BrokerOrder, true))

	require.NoError(t, f.alg.ProcessFill(schema.PhysicalFill{BrokerOrder: first.BrokerOrder, Symbol: testSymbol, Price: 1000, Size: 40}))
	require.Len(t, f.fills.fills, 1)
	partial := f.fills.fills[0]
	assert.False(t, partial.IsComplete)
	assert.Equal(t, schema.Quantity(40), partial.Position)
	assert.Equal(t, schema.Quantity(40), partial.PositionChange)
	assert.Equal(t, int64(2), partial.Recency)
	assert.Equal(t, schema.Quantity(60), first.Size)

	// the sibling entry shrinks to what is left of the shared strategy target
	require.Len(t, f.handler.changes, 1)
	change := f.handler.changes[0]
	assert.Same(t, second, change.OriginalOrder)
	assert.Equal(t, schema.Quantity(60), change.Size)
	require.NoError(t, f.alg.ConfirmChange(change.BrokerOrder, true))

	require.NoError(t, f.alg.ProcessFill(schema.PhysicalFill{BrokerOrder: first.BrokerOrder, Symbol: testSymbol, Price: 1000, Size: 60}))
	require.Len(t, f.fills.fills, 2)
	done := f.fills.fills[1]
	assert.True(t, done.IsComplete)
	assert.Equal(t, schema.Quantity(100), done.Position)
	assert.Equal(t, int64(42), done.SerialNumber)

	assert.Empty(t, f.alg.LogicalOrders())
	assert.Equal(t, schema.Quantity(100), f.cache.GetActualPosition(testSymbol))
	sp, ok := f.cache.GetStrategyPosition(testStrategy)
	require.True(t, ok)
	assert.Equal(t, schema.Quantity(100), sp.ExpectedPosition)
	require.Len(t, f.handler.cancels, 1)
	assert.Same(t, change, f.handler.cancels[0].OriginalOrder)
}

func TestFillMergesAboveStrategyRecency(t *testing.T) {
	f := newFixture(t, Config{})
	d := detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100))
	d.StrategyPositions = []schema.StrategyPositionUpdate{{ID: testStrategy, Symbol: testSymbol, Position: 0, Recency: 10}}
	require.NoError(t, f.alg.PositionChange(d, true))
	create := f.lastCreate(t)
	require.NoError(t, f.alg.ConfirmCreate(create.BrokerOrder, true))

	require.NoError(t, f.alg.ProcessFill(schema.PhysicalFill{BrokerOrder: create.BrokerOrder, Symbol: testSymbol, Price: 1000, Size: 40}))
	require.Len(t, f.fills.fills, 1)
	assert.Equal(t, schema.Quantity(40), f.fills.fills[0].Position)
	assert.Equal(t, int64(11), f.fills.fills[0].Recency)

	sp, ok := f.cache.GetStrategyPosition(testStrategy)
	require.True(t, ok)
	assert.Equal(t, schema.Quantity(40), sp.ExpectedPosition)
	assert.Equal(t, int64(11), sp.Recency)

	// the working order already holds the 60 still wanted
	assert.Equal(t, schema.Quantity(60), create.Size)
	assert.Empty(t, f.handler.changes)
	assert.Len(t, f.handler.creates, 1)
}

func TestEngineWithoutMetrics(t *testing.T) {
	handler := &recordingHandler{}
	alg, err := New(Config{Symbol: testSymbol, MinimumTick: 1}, store.NewCache(), handler)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		require.NoError(t, alg.PositionChange(detail(5, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))
		require.NoError(t, alg.PositionChange(detail(3, 0), true))
		require.Len(t, handler.creates, 1)
		create := handler.creates[0]
		require.NoError(t, alg.ConfirmCreate(create.BrokerOrder, true))
		require.NoError(t, alg.ProcessFill(schema.PhysicalFill{BrokerOrder: create.BrokerOrder, Symbol: testSymbol, Price: 1000, Size: 100}))
	})
	assert.Empty(t, alg.LogicalOrders())
}

func TestFilledAfterCancel(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))
	create := f.lastCreate(t)
	require.NoError(t, f.alg.ConfirmCreate(create.BrokerOrder, true))

	require.NoError(t, f.alg.PositionChange(detail(2, 0), true))
	require.Len(t, f.handler.cancels, 1)

	require.NoError(t, f.alg.ProcessFill(schema.PhysicalFill{BrokerOrder: create.BrokerOrder, Symbol: testSymbol, Price: 1000, Size: 100}))
	assert.Empty(t, f.fills.fills)
	assert.Empty(t, f.orders())
	assert.Equal(t, schema.Quantity(100), f.cache.GetActualPosition(testSymbol))
}

func TestExitCompletesAtFlat(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.cache.SetStrategyPosition(testStrategy, testSymbol, 30, 1)
	require.NoError(t, err)
	f.cache.SetActualPosition(testSymbol, 30)

	exit := entry(50, schema.OrderTypeSellLimit, 1010, 30)
	exit.TradeDirection = schema.TradeDirectionExit
	require.NoError(t, f.alg.PositionChange(detail(1, 0, exit), true))
	require.Len(t, f.handler.creates, 1)
	sell := f.lastCreate(t)
	assert.Equal(t, schema.OrderSideSell, sell.Side)
	assert.Equal(t, schema.Quantity(30), sell.Size)

	require.NoError(t, f.alg.ConfirmCreate(sell.BrokerOrder, true))
	require.NoError(t, f.alg.ProcessFill(schema.PhysicalFill{BrokerOrder: sell.BrokerOrder, Symbol: testSymbol, Price: 1010, Size: 30}))
	require.Len(t, f.fills.fills, 1)
	assert.True(t, f.fills.fills[0].IsComplete)
	assert.Zero(t, f.fills.fills[0].Position)
	assert.Empty(t, f.alg.LogicalOrders())
}

func TestSellShortWhenFlat(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.alg.PositionChange(detail(1, -20, entry(60, schema.OrderTypeSellLimit, 1020, 20)), true))
	require.Len(t, f.handler.creates, 1)
	assert.Equal(t, schema.OrderSideSellShort, f.lastCreate(t).Side)
}

func TestRiskGateBlocksCreate(t *testing.T) {
	f := newFixture(t, Config{})
	f.alg.WithRisk(risk.NewEngine(risk.Config{KillSwitch: true}))
	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))

	assert.Empty(t, f.handler.creates)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().RiskReasonCounts[schema.RiskReasonKillSwitch])
}

func TestTrySyncPositionSendsAdjustment(t *testing.T) {
	f := newFixture(t, Config{SyncPositions: true})
	require.NoError(t, f.alg.PositionChange(detail(1, 50), true))

	require.Len(t, f.handler.creates, 1)
	adj := f.lastCreate(t)
	assert.True(t, adj.IsAdjustment())
	assert.True(t, adj.Flags.Has(schema.OrderFlagAdjustment))
	assert.Equal(t, schema.OrderSideBuy, adj.Side)
	assert.Equal(t, schema.Quantity(50), adj.Size)

	require.NoError(t, f.alg.TrySyncPosition())
	assert.Len(t, f.handler.creates, 1)
}

func TestReentrantCompareIsCoalesced(t *testing.T) {
	f := newFixture(t, Config{})
	f.handler.onCreate = func(*schema.PhysicalOrder) {
		require.NoError(t, f.alg.ProcessOrders())
	}
	require.NoError(t, f.alg.PositionChange(detail(1, 100, entry(42, schema.OrderTypeBuyLimit, 1000, 100)), true))

	assert.Len(t, f.handler.creates, 1)
	assert.False(t, f.alg.scheduler.running())
}

func TestCompareScheduler(t *testing.T) {
	var s compareScheduler
	require.True(t, s.enter())
	assert.False(t, s.enter())
	assert.False(t, s.enter())
	assert.True(t, s.next())
	assert.False(t, s.next())
	assert.False(t, s.running())

	require.True(t, s.enter())
	s.reset()
	assert.False(t, s.running())
}

func TestConfigValidate(t *testing.T) {
	_, err := New(Config{MinimumTick: 1}, store.NewCache(), &recordingHandler{})
	require.True(t, errors.Is(err, exception.ErrInvalidArgument))
	_, err = New(Config{Symbol: testSymbol}, store.NewCache(), &recordingHandler{})
	require.True(t, errors.Is(err, exception.ErrInvalidArgument))
	_, err = New(Config{Symbol: testSymbol, MinimumTick: 1}, store.NewCache(), nil)
	require.True(t, errors.Is(err, exception.ErrNilHandler))
}
