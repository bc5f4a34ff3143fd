package obs

import (
	"sync/atomic"
	"time"

	"reconciler/internal/schema"
)

const (
	maxEventType  = int(schema.MaxEventType)
	maxRiskReason = int(schema.MaxRiskReason)
	maxAction     = int(schema.OrderActionCancel)
)

// Metrics collects lightweight counters and latency stats. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	eventCounts      [maxEventType + 1]uint64
	riskReasonCounts [maxRiskReason + 1]uint64
	commandCounts    [maxAction + 1]uint64
	commandRejects   [maxAction + 1]uint64

	comparePasses    uint64
	reconciledPasses uint64
	brokerRejects    uint64
	throttledOrders  uint64
	staleUpdates     uint64
	expiredOrders    uint64
	logicalFills     uint64
	adjustmentFills  uint64
	breakerTrips     uint64
	snapshots        uint64
	snapshotBytes    uint64
	snapshotFailures uint64
	queueDrops       uint64
	queueClosed      uint64

	compareLatency  LatencyStats
	snapshotLatency LatencyStats
	eventLatency    LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
	Sum   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts      map[schema.EventType]uint64
	RiskReasonCounts map[schema.RiskReason]uint64
	CommandCounts    map[schema.OrderAction]uint64
	CommandRejects   map[schema.OrderAction]uint64
	ComparePasses    uint64
	ReconciledPasses uint64
	BrokerRejects    uint64
	ThrottledOrders  uint64
	StaleUpdates     uint64
	ExpiredOrders    uint64
	LogicalFills     uint64
	AdjustmentFills  uint64
	BreakerTrips     uint64
	Snapshots        uint64
	SnapshotBytes    uint64
	SnapshotFailures uint64
	QueueDrops       uint64
	QueueClosed      uint64
	CompareLatency   LatencySnapshot
	SnapshotLatency  LatencySnapshot
	EventLatency     LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts an event and how long it waited in the queue.
func (m *Metrics) ObserveEvent(t schema.EventType, queued time.Duration) {
	if m == nil {
		return
	}
	if idx := int(t); idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
	if queued > 0 {
		m.eventLatency.Observe(queued)
	}
}

// IncRiskReason increments the risk reason counter.
func (m *Metrics) IncRiskReason(reason schema.RiskReason) {
	if m == nil {
		return
	}
	if idx := int(reason); idx >= 0 && idx < len(m.riskReasonCounts) {
		atomic.AddUint64(&m.riskReasonCounts[idx], 1)
	}
}

// IncCommand records a broker command; accepted tells whether the handler took it.
func (m *Metrics) IncCommand(action schema.OrderAction, accepted bool) {
	if m == nil {
		return
	}
	idx := int(action)
	if idx < 0 || idx > maxAction {
		return
	}
	if accepted {
		atomic.AddUint64(&m.commandCounts[idx], 1)
	} else {
		atomic.AddUint64(&m.commandRejects[idx], 1)
	}
}

// ObserveCompare records a compare pass and whether it found the book reconciled.
func (m *Metrics) ObserveCompare(d time.Duration, reconciled bool) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.comparePasses, 1)
	if reconciled {
		atomic.AddUint64(&m.reconciledPasses, 1)
	}
	m.compareLatency.Observe(d)
}

// ObserveSnapshot records a snapshot attempt.
func (m *Metrics) ObserveSnapshot(d time.Duration, size int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		atomic.AddUint64(&m.snapshotFailures, 1)
		return
	}
	atomic.AddUint64(&m.snapshots, 1)
	atomic.AddUint64(&m.snapshotBytes, uint64(size))
	m.snapshotLatency.Observe(d)
}

func (m *Metrics) IncBrokerReject() {
	if m != nil {
		atomic.AddUint64(&m.brokerRejects, 1)
	}
}

func (m *Metrics) IncThrottled() {
	if m != nil {
		atomic.AddUint64(&m.throttledOrders, 1)
	}
}

func (m *Metrics) IncStaleUpdate() {
	if m != nil {
		atomic.AddUint64(&m.staleUpdates, 1)
	}
}

func (m *Metrics) IncExpired() {
	if m != nil {
		atomic.AddUint64(&m.expiredOrders, 1)
	}
}

func (m *Metrics) IncLogicalFill() {
	if m != nil {
		atomic.AddUint64(&m.logicalFills, 1)
	}
}

func (m *Metrics) IncAdjustmentFill() {
	if m != nil {
		atomic.AddUint64(&m.adjustmentFills, 1)
	}
}

func (m *Metrics) IncBreakerTrip() {
	if m != nil {
		atomic.AddUint64(&m.breakerTrips, 1)
	}
}

func (m *Metrics) IncQueueDrop() {
	if m != nil {
		atomic.AddUint64(&m.queueDrops, 1)
	}
}

func (m *Metrics) IncQueueClosed() {
	if m != nil {
		atomic.AddUint64(&m.queueClosed, 1)
	}
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventType(i)] = v
		}
	}
	riskCounts := make(map[schema.RiskReason]uint64)
	for i := range m.riskReasonCounts {
		if v := atomic.LoadUint64(&m.riskReasonCounts[i]); v > 0 {
			riskCounts[schema.RiskReason(i)] = v
		}
	}
	commands := make(map[schema.OrderAction]uint64)
	rejects := make(map[schema.OrderAction]uint64)
	for i := range m.commandCounts {
		if v := atomic.LoadUint64(&m.commandCounts[i]); v > 0 {
			commands[schema.OrderAction(i)] = v
		}
		if v := atomic.LoadUint64(&m.commandRejects[i]); v > 0 {
			rejects[schema.OrderAction(i)] = v
		}
	}
	return Snapshot{
		EventCounts:      eventCounts,
		RiskReasonCounts: riskCounts,
		CommandCounts:    commands,
		CommandRejects:   rejects,
		ComparePasses:    atomic.LoadUint64(&m.comparePasses),
		ReconciledPasses: atomic.LoadUint64(&m.reconciledPasses),
		BrokerRejects:    atomic.LoadUint64(&m.brokerRejects),
		ThrottledOrders:  atomic.LoadUint64(&m.throttledOrders),
		StaleUpdates:     atomic.LoadUint64(&m.staleUpdates),
		ExpiredOrders:    atomic.LoadUint64(&m.expiredOrders),
		LogicalFills:     atomic.LoadUint64(&m.logicalFills),
		AdjustmentFills:  atomic.LoadUint64(&m.adjustmentFills),
		BreakerTrips:     atomic.LoadUint64(&m.breakerTrips),
		Snapshots:        atomic.LoadUint64(&m.snapshots),
		SnapshotBytes:    atomic.LoadUint64(&m.snapshotBytes),
		SnapshotFailures: atomic.LoadUint64(&m.snapshotFailures),
		QueueDrops:       atomic.LoadUint64(&m.queueDrops),
		QueueClosed:      atomic.LoadUint64(&m.queueClosed),
		CompareLatency:   m.compareLatency.Snapshot(),
		SnapshotLatency:  m.snapshotLatency.Snapshot(),
		EventLatency:     m.eventLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
		Sum:   time.Duration(sum),
	}
}
