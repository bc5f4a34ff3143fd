package obs

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reconciler"

// Collector exports a Metrics snapshot on every scrape.
type Collector struct {
	m *Metrics

	events      *prometheus.Desc
	commands    *prometheus.Desc
	riskBlocks  *prometheus.Desc
	counters    map[string]*prometheus.Desc
	compare     *prometheus.Desc
	snapshot    *prometheus.Desc
	eventWait   *prometheus.Desc
	queueLength *prometheus.Desc

	queueLen func() map[string]int
}

// NewCollector creates a collector over m. queueLen, when set, reports the
// queued events per symbol.
func NewCollector(m *Metrics, queueLen func() map[string]int) *Collector {
	counter := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		m:          m,
		events:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "events_total"), "Engine events applied.", []string{"type"}, nil),
		commands:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "commands_total"), "Broker commands sent.", []string{"action", "accepted"}, nil),
		riskBlocks: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "risk_blocks_total"), "Commands blocked by the risk gate.", []string{"reason"}, nil),
		counters: map[string]*prometheus.Desc{
			"compare_passes_total":     counter("compare_passes_total", "Compare passes run."),
			"reconciled_passes_total":  counter("reconciled_passes_total", "Compare passes that found nothing to do."),
			"broker_rejects_total":     counter("broker_rejects_total", "Rejects received from the broker."),
			"throttled_orders_total":   counter("throttled_orders_total", "New orders suppressed after repeated rejects."),
			"stale_updates_total":      counter("stale_updates_total", "Position changes ignored for an old recency."),
			"expired_orders_total":     counter("expired_orders_total", "Pending orders expired."),
			"logical_fills_total":      counter("logical_fills_total", "Fills sent upstream."),
			"adjustment_fills_total":   counter("adjustment_fills_total", "Fills of position adjustment orders."),
			"breaker_trips_total":      counter("breaker_trips_total", "Engines halted by a fatal error."),
			"snapshots_total":          counter("snapshots_total", "Snapshots written."),
			"snapshot_bytes_total":     counter("snapshot_bytes_total", "Snapshot payload bytes written."),
			"snapshot_failures_total":  counter("snapshot_failures_total", "Snapshots that failed."),
			"queue_drops_total":        counter("queue_drops_total", "Events dropped on a full queue."),
			"queue_closed_drops_total": counter("queue_closed_drops_total", "Events dropped on a closed queue."),
		},
		compare:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "compare_seconds"), "Compare pass latency.", nil, nil),
		snapshot:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "snapshot_seconds"), "Snapshot encode latency.", nil, nil),
		eventWait:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "event_queue_seconds"), "Time events spent queued.", nil, nil),
		queueLength: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "queue_length"), "Queued events.", []string{"symbol"}, nil),
		queueLen:    queueLen,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.events
	ch <- c.commands
	ch <- c.riskBlocks
	for _, d := range c.counters {
		ch <- d
	}
	ch <- c.compare
	ch <- c.snapshot
	ch <- c.eventWait
	ch <- c.queueLength
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	for t, v := range s.EventCounts {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(v), t.String())
	}
	for a, v := range s.CommandCounts {
		ch <- prometheus.MustNewConstMetric(c.commands, prometheus.CounterValue, float64(v), a.String(), strconv.FormatBool(true))
	}
	for a, v := range s.CommandRejects {
		ch <- prometheus.MustNewConstMetric(c.commands, prometheus.CounterValue, float64(v), a.String(), strconv.FormatBool(false))
	}
	for r, v := range s.RiskReasonCounts {
		ch <- prometheus.MustNewConstMetric(c.riskBlocks, prometheus.CounterValue, float64(v), r.String())
	}

	values := map[string]uint64{
		"compare_passes_total":     s.ComparePasses,
		"reconciled_passes_total":  s.ReconciledPasses,
		"broker_rejects_total":     s.BrokerRejects,
		"throttled_orders_total":   s.ThrottledOrders,
		"stale_updates_total":      s.StaleUpdates,
		"expired_orders_total":     s.ExpiredOrders,
		"logical_fills_total":      s.LogicalFills,
		"adjustment_fills_total":   s.AdjustmentFills,
		"breaker_trips_total":      s.BreakerTrips,
		"snapshots_total":          s.Snapshots,
		"snapshot_bytes_total":     s.SnapshotBytes,
		"snapshot_failures_total":  s.SnapshotFailures,
		"queue_drops_total":        s.QueueDrops,
		"queue_closed_drops_total": s.QueueClosed,
	}
	for name, v := range values {
		ch <- prometheus.MustNewConstMetric(c.counters[name], prometheus.CounterValue, float64(v))
	}

	ch <- summary(c.compare, s.CompareLatency)
	ch <- summary(c.snapshot, s.SnapshotLatency)
	ch <- summary(c.eventWait, s.EventLatency)

	if c.queueLen != nil {
		for symbol, n := range c.queueLen() {
			ch <- prometheus.MustNewConstMetric(c.queueLength, prometheus.GaugeValue, float64(n), symbol)
		}
	}
}

func summary(desc *prometheus.Desc, l LatencySnapshot) prometheus.Metric {
	return prometheus.MustNewConstSummary(desc, l.Count, l.Sum.Seconds(), nil)
}
