package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"reconciler/internal/app"
	"reconciler/internal/chaos"
	"reconciler/internal/ops"
	"reconciler/internal/recorder"
	"reconciler/internal/schema"
)

func main() {
	configPath := flag.String("config", "configs/reconciler.yaml", "Path to YAML or JSON config")
	dir := flag.String("dir", "", "Snapshot directory (default: fresh temp dir)")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	dropRate := flag.Float64("drop-rate", 0.02, "Drop probability for acks and rejects [0-1]")
	dupRate := flag.Float64("dup-rate", 0.02, "Duplicate probability for acks and rejects [0-1]")
	rejectRate := flag.Float64("reject-rate", 0.05, "Probability to turn an ack into a reject [0-1]")
	reorderWindow := flag.Int("reorder-window", 4, "Reorder window (>=1)")
	steps := flag.Int("steps", 2000, "Number of simulated steps")
	interval := flag.Duration("interval", time.Millisecond, "Delay between steps")
	maxPosition := flag.Int64("max-position", 10, "Largest absolute strategy position")
	disconnectEvery := flag.Int("disconnect-every", 500, "Disconnect the venue every N steps (0=never)")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	cfg.Chaos = &chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		RejectRate:    *rejectRate,
		ReorderWindow: *reorderWindow,
	}
	if err := cfg.Chaos.Validate(); err != nil {
		log.Fatalf("chaos config invalid: %v", err)
	}
	cfg.Journal.Enabled = false
	snapDir := *dir
	if snapDir == "" {
		if snapDir, err = os.MkdirTemp("", "reconciler-chaos-"); err != nil {
			log.Fatalf("temp dir failed: %v", err)
		}
	}
	rc := recorder.DefaultConfig(snapDir)
	rc.DisableSync = true
	cfg.Store.Recorder = rc

	ctx, cancel := context.WithCancel(context.Background())
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("app init failed: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	rng := rand.New(rand.NewSource(*seed))
	sim := newSimulator(cfg, rng, schema.Quantity(*maxPosition))
	start := time.Now()
	for i := 1; i <= *steps; i++ {
		if *disconnectEvery > 0 && i%*disconnectEvery == 0 {
			a.Disconnect()
		}
		if *disconnectEvery > 0 && i%*disconnectEvery == *disconnectEvery/10 {
			a.Reconnect()
		}
		sym := sim.pick()
		if rng.Intn(4) == 0 {
			if err := a.PositionChange(sim.positionChange(sym)); err != nil {
				fmt.Printf("step %d: position change dropped: %v\n", i, err)
			}
		}
		if err := a.Tick(sym.Name, sim.tick(sym)); err != nil {
			fmt.Printf("step %d: tick dropped: %v\n", i, err)
		}
		if *interval > 0 {
			time.Sleep(*interval)
		}
	}
	a.Reconnect()
	time.Sleep(cfg.Heartbeat * 3)

	status := a.Status()
	cancel()
	if err := <-done; err != nil {
		fmt.Printf("run stopped with error: %v\n", err)
	}

	fmt.Printf("seed=%d steps=%d elapsed=%s snapshots=%s\n", *seed, *steps, time.Since(start), snapDir)
	for _, s := range status {
		fmt.Printf("symbol %s recency=%d waiting=%v logicals=%d halted=%q actual=%d\n",
			s.Symbol, s.Recency, s.WaitingForMatch, s.Logicals, s.Halted, a.Store().GetActualPosition(s.Symbol))
	}
	st := a.Chaos().Stats()
	fmt.Printf("chaos dropped=%d duplicated=%d rejected=%d reordered=%d\n", st.Dropped, st.Duplicated, st.Rejected, st.Reordered)
	m := a.Metrics().Snapshot()
	fmt.Printf("engine compares=%d reconciled=%d rejects=%d throttled=%d expired=%d fills=%d adjustments=%d trips=%d drops=%d\n",
		m.ComparePasses, m.ReconciledPasses, m.BrokerRejects, m.ThrottledOrders, m.ExpiredOrders,
		m.LogicalFills, m.AdjustmentFills, m.BreakerTrips, m.QueueDrops)
	for action, n := range m.CommandCounts {
		fmt.Printf("commands %s sent=%d refused=%d\n", action, n, m.CommandRejects[action])
	}
	fmt.Printf("compare latency avg=%s max=%s\n", m.CompareLatency.Avg, m.CompareLatency.Max)
	if m.BreakerTrips > 0 {
		os.Exit(2)
	}
}

type simulator struct {
	rng     *rand.Rand
	symbols []schema.Symbol
	prices  map[string]schema.Price
	recency int64
	serial  int64
	maxPos  schema.Quantity
}

func newSimulator(cfg ops.Loaded, rng *rand.Rand, maxPos schema.Quantity) *simulator {
	s := &simulator{
		rng:     rng,
		symbols: cfg.Registry.Symbols(),
		prices:  make(map[string]schema.Price),
		maxPos:  maxPos,
	}
	for _, sym := range s.symbols {
		s.prices[sym.Name] = sym.MinimumTick * 20000
	}
	return s
}

func (s *simulator) pick() schema.Symbol {
	return s.symbols[s.rng.Intn(len(s.symbols))]
}

// tick moves the price by up to three ticks.
func (s *simulator) tick(sym schema.Symbol) schema.Price {
	p := s.prices[sym.Name] + schema.Price(s.rng.Intn(7)-3)*sym.MinimumTick
	if p < sym.MinimumTick {
		p = sym.MinimumTick
	}
	s.prices[sym.Name] = p
	return p
}

// positionChange sends one entry order a few ticks away from the market, or
// nothing to flatten the working orders.
func (s *simulator) positionChange(sym schema.Symbol) schema.PositionChangeDetail {
	s.recency++
	detail := schema.PositionChangeDetail{
		Symbol:  sym.Name,
		Recency: s.recency,
		Time:    time.Now().UTC(),
	}
	if s.rng.Intn(5) == 0 {
		return detail
	}
	s.serial++
	size := schema.Quantity(s.rng.Int63n(int64(s.maxPos))) + 1
	offset := schema.Price(s.rng.Intn(4)) * sym.MinimumTick
	typ, price := schema.OrderTypeBuyLimit, s.prices[sym.Name]-offset
	if s.rng.Intn(2) == 0 {
		typ, price = schema.OrderTypeSellLimit, s.prices[sym.Name]+offset
	}
	detail.Orders = []schema.LogicalOrder{{
		ID:             s.serial,
		SerialNumber:   s.serial,
		StrategyID:     1,
		Symbol:         sym.Name,
		Type:           typ,
		TradeDirection: schema.TradeDirectionEntry,
		Price:          price,
		Position:       size,
	}}
	return detail
}
