package app

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"reconciler/internal/chaos"
	"reconciler/internal/control"
	"reconciler/internal/core"
	"reconciler/internal/journal"
	"reconciler/internal/obs"
	"reconciler/internal/og"
	"reconciler/internal/ops"
	"reconciler/internal/risk"
	"reconciler/internal/schema"
	"reconciler/internal/store"
	"reconciler/pkg/conn"
	"reconciler/pkg/exception"
)

const gatewayPruneEvery = 1024

// Option customizes an App.
type Option func(*options)

type options struct {
	journalSink journal.Sink
}

// WithJournalSink journals into sink instead of the configured Postgres target.
func WithJournalSink(sink journal.Sink) Option {
	return func(o *options) { o.journalSink = sink }
}

// App owns the order store, one engine and runner per symbol and the
// simulated venue they trade against.
type App struct {
	cfg     ops.Loaded
	metrics *obs.Metrics
	store   *store.Store
	risk    *risk.Engine
	gateway *og.Gateway
	chaos   *chaos.Engine
	journal *journal.Journal
	pg      *conn.Client
	ids     *schema.IDGenerator

	runners  []*core.Runner
	bySymbol map[string]*core.Runner

	mu      sync.Mutex
	waiting map[string]bool

	closeOnce sync.Once
	closeErr  error
}

// New recovers the order store and wires every symbol engine.
func New(ctx context.Context, cfg ops.Loaded, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:      cfg,
		metrics:  obs.NewMetrics(),
		risk:     risk.NewEngine(cfg.Risk),
		ids:      schema.NewIDGenerator(0),
		bySymbol: make(map[string]*core.Runner, len(cfg.Engines)),
		waiting:  make(map[string]bool),
	}

	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, errors.Wrap(err, "open order store")
	}
	a.store = st.WithMetrics(a.metrics)
	if _, err := a.store.Recover(); err != nil {
		_ = a.store.Close()
		return nil, errors.Wrap(err, "recover order store")
	}
	recovered := a.store.GetOrders()
	for _, order := range recovered {
		a.ids.Observe(order.BrokerOrder)
	}

	a.gateway = og.NewGateway(og.GatewayConfig{Session: cfg.Server.AppName, PruneEvery: gatewayPruneEvery})
	if cfg.Chaos != nil {
		a.chaos, err = chaos.NewEngine(*cfg.Chaos)
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
		a.gateway.WithInjector(a.chaos)
	}

	if err := a.openJournal(ctx, o.journalSink); err != nil {
		_ = a.store.Close()
		return nil, err
	}

	listener := &listener{journal: a.journal}
	for _, ec := range cfg.Engines {
		alg, err := core.New(ec, a.store, a.gateway)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		alg.WithRisk(a.risk).
			WithMetrics(a.metrics).
			WithIDGenerator(a.ids).
			WithTickSync(a).
			WithFillListener(listener).
			WithCommandListener(listener)
		r := core.NewRunner(alg, cfg.QueueSize).WithMetrics(a.metrics)
		a.runners = append(a.runners, r)
		a.bySymbol[ec.Symbol] = r
		a.gateway.Register(ec.Symbol, r)
	}

	if n := a.gateway.Restore(recovered); n > 0 {
		logs.Infof("restored venue orders, count: %d", n)
	}
	return a, nil
}

func (a *App) openJournal(ctx context.Context, sink journal.Sink) error {
	if sink == nil && !a.cfg.Journal.Enabled {
		return nil
	}
	if sink == nil {
		pg, err := conn.New(a.cfg.Journal.Postgres)
		if err != nil {
			return errors.Wrap(err, "connect journal database")
		}
		gs := journal.NewGormSink(pg.DB(), a.cfg.Journal.Config.BatchSize)
		if err := gs.Migrate(ctx); err != nil {
			_ = pg.Close()
			return err
		}
		a.pg, sink = pg, gs
	}
	j, err := journal.New(a.cfg.Journal.Config, sink)
	if err != nil {
		_ = a.pg.Close()
		return err
	}
	a.journal = j
	logs.Infof("journal enabled, run id: %s", j.RunID())
	return nil
}

// Metrics returns the shared engine metrics.
func (a *App) Metrics() *obs.Metrics { return a.metrics }

// Store returns the order store.
func (a *App) Store() *store.Store { return a.store }

// Gateway returns the simulated venue.
func (a *App) Gateway() *og.Gateway { return a.gateway }

// Chaos returns the fault injector, nil when disabled.
func (a *App) Chaos() *chaos.Engine { return a.chaos }

// Journal returns the journal, nil when disabled.
func (a *App) Journal() *journal.Journal { return a.journal }

// Runners returns the symbol runners in config order.
func (a *App) Runners() []*core.Runner { return a.runners }

// Runner returns the runner of symbol.
func (a *App) Runner(symbol string) (*core.Runner, bool) {
	r, ok := a.bySymbol[symbol]
	return r, ok
}

// Collector exports the engine metrics to Prometheus.
func (a *App) Collector() *obs.Collector {
	return obs.NewCollector(a.metrics, a.queueLengths)
}

func (a *App) queueLengths() map[string]int {
	out := make(map[string]int, len(a.runners))
	for _, r := range a.runners {
		out[r.Symbol()] = r.Pending()
	}
	return out
}

// Run drives every runner until ctx is done or one of them halts, then
// closes the app.
func (a *App) Run(ctx context.Context) error {
	if a.journal != nil {
		a.journal.Start(ctx)
	}
	eg, gctx := errgroup.WithContext(ctx)
	for _, r := range a.runners {
		eg.Go(func() error {
			if err := r.Run(gctx); err != nil {
				return errors.Wrapf(err, "runner %s", r.Symbol())
			}
			return nil
		})
	}
	eg.Go(func() error {
		a.heartbeat(gctx)
		return nil
	})

	err := eg.Wait()
	if cerr := a.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// heartbeat releases events held back by the fault injector and wakes
// engines that still have pending or expired orders.
func (a *App) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.gateway.Flush()
			for _, r := range a.runners {
				if a.store.HasUnsettledOrders(r.Symbol()) {
					_ = r.SubmitProcessOrders()
				}
			}
		}
	}
}

// Close stops the runners, flushes the journal and writes a final snapshot.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		for _, r := range a.runners {
			r.Close()
		}
		if a.journal != nil {
			a.journal.Close()
		}
		if err := a.store.ForceSnapshot(); err != nil {
			logs.Errorf("final snapshot, err: %+v", err)
			a.closeErr = err
		}
		if err := a.store.Close(); err != nil && a.closeErr == nil {
			a.closeErr = err
		}
		if err := a.pg.Close(); err != nil {
			logs.Warnf("close journal database, err: %+v", err)
		}
	})
	return a.closeErr
}

// SetWaitingForMatch records symbols whose last position change arrived
// while the venue was disconnected.
func (a *App) SetWaitingForMatch(symbol string, waiting bool) {
	a.mu.Lock()
	if waiting {
		a.waiting[symbol] = true
	} else {
		delete(a.waiting, symbol)
	}
	a.mu.Unlock()
	logs.Infof("waiting for match, symbol: %s, waiting: %v", symbol, waiting)
}

// Waiting returns the symbols waiting for a match.
func (a *App) Waiting() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.waiting))
	for s := range a.waiting {
		out = append(out, s)
	}
	return out
}

// Disconnect makes the venue refuse commands and marks every runner as not
// recovered.
func (a *App) Disconnect() {
	a.gateway.Disconnect()
	for _, r := range a.runners {
		r.SetRecovered(false)
	}
	logs.Warnf("venue disconnected, session: %s", a.cfg.Server.AppName)
}

// Reconnect restores the venue and compares every symbol that was waiting.
func (a *App) Reconnect() {
	a.gateway.Reconnect()
	for _, r := range a.runners {
		r.SetRecovered(true)
	}
	for _, symbol := range a.Waiting() {
		if r, ok := a.bySymbol[symbol]; ok {
			_ = r.SubmitProcessOrders()
		}
	}
	logs.Infof("venue reconnected, session: %s", a.cfg.Server.AppName)
}

var _ control.Backend = (*App)(nil)

// Symbol implements control.Backend.
func (a *App) Symbol(name string) (schema.Symbol, bool) {
	if _, ok := a.bySymbol[name]; !ok {
		return schema.Symbol{}, false
	}
	return a.cfg.Registry.SymbolByName(name)
}

// PositionChange implements control.Backend.
func (a *App) PositionChange(detail schema.PositionChangeDetail) error {
	r, ok := a.bySymbol[detail.Symbol]
	if !ok {
		return errors.Wrap(exception.ErrUnknownSymbol, detail.Symbol)
	}
	if detail.Time.IsZero() {
		detail.Time = time.Now().UTC()
	}
	return r.SubmitPositionChange(detail)
}

// Tick implements control.Backend. The venue fills crossing orders before the
// engine sees the new reference price.
func (a *App) Tick(symbol string, price schema.Price) error {
	r, ok := a.bySymbol[symbol]
	if !ok {
		return errors.Wrap(exception.ErrUnknownSymbol, symbol)
	}
	a.gateway.OnTick(symbol, price)
	return r.OnTick(price)
}

// Snapshot implements control.Backend.
func (a *App) Snapshot() error {
	return a.store.ForceSnapshot()
}

// Status implements control.Backend.
func (a *App) Status() []control.StatusView {
	out := make([]control.StatusView, 0, len(a.runners))
	for _, r := range a.runners {
		out = append(out, control.NewStatusView(r.Status(), r.Pending()))
	}
	return out
}

// Kill implements control.Backend.
func (a *App) Kill(on bool) {
	a.risk.SetKillSwitch(on)
}

type listener struct {
	journal *journal.Journal
}

func (l *listener) OnLogicalFill(fill schema.LogicalFill) {
	logs.Infof("logical fill, symbol: %s, strategy: %d, serial: %d, change: %d, position: %d, price: %d, complete: %v",
		fill.Symbol, fill.StrategyID, fill.SerialNumber, fill.PositionChange, fill.Position, fill.Price, fill.IsComplete)
	if l.journal != nil {
		l.journal.OnLogicalFill(fill)
	}
}

func (l *listener) OnCommand(order *schema.PhysicalOrder, accepted bool) {
	logs.Debugf("broker command, order: %s, accepted: %v", order, accepted)
	if l.journal != nil {
		l.journal.OnCommand(order, accepted)
	}
}
