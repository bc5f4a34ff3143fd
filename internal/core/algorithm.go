package core

import (
	"slices"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"reconciler/internal/obs"
	"reconciler/internal/risk"
	"reconciler/internal/schema"
	"reconciler/pkg/exception"
)

const (
	defaultPendingTimeout  = 5 * time.Second
	defaultRejectThreshold = 1
	defaultCancelLimit     = 15
)

// Config holds the tunables of one symbol's engine.
type Config struct {
	Symbol          string
	MinimumTick     schema.Price
	PendingTimeout  time.Duration // pending orders older than this expire
	RejectThreshold int           // new orders are ignored while the reject counter is above it
	CancelLimit     int           // canceling one order more often trips the breaker
	SyncPositions   bool          // send adjustment market orders when actual drifts from desired
}

func (c Config) withDefaults() Config {
	if c.PendingTimeout == 0 {
		c.PendingTimeout = defaultPendingTimeout
	}
	if c.RejectThreshold == 0 {
		c.RejectThreshold = defaultRejectThreshold
	}
	if c.CancelLimit == 0 {
		c.CancelLimit = defaultCancelLimit
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Symbol == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "engine symbol is empty")
	}
	if c.MinimumTick <= 0 {
		return errors.Wrapf(exception.ErrInvalidArgument, "minimum tick must be > 0 for %s", c.Symbol)
	}
	if c.PendingTimeout < 0 || c.RejectThreshold < 0 || c.CancelLimit < 0 {
		return errors.Wrapf(exception.ErrInvalidArgument, "negative tunable for %s", c.Symbol)
	}
	return nil
}

// Algorithm reconciles one symbol. It is not safe for concurrent use; a Runner
// serializes every call. Handler callbacks may re-enter the algorithm on the
// same goroutine, compare requests raised that way are coalesced.
type Algorithm struct {
	cfg     Config
	book    OrderBook
	handler PhysicalOrderHandler

	fills    FillListener
	commands CommandListener
	tick     TickSync
	risk     *risk.Engine
	metrics  *obs.Metrics
	ids      *schema.IDGenerator
	now      func() time.Time

	scheduler       compareScheduler
	logicals        []schema.LogicalOrder
	desiredPosition schema.Quantity
	recency         int64
	changeFills     map[int64]schema.Quantity
	rejectCounter   int
	waitingForMatch bool
	referencePrice  schema.Price
	halted          error

	// per pass
	cancelsIssued int
}

// New creates the engine of one symbol.
func New(cfg Config, book OrderBook, handler PhysicalOrderHandler) (*Algorithm, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if book == nil || handler == nil {
		return nil, errors.Wrapf(exception.ErrNilHandler, "symbol: %s", cfg.Symbol)
	}
	return &Algorithm{
		cfg:         cfg,
		book:        book,
		handler:     handler,
		ids:         schema.NewIDGenerator(time.Now().UnixNano()),
		now:         func() time.Time { return time.Now().UTC() },
		changeFills: make(map[int64]schema.Quantity),
	}, nil
}

// WithFillListener sets the receiver of logical fills.
func (a *Algorithm) WithFillListener(l FillListener) *Algorithm {
	a.fills = l
	return a
}

// WithCommandListener sets the observer of broker commands.
func (a *Algorithm) WithCommandListener(l CommandListener) *Algorithm {
	a.commands = l
	return a
}

// WithTickSync sets the waiting-for-match receiver.
func (a *Algorithm) WithTickSync(t TickSync) *Algorithm {
	a.tick = t
	return a
}

// WithRisk gates creates and changes through the risk engine.
func (a *Algorithm) WithRisk(r *risk.Engine) *Algorithm {
	a.risk = r
	return a
}

// WithMetrics attaches metrics.
func (a *Algorithm) WithMetrics(m *obs.Metrics) *Algorithm {
	a.metrics = m
	return a
}

// WithIDGenerator swaps the broker order id generator.
func (a *Algorithm) WithIDGenerator(ids *schema.IDGenerator) *Algorithm {
	if ids != nil {
		a.ids = ids
	}
	return a
}

// WithClock swaps the time source.
func (a *Algorithm) WithClock(now func() time.Time) *Algorithm {
	if now != nil {
		a.now = now
	}
	return a
}

// Symbol returns the symbol the engine reconciles.
func (a *Algorithm) Symbol() string {
	return a.cfg.Symbol
}

// Recency returns the current recency counter.
func (a *Algorithm) Recency() int64 {
	return a.recency
}

// WaitingForMatch reports whether a position change still waits for a compare pass.
func (a *Algorithm) WaitingForMatch() bool {
	return a.waitingForMatch
}

// Halted returns the error that tripped the breaker, if any.
func (a *Algorithm) Halted() error {
	return a.halted
}

// SetReferencePrice updates the price used by risk checks of market orders.
func (a *Algorithm) SetReferencePrice(price schema.Price) {
	a.referencePrice = price
}

// LogicalOrders returns a copy of the buffered logical orders.
func (a *Algorithm) LogicalOrders() []schema.LogicalOrder {
	return slices.Clone(a.logicals)
}

// PositionChange applies a strategy update. Updates older than the current
// recency are ignored. When the broker connection is recovered the compare
// pass runs immediately, otherwise the symbol is marked waiting for a match.
func (a *Algorithm) PositionChange(detail schema.PositionChangeDetail, isRecovered bool) error {
	if a.halted != nil {
		return a.halted
	}
	if detail.Recency < a.recency {
		a.metrics.IncStaleUpdate()
		logs.Debugf("ignore stale position change, symbol: %s, recency: %d, current: %d", a.cfg.Symbol, detail.Recency, a.recency)
		return nil
	}
	a.recency = detail.Recency
	a.desiredPosition = detail.Position
	a.logicals = slices.Clone(detail.Orders)

	positions := a.book.Positions()
	for _, sp := range detail.StrategyPositions {
		if _, err := positions.SetStrategy(sp.ID, a.cfg.Symbol, sp.Position, sp.Recency); err != nil {
			return errors.Wrapf(err, "symbol: %s", a.cfg.Symbol)
		}
	}

	if !isRecovered {
		a.setWaitingForMatch(true)
		return nil
	}
	if err := a.TrySyncPosition(); err != nil {
		return err
	}
	return a.performCompare()
}

// ProcessOrders runs the compare pass.
func (a *Algorithm) ProcessOrders() error {
	if a.halted != nil {
		return a.halted
	}
	return a.performCompare()
}

func (a *Algorithm) setWaitingForMatch(waiting bool) {
	if a.waitingForMatch == waiting {
		return
	}
	a.waitingForMatch = waiting
	if a.tick != nil {
		a.tick.SetWaitingForMatch(a.cfg.Symbol, waiting)
	}
}

// trip opens the breaker. Every later entry point returns err.
func (a *Algorithm) trip(err error) error {
	if a.halted == nil {
		a.halted = err
		a.metrics.IncBreakerTrip()
		logs.Errorf("engine halted, symbol: %s, err: %+v", a.cfg.Symbol, err)
	}
	return a.halted
}

func (a *Algorithm) findLogical(serial int64) (schema.LogicalOrder, bool) {
	for _, l := range a.logicals {
		if l.SerialNumber == serial {
			return l, true
		}
	}
	return schema.LogicalOrder{}, false
}
