package chaos

import (
	"math/rand"
	"time"

	"github.com/yanun0323/errors"

	"reconciler/internal/og"
	"reconciler/internal/schema"
)

// Config controls chaos injection behavior. Fills are never dropped or
// duplicated, a venue that loses executions is out of scope.
type Config struct {
	Seed          int64   `json:"seed" yaml:"seed"`
	DropRate      float64 `json:"dropRate" yaml:"dropRate"`
	DuplicateRate float64 `json:"duplicateRate" yaml:"duplicateRate"`
	RejectRate    float64 `json:"rejectRate" yaml:"rejectRate"`
	ReorderWindow int     `json:"reorderWindow" yaml:"reorderWindow"`
}

// Stats counts what the engine did to the event stream.
type Stats struct {
	Dropped    int
	Duplicated int
	Rejected   int
	Reordered  int
}

// Engine applies chaos rules to broker events. It implements og.Injector.
type Engine struct {
	cfg     Config
	rng     *rand.Rand
	pending []og.BrokerEvent
	stats   Stats
}

// NewEngine creates a chaos engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	for name, rate := range map[string]float64{"dropRate": c.DropRate, "duplicateRate": c.DuplicateRate, "rejectRate": c.RejectRate} {
		if rate < 0 || rate > 1 {
			return errors.Errorf("%s must be between 0 and 1", name)
		}
	}
	if c.ReorderWindow <= 0 {
		return errors.New("reorderWindow must be >= 1")
	}
	return nil
}

// Stats returns the injected fault counts.
func (e *Engine) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	return e.stats
}

// Process applies chaos to a single event and returns any output events.
func (e *Engine) Process(ev og.BrokerEvent) []og.BrokerEvent {
	if e == nil || ev.Type == schema.EventFill {
		return []og.BrokerEvent{ev}
	}
	if e.shouldReject(ev) {
		e.stats.Rejected++
		return []og.BrokerEvent{{Type: schema.EventReject, Symbol: ev.Symbol, BrokerOrder: ev.BrokerOrder}}
	}
	if e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate {
		e.stats.Dropped++
		return nil
	}
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(ev)
	}
	e.pending = append(e.pending, ev)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	idx := e.rng.Intn(len(e.pending))
	if idx != 0 {
		e.stats.Reordered++
	}
	out := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return e.applyDuplicate(out)
}

// Flush returns any buffered events.
func (e *Engine) Flush() []og.BrokerEvent {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]og.BrokerEvent, 0, len(e.pending))
	for len(e.pending) > 0 {
		idx := e.rng.Intn(len(e.pending))
		ev := e.pending[idx]
		e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
		out = append(out, e.applyDuplicate(ev)...)
	}
	return out
}

// shouldReject turns create and change confirmations into rejects.
func (e *Engine) shouldReject(ev og.BrokerEvent) bool {
	if ev.Type != schema.EventConfirmCreate && ev.Type != schema.EventConfirmChange {
		return false
	}
	return e.cfg.RejectRate > 0 && e.rng.Float64() < e.cfg.RejectRate
}

func (e *Engine) applyDuplicate(ev og.BrokerEvent) []og.BrokerEvent {
	out := []og.BrokerEvent{ev}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		e.stats.Duplicated++
		out = append(out, ev)
	}
	return out
}
