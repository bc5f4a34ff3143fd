package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"reconciler/internal/bus"
	"reconciler/internal/obs"
	"reconciler/internal/schema"
)

const defaultRunnerQueueSize = 4096

// Event is one input of a symbol engine.
type Event struct {
	Type        schema.EventType
	Detail      schema.PositionChangeDetail
	Fill        schema.PhysicalFill
	BrokerOrder int64
	Price       schema.Price

	// reject options
	RemoveOriginal   bool
	IsRealTime       bool
	RetryImmediately bool

	Enqueued time.Time
}

// Status is the engine state published after every event.
type Status struct {
	Symbol          string
	Recency         int64
	WaitingForMatch bool
	Halted          error
	Logicals        int
}

// Runner applies the events of one symbol on a single goroutine.
type Runner struct {
	alg       *Algorithm
	queue     *bus.Queue[Event]
	metrics   *obs.Metrics
	recovered atomic.Bool
	status    atomic.Pointer[Status]
}

// NewRunner wraps alg with an event queue of the given capacity.
func NewRunner(alg *Algorithm, capacity int) *Runner {
	if capacity <= 0 {
		capacity = defaultRunnerQueueSize
	}
	r := &Runner{
		alg:   alg,
		queue: bus.NewQueue[Event](capacity),
	}
	r.recovered.Store(true)
	r.publish()
	return r
}

// WithMetrics attaches metrics for queue drops and event latency.
func (r *Runner) WithMetrics(m *obs.Metrics) *Runner {
	r.metrics = m
	return r
}

// Symbol returns the symbol of the wrapped engine.
func (r *Runner) Symbol() string {
	return r.alg.Symbol()
}

// Algorithm returns the wrapped engine. Only call it from event handlers or
// after Run returned.
func (r *Runner) Algorithm() *Algorithm {
	return r.alg
}

// SetRecovered marks the broker connection as usable. Position changes that
// arrive while it is not only mark the symbol waiting for a match.
func (r *Runner) SetRecovered(recovered bool) {
	r.recovered.Store(recovered)
}

// Status returns the state published after the last event. It is safe to call
// from any goroutine.
func (r *Runner) Status() Status {
	return *r.status.Load()
}

func (r *Runner) publish() {
	r.status.Store(&Status{
		Symbol:          r.alg.Symbol(),
		Recency:         r.alg.Recency(),
		WaitingForMatch: r.alg.WaitingForMatch(),
		Halted:          r.alg.Halted(),
		Logicals:        len(r.alg.logicals),
	})
}

// Pending returns the number of queued events.
func (r *Runner) Pending() int {
	return r.queue.Len()
}

// Submit enqueues an event without blocking.
func (r *Runner) Submit(e Event) error {
	if e.Enqueued.IsZero() {
		e.Enqueued = time.Now()
	}
	err := r.queue.TryPublish(e)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bus.ErrQueueClosed):
		r.metrics.IncQueueClosed()
	default:
		r.metrics.IncQueueDrop()
	}
	logs.Warnf("drop event, symbol: %s, type: %s, err: %+v", r.alg.Symbol(), e.Type, err)
	return err
}

// SubmitPositionChange enqueues a strategy update.
func (r *Runner) SubmitPositionChange(detail schema.PositionChangeDetail) error {
	return r.Submit(Event{Type: schema.EventPositionChange, Detail: detail})
}

// SubmitProcessOrders enqueues a compare request.
func (r *Runner) SubmitProcessOrders() error {
	return r.Submit(Event{Type: schema.EventProcessOrders})
}

// OnFill enqueues a broker fill.
func (r *Runner) OnFill(fill schema.PhysicalFill) error {
	return r.Submit(Event{Type: schema.EventFill, Fill: fill, BrokerOrder: fill.BrokerOrder})
}

// OnConfirm enqueues a broker confirmation of the given type.
func (r *Runner) OnConfirm(typ schema.EventType, brokerOrder int64) error {
	switch typ {
	case schema.EventConfirmActive, schema.EventConfirmCreate, schema.EventConfirmChange, schema.EventConfirmCancel:
	default:
		return errors.Errorf("event %s is not a confirmation", typ)
	}
	return r.Submit(Event{Type: typ, BrokerOrder: brokerOrder})
}

// OnReject enqueues a broker reject.
func (r *Runner) OnReject(brokerOrder int64, removeOriginal, retryImmediately bool) error {
	return r.Submit(Event{
		Type:             schema.EventReject,
		BrokerOrder:      brokerOrder,
		RemoveOriginal:   removeOriginal,
		IsRealTime:       true,
		RetryImmediately: retryImmediately,
	})
}

// OnTick enqueues a market price. A symbol waiting for a match is compared
// once the broker connection is recovered.
func (r *Runner) OnTick(price schema.Price) error {
	return r.Submit(Event{Type: schema.EventTick, Price: price})
}

// Close stops accepting events. Run returns after the queued ones are applied.
func (r *Runner) Close() {
	r.queue.Close()
}

// Run applies events until ctx is done, the runner is closed, or the engine
// halts. A halted engine is returned as an error.
func (r *Runner) Run(ctx context.Context) error {
	logs.Infof("runner started, symbol: %s", r.alg.Symbol())
	err := r.queue.Run(ctx, r.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		logs.Errorf("runner stopped, symbol: %s, err: %+v", r.alg.Symbol(), err)
		return err
	}
	logs.Infof("runner stopped, symbol: %s", r.alg.Symbol())
	return nil
}

func (r *Runner) handle(e Event) error {
	r.metrics.ObserveEvent(e.Type, time.Since(e.Enqueued))
	err := r.apply(e)
	r.publish()
	if err == nil {
		return nil
	}
	if halted := r.alg.Halted(); halted != nil {
		return halted
	}
	logs.Errorf("apply event, symbol: %s, type: %s, broker order: %d, err: %+v", r.alg.Symbol(), e.Type, e.BrokerOrder, err)
	return nil
}

func (r *Runner) apply(e Event) error {
	recovered := r.recovered.Load()
	switch e.Type {
	case schema.EventPositionChange:
		return r.alg.PositionChange(e.Detail, recovered)
	case schema.EventProcessOrders:
		return r.alg.ProcessOrders()
	case schema.EventFill:
		return r.alg.ProcessFill(e.Fill)
	case schema.EventConfirmActive:
		return r.alg.ConfirmActive(e.BrokerOrder, recovered)
	case schema.EventConfirmCreate:
		return r.alg.ConfirmCreate(e.BrokerOrder, recovered)
	case schema.EventConfirmChange:
		return r.alg.ConfirmChange(e.BrokerOrder, recovered)
	case schema.EventConfirmCancel:
		return r.alg.ConfirmCancel(e.BrokerOrder, recovered)
	case schema.EventReject:
		return r.alg.RejectOrder(e.BrokerOrder, e.RemoveOriginal, e.IsRealTime, e.RetryImmediately)
	case schema.EventTick:
		r.alg.SetReferencePrice(e.Price)
		if recovered && r.alg.WaitingForMatch() {
			return r.alg.ProcessOrders()
		}
		return nil
	default:
		return errors.Errorf("unknown event type %d", e.Type)
	}
}
