package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"reconciler/internal/schema"
)

const (
	defaultBufferSize    = 1024
	defaultBatchSize     = 256
	defaultFlushInterval = time.Second
	defaultWriteAttempts = 3
	defaultWriteBackoff  = 200 * time.Millisecond
)

// Sink persists journal batches.
type Sink interface {
	Write(ctx context.Context, commands []CommandRow, fills []FillRow) error
}

// Config controls buffering and flushing.
type Config struct {
	BufferSize    int           `json:"bufferSize" yaml:"bufferSize"`
	BatchSize     int           `json:"batchSize" yaml:"batchSize"`
	FlushInterval time.Duration `json:"flushInterval" yaml:"flushInterval"`
	WriteAttempts int           `json:"writeAttempts" yaml:"writeAttempts"`
	WriteBackoff  time.Duration `json:"writeBackoff" yaml:"writeBackoff"`
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.WriteAttempts <= 0 {
		c.WriteAttempts = defaultWriteAttempts
	}
	if c.WriteBackoff <= 0 {
		c.WriteBackoff = defaultWriteBackoff
	}
	return c
}

type entry struct {
	command *CommandRow
	fill    *FillRow
}

// Journal records broker commands and logical fills of one run. It is both a
// core.CommandListener and a core.FillListener and never blocks the engine:
// rows that do not fit the buffer are dropped and counted.
type Journal struct {
	cfg    Config
	runID  string
	sink   Sink
	policy retrypolicy.RetryPolicy[any]
	ch     chan entry
	wg     sync.WaitGroup
	once   sync.Once

	dropped atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64
}

// New creates a journal with a fresh run id.
func New(cfg Config, sink Sink) (*Journal, error) {
	if sink == nil {
		return nil, errors.New("journal sink is nil")
	}
	cfg = cfg.withDefaults()
	return &Journal{
		cfg:   cfg,
		runID: uuid.NewString(),
		sink:  sink,
		policy: retrypolicy.NewBuilder[any]().
			WithDelay(cfg.WriteBackoff).
			WithMaxRetries(cfg.WriteAttempts - 1).
			Build(),
		ch: make(chan entry, cfg.BufferSize),
	}, nil
}

// RunID identifies the rows of this process.
func (j *Journal) RunID() string {
	return j.runID
}

// Dropped returns the number of rows lost to a full buffer.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Written returns the number of rows persisted.
func (j *Journal) Written() uint64 { return j.written.Load() }

// Failed returns the number of rows lost to sink errors.
func (j *Journal) Failed() uint64 { return j.failed.Load() }

// OnCommand journals a broker command.
func (j *Journal) OnCommand(order *schema.PhysicalOrder, accepted bool) {
	row := newCommandRow(j.runID, order, accepted)
	j.push(entry{command: &row})
}

// OnLogicalFill journals a logical fill.
func (j *Journal) OnLogicalFill(fill schema.LogicalFill) {
	row := newFillRow(j.runID, fill)
	j.push(entry{fill: &row})
}

func (j *Journal) push(e entry) {
	defer func() {
		if recover() != nil {
			j.dropped.Add(1)
		}
	}()
	select {
	case j.ch <- e:
	default:
		j.dropped.Add(1)
	}
}

// Start runs the flusher until Close.
func (j *Journal) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop(ctx)
	}()
}

// Close stops accepting rows and waits for the buffered ones to be written.
func (j *Journal) Close() {
	j.once.Do(func() {
		close(j.ch)
	})
	j.wg.Wait()
}

func (j *Journal) loop(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	var (
		commands []CommandRow
		fills    []FillRow
	)
	flush := func() {
		if len(commands) == 0 && len(fills) == 0 {
			return
		}
		j.write(ctx, commands, fills)
		commands, fills = nil, nil
	}

	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				flush()
				return
			}
			if e.command != nil {
				commands = append(commands, *e.command)
			}
			if e.fill != nil {
				fills = append(fills, *e.fill)
			}
			if len(commands)+len(fills) >= j.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (j *Journal) write(ctx context.Context, commands []CommandRow, fills []FillRow) {
	n := uint64(len(commands) + len(fills))
	err := failsafe.With[any](j.policy).Run(func() error {
		return j.sink.Write(context.WithoutCancel(ctx), commands, fills)
	})
	if err != nil {
		j.failed.Add(n)
		logs.Errorf("write journal, run: %s, rows: %d, err: %+v", j.runID, n, err)
		return
	}
	j.written.Add(n)
}
