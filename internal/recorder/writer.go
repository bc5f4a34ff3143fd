package recorder

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/alitto/pond"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"reconciler/pkg/exception"
)

// Writer appends snapshot records to the active file on a single background
// worker and rolls files over once the active file grows past RolloverSize.
type Writer struct {
	cfg        Config
	pool       *pond.WorkerPool
	openPolicy retrypolicy.RetryPolicy[any]
	movePolicy retrypolicy.RetryPolicy[any]
	pending    sync.WaitGroup
	err        atomic.Value

	// owned by the worker
	file *os.File
	size int64

	rolloverNext uint32
	closed       uint32
}

// NewWriter creates a snapshot writer and ensures the target directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	w := &Writer{
		cfg:        cfg,
		openPolicy: newRetryPolicy(cfg.OpenAttempts, cfg.OpenBackoff),
		movePolicy: newRetryPolicy(cfg.MoveAttempts, cfg.MoveBackoff),
	}
	w.pool = pond.New(1, cfg.QueueSize, pond.PanicHandler(func(p interface{}) {
		w.setErr(errors.Errorf("snapshot writer panic: %v", p))
		logs.Errorf("snapshot writer panic: %v", p)
	}))
	return w, nil
}

// Config returns the effective configuration.
func (w *Writer) Config() Config {
	return w.cfg
}

// Append frames payload and schedules the write. It never blocks on disk I/O
// unless the queue is full.
func (w *Writer) Append(payload []byte) error {
	if atomic.LoadUint32(&w.closed) != 0 {
		return exception.ErrStoreClosed
	}
	if err := w.Err(); err != nil {
		return err
	}
	record := AppendRecord(make([]byte, 0, lengthSize+minRecordBody+len(payload)), payload, 0)
	w.submit(func() error {
		return w.writeRecord(record)
	})
	return nil
}

// ForceRollover makes the next record start a fresh active file.
func (w *Writer) ForceRollover() {
	atomic.StoreUint32(&w.rolloverNext, 1)
}

// Wait blocks until every scheduled write has finished and returns the first
// write error, if any.
func (w *Writer) Wait() error {
	w.pending.Wait()
	return w.Err()
}

// Close waits for pending writes, stops the worker and closes the active file.
func (w *Writer) Close() error {
	if !atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		return w.Err()
	}
	w.pending.Wait()
	w.pool.StopAndWait()
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			w.setErr(err)
		}
		w.file = nil
	}
	return w.Err()
}

// Err returns the first error observed by the writer, if any.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(errBox).err
	}
	return nil
}

func (w *Writer) submit(task func() error) {
	w.pending.Add(1)
	w.pool.Submit(func() {
		defer w.pending.Done()
		if err := task(); err != nil {
			w.setErr(err)
			logs.Errorf("write snapshot, err: %+v", err)
		}
	})
}

func (w *Writer) writeRecord(record []byte) error {
	if atomic.CompareAndSwapUint32(&w.rolloverNext, 1, 0) || w.size >= w.cfg.RolloverSize {
		if err := w.rollover(); err != nil {
			return err
		}
	}
	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	n, err := w.file.Write(record)
	w.size += int64(n)
	if err != nil {
		return errors.Wrapf(err, "write %s", ActivePath(w.cfg))
	}
	if w.cfg.DisableSync {
		return nil
	}
	return w.file.Sync()
}

func (w *Writer) rollover() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return err
		}
		w.file = nil
	}
	if err := rotate(w.cfg, w.movePolicy); err != nil {
		return errors.Wrap(exception.ErrStoreUnavailable, err.Error())
	}
	w.size = 0
	return nil
}

func (w *Writer) open() error {
	path := ActivePath(w.cfg)
	var file *os.File
	err := failsafe.With[any](w.openPolicy).Run(func() error {
		var err error
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		return err
	})
	if err != nil {
		return errors.Wrapf(exception.ErrStoreUnavailable, "open %s: %v", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *Writer) setErr(err error) {
	if err == nil {
		return
	}
	w.err.CompareAndSwap(nil, errBox{err: err})
}

// errBox keeps the stored type stable for atomic.Value.
type errBox struct {
	err error
}
