package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"reconciler/internal/obs"
	"reconciler/internal/recorder"
	"reconciler/pkg/exception"
)

const defaultAutoSnapshotUpdates = 100

// Config controls the order store.
type Config struct {
	Recorder            recorder.Config
	AutoSnapshotUpdates int // snapshot once more than this many index mutations happened
}

// Store is a Cache that persists itself as binary snapshots and recovers from them.
//
// Snapshots are encoded on the caller's goroutine while holding the index
// guard; the disk write runs on the recorder's background worker.
type Store struct {
	*Cache

	cfg     Config
	writer  *recorder.Writer
	metrics *obs.Metrics
	now     func() time.Time

	snapMu  sync.Mutex
	updates atomic.Int64
	needed  atomic.Bool

	seqMu             sync.Mutex
	remoteSequence    int64
	localSequence     int64
	lastSequenceReset time.Time
}

// New creates a store writing snapshots under cfg.Recorder.Dir.
func New(cfg Config) (*Store, error) {
	if cfg.AutoSnapshotUpdates <= 0 {
		cfg.AutoSnapshotUpdates = defaultAutoSnapshotUpdates
	}
	writer, err := recorder.NewWriter(cfg.Recorder)
	if err != nil {
		return nil, err
	}
	s := &Store{
		Cache:  NewCache(),
		cfg:    cfg,
		writer: writer,
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.Cache.onCommit = s.onCommit
	return s, nil
}

// WithMetrics attaches metrics to the store.
func (s *Store) WithMetrics(m *obs.Metrics) *Store {
	s.metrics = m
	return s
}

// Name returns the snapshot file name of the store.
func (s *Store) Name() string {
	if s.writer == nil {
		return s.cfg.Recorder.Name
	}
	return s.writer.Config().Name
}

func (s *Store) onCommit(updates int) {
	if s.updates.Add(int64(updates)) <= int64(s.cfg.AutoSnapshotUpdates) {
		return
	}
	if err := s.snapshot(); err != nil {
		logs.Errorf("auto snapshot %s, err: %+v", s.Name(), err)
	}
}

// RequestSnapshot marks the store dirty; the next TrySnapshot writes it.
func (s *Store) RequestSnapshot() {
	s.needed.Store(true)
}

// TrySnapshot writes a snapshot if one was requested or the update threshold
// was passed. It reports whether a snapshot was scheduled.
func (s *Store) TrySnapshot() (bool, error) {
	if !s.needed.Load() && s.updates.Load() <= int64(s.cfg.AutoSnapshotUpdates) {
		return false, nil
	}
	if err := s.snapshot(); err != nil {
		return false, err
	}
	return true, nil
}

// ForceSnapshot waits for in-flight writes, snapshots and waits again until
// the new record is on disk.
func (s *Store) ForceSnapshot() error {
	if s.writer == nil {
		return errors.Wrapf(exception.ErrStoreUnavailable, "%s is read-only", s.Name())
	}
	if err := s.writer.Wait(); err != nil {
		return err
	}
	if err := s.snapshot(); err != nil {
		return err
	}
	return s.writer.Wait()
}

// WaitForSnapshot blocks until every scheduled snapshot write has finished.
func (s *Store) WaitForSnapshot() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Wait()
}

func (s *Store) snapshot() error {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	if s.writer == nil {
		return errors.Wrapf(exception.ErrStoreUnavailable, "%s is read-only", s.Name())
	}
	start := time.Now()
	payload, err := s.SnapshotInMemory()
	if err == nil {
		err = s.writer.Append(payload)
	}
	s.metrics.ObserveSnapshot(time.Since(start), len(payload), err)
	if err != nil {
		return errors.Wrapf(err, "snapshot %s", s.Name())
	}
	s.needed.Store(false)
	s.updates.Store(0)
	return nil
}

// Recover loads the newest valid snapshot on disk. It returns false when no
// record could be loaded, leaving the store empty. Either way the next
// snapshot starts a fresh file, so records never follow a torn tail.
func (s *Store) Recover() (bool, error) {
	if s.writer == nil {
		return false, errors.Wrap(exception.ErrStoreUnavailable, "recover read-only store")
	}
	path, err := s.SnapshotLoadLast()
	s.writer.ForceRollover()
	if err != nil {
		if errors.Is(err, exception.ErrSnapshotNotFound) {
			logs.Warnf("no snapshot recovered for %s, start empty", s.Name())
			s.reset()
			return false, nil
		}
		return false, err
	}
	logs.Infof("recovered %s from %s, orders: %d, remote seq: %d, local seq: %d",
		s.Name(), path, len(s.GetOrders()), s.RemoteSequence(), s.LocalSequence())
	return true, nil
}

// SnapshotLoadLast loads the newest record that decodes and links cleanly and
// returns the file it came from.
func (s *Store) SnapshotLoadLast() (string, error) {
	return recorder.LoadLatest(s.cfg.Recorder, func(_ string, payload []byte) error {
		return s.LoadSnapshot(payload)
	})
}

func (s *Store) reset() {
	t := s.BeginTransaction()
	t.Clear()
	t.EndTransaction()
	s.Positions().Reset()
	s.SetSequences(0, 0)
	s.updates.Store(0)
}

// Close flushes pending writes and releases the snapshot file.
func (s *Store) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

// Open loads the newest valid snapshot under cfg without opening the files
// for writing. The returned store cannot snapshot.
func Open(cfg recorder.Config) (*Store, string, error) {
	s := &Store{
		Cache: NewCache(),
		cfg:   Config{Recorder: cfg},
		now:   func() time.Time { return time.Now().UTC() },
	}
	path, err := s.SnapshotLoadLast()
	if err != nil {
		return nil, "", err
	}
	return s, path, nil
}

// RemoteSequence returns the broker-side message sequence.
func (s *Store) RemoteSequence() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return s.remoteSequence
}

// LocalSequence returns the local message sequence.
func (s *Store) LocalSequence() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return s.localSequence
}

// LastSequenceReset returns when both sequences were last reset to zero.
func (s *Store) LastSequenceReset() time.Time {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return s.lastSequenceReset
}

// SetSequences replaces both sequences. Setting both to zero records a session reset.
func (s *Store) SetSequences(remote, local int64) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.remoteSequence = remote
	s.localSequence = local
	if remote == 0 && local == 0 {
		s.lastSequenceReset = s.now()
	}
}

// UpdateLocalSequence replaces the local sequence.
func (s *Store) UpdateLocalSequence(local int64) {
	s.seqMu.Lock()
	s.localSequence = local
	s.seqMu.Unlock()
}

// UpdateRemoteSequence replaces the remote sequence.
func (s *Store) UpdateRemoteSequence(remote int64) {
	s.seqMu.Lock()
	s.remoteSequence = remote
	s.seqMu.Unlock()
}

// NextLocalSequence increments and returns the local sequence.
func (s *Store) NextLocalSequence() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.localSequence++
	return s.localSequence
}
